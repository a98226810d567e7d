// Package validator performs structural checks on produced waveform files.
//
// The checks confirm the payload is internally consistent with its declared
// shape. They say nothing about clinical content.
package validator

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/suyashkumar/dicom/pkg/tag"

	"ecgbatch/internal/dicomwave"
	"ecgbatch/internal/failure"
)

// Validate checks the artifact at path and returns nil or a
// failure.KindValidationFailed error naming the first failed check.
func Validate(path string) error {
	file, err := dicomwave.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failure.New(failure.KindValidationFailed, "output file missing: %s", path)
		}
		return failure.New(failure.KindValidationFailed, "unreadable DICOM: %v", err)
	}
	return Dataset(file.Body)
}

// Dataset applies the structural checks to an already parsed dataset.
func Dataset(es dicomwave.Elements) error {
	items := es.Items(tag.WaveformSequence)
	if len(items) == 0 {
		return invalid("no WaveformSequence")
	}
	wf := items[0]

	channels, err := positiveInt(wf, tag.NumberOfWaveformChannels)
	if err != nil {
		return err
	}
	samples, err := positiveInt(wf, tag.NumberOfWaveformSamples)
	if err != nil {
		return err
	}

	fs, err := wf.Float(tag.SamplingFrequency)
	if err != nil {
		return invalid("SamplingFrequency: %v", err)
	}
	if fs <= 0 {
		return invalid("SamplingFrequency must be positive, got %v", fs)
	}

	data, ok := wf.Bytes(tag.WaveformData)
	if !ok {
		return invalid("WaveformData missing")
	}
	expected := channels * samples * 2
	if len(data) != expected {
		return invalid("WaveformData length %d, expected %d (%d channels x %d samples x 2 bytes)", len(data), expected, channels, samples)
	}

	bits, err := wf.Int(tag.WaveformBitsAllocated)
	if err != nil {
		return invalid("WaveformBitsAllocated: %v", err)
	}
	if bits != 16 {
		return invalid("WaveformBitsAllocated %d, expected 16", bits)
	}
	if interp := wf.Text(tag.WaveformSampleInterpretation); interp != "SS" {
		return invalid("WaveformSampleInterpretation %q, expected SS", interp)
	}
	return nil
}

func positiveInt(es dicomwave.Elements, t tag.Tag) (int, error) {
	name := dicomwave.TagName(t)
	n, err := es.Int(t)
	if err != nil {
		return 0, invalid("%s: %v", name, err)
	}
	if n <= 0 {
		return 0, invalid("%s must be positive, got %d", name, n)
	}
	return n, nil
}

func invalid(format string, args ...any) error {
	return failure.New(failure.KindValidationFailed, "%s", fmt.Sprintf(format, args...))
}
