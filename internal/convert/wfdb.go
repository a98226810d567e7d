package convert

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"ecgbatch/internal/dicomwave"
	"ecgbatch/internal/fileutil"
	"ecgbatch/internal/wfdb"
)

const (
	defaultManufacturer = "ecgbatch"
	unknownPatient      = "UNKNOWN"
)

// Metadata columns read by the WFDB converter.
const (
	ColumnSubjectID      = "subject_id"
	ColumnCartID         = "cart_id"
	ColumnECGTime        = "ecg_time"
	ColumnLowpassFilter  = "lowpassfilter"
	ColumnHighpassFilter = "highpassfilter"
)

var metadataTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// WFDB converts WFDB records to DICOM 12-lead ECG waveform files.
type WFDB struct {
	Manufacturer string
	// Now and UID are injectable for tests.
	Now func() time.Time
	UID func() string
}

// NewWFDB returns a converter with production defaults.
func NewWFDB() *WFDB {
	return &WFDB{Manufacturer: defaultManufacturer, Now: time.Now, UID: NewUID}
}

// Convert implements Converter.
func (c *WFDB) Convert(ctx context.Context, req Request) (string, error) {
	rec, err := wfdb.ReadRecord(req.SourcePath)
	if err != nil {
		return "", err
	}
	if err := checkRecord(rec); err != nil {
		return "", err
	}
	ds, err := c.buildDataset(req, rec)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	err = fileutil.WriteFileAtomic(req.OutputPath, 0o644, func(w io.Writer) error {
		return dicomwave.Write(w, ds)
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", req.OutputPath, err)
	}
	return req.OutputPath, nil
}

func checkRecord(rec *wfdb.Record) error {
	h := rec.Header
	switch {
	case len(h.Signals) == 0:
		return fmt.Errorf("record %s has no signals", h.Record)
	case len(h.Signals) > 0xFFFF:
		return fmt.Errorf("record %s has too many signals (%d)", h.Record, len(h.Signals))
	case h.Fs <= 0:
		return fmt.Errorf("record %s has non-positive sampling frequency %v", h.Record, h.Fs)
	case h.NumSamples <= 0:
		return fmt.Errorf("record %s has no samples", h.Record)
	}
	for i, samples := range rec.Samples {
		if len(samples) != h.NumSamples {
			return fmt.Errorf("signal %d has %d samples, expected %d", i, len(samples), h.NumSamples)
		}
	}
	return nil
}

func (c *WFDB) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *WFDB) uid() string {
	if c.UID != nil {
		return c.UID()
	}
	return NewUID()
}

// acquisitionTime prefers the header base time, then the metadata ecg_time,
// then the current time.
func (c *WFDB) acquisitionTime(h *wfdb.Header, req Request) time.Time {
	if h.HasBaseTime {
		return h.BaseTime
	}
	if raw := req.Metadata.Get(ColumnECGTime); raw != "" {
		for _, layout := range metadataTimeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts
			}
		}
	}
	return c.now()
}

func patientID(h *wfdb.Header, req Request) string {
	if id := h.SubjectID(); id != "" {
		return id
	}
	if id := req.Metadata.Get(ColumnSubjectID); id != "" {
		return strings.TrimSuffix(id, ".0")
	}
	return unknownPatient
}

func (c *WFDB) buildDataset(req Request, rec *wfdb.Record) (dicomwave.Elements, error) {
	h := rec.Header
	acquired := c.acquisitionTime(h, req)
	date := acquired.Format("20060102")
	clock := acquired.Format("150405")
	manufacturer := c.Manufacturer
	if manufacturer == "" {
		manufacturer = defaultManufacturer
	}

	waveform, err := waveformItem(req, rec)
	if err != nil {
		return nil, err
	}
	b := dicomwave.NewBuilder().
		Text(tag.SpecificCharacterSet, "ISO_IR 192").
		Text(tag.SOPClassUID, dicomwave.TwelveLeadECGWaveformStorage).
		Text(tag.SOPInstanceUID, c.uid()).
		Text(tag.StudyDate, date).
		Text(tag.ContentDate, date).
		Text(tag.AcquisitionDateTime, date+clock).
		Text(tag.StudyTime, clock).
		Text(tag.ContentTime, clock).
		Text(tag.AccessionNumber).
		Text(tag.Modality, "ECG").
		Text(tag.Manufacturer, truncate(manufacturer, 64)).
		Text(tag.PatientName).
		Text(tag.PatientID, truncate(patientID(h, req), 64)).
		Text(tag.PatientBirthDate).
		Text(tag.PatientSex).
		Text(tag.StudyInstanceUID, c.uid()).
		Text(tag.SeriesInstanceUID, c.uid()).
		Text(tag.StudyID, truncate(req.StudyKey, 16)).
		IntString(tag.SeriesNumber, 1).
		IntString(tag.InstanceNumber, 1).
		Sequence(tag.WaveformSequence, waveform)
	if cart := req.Metadata.Get(ColumnCartID); cart != "" {
		b.Text(tag.StationName, truncate(strings.TrimSuffix(cart, ".0"), 16))
	}
	return b.Build()
}

func waveformItem(req Request, rec *wfdb.Record) (*dicomwave.Builder, error) {
	h := rec.Header
	lowFilter, err := optionalFloat(req, ColumnHighpassFilter)
	if err != nil {
		return nil, err
	}
	highFilter, err := optionalFloat(req, ColumnLowpassFilter)
	if err != nil {
		return nil, err
	}

	bitsStored := 16
	for _, sig := range h.Signals {
		if sig.Format == 212 {
			bitsStored = 12
		}
	}
	channels := make([]*dicomwave.Builder, len(h.Signals))
	for i, sig := range h.Signals {
		channels[i] = channelItem(i, sig, bitsStored, lowFilter, highFilter)
	}

	// Multiplexed layout: frame by frame, channel by channel.
	nch := len(h.Signals)
	payload := make([]byte, nch*h.NumSamples*2)
	for s := 0; s < h.NumSamples; s++ {
		for ch := 0; ch < nch; ch++ {
			binary.LittleEndian.PutUint16(payload[2*(s*nch+ch):], uint16(rec.Samples[ch][s]))
		}
	}

	return dicomwave.NewBuilder().
		Text(tag.WaveformOriginality, "ORIGINAL").
		Uint(tag.NumberOfWaveformChannels, nch).
		Uint(tag.NumberOfWaveformSamples, h.NumSamples).
		Decimal(tag.SamplingFrequency, h.Fs).
		Text(tag.MultiplexGroupLabel, "RHYTHM").
		Sequence(tag.ChannelDefinitionSequence, channels...).
		Uint(tag.WaveformBitsAllocated, 16).
		Text(tag.WaveformSampleInterpretation, "SS").
		Bytes(tag.WaveformData, payload), nil
}

func channelItem(index int, sig wfdb.Signal, bitsStored int, lowFilter, highFilter *float64) *dicomwave.Builder {
	label := sig.Description
	if label == "" {
		label = "CH" + strconv.Itoa(index+1)
	}
	code := lookupLead(label)
	item := dicomwave.NewBuilder().
		IntString(tag.WaveformChannelNumber, index+1).
		Text(tag.ChannelLabel, truncate(label, 16)).
		Sequence(tag.ChannelSourceSequence, dicomwave.NewBuilder().
			Text(tag.CodeValue, code.value).
			Text(tag.CodingSchemeDesignator, code.scheme).
			Text(tag.CodeMeaning, code.meaning)).
		Decimal(tag.ChannelSensitivity, 1/sig.Gain).
		Sequence(tag.ChannelSensitivityUnitsSequence, dicomwave.NewBuilder().
			Text(tag.CodeValue, "mV").
			Text(tag.CodingSchemeDesignator, "UCUM").
			Text(tag.CodeMeaning, "millivolt")).
		Decimal(tag.ChannelSensitivityCorrectionFactor, 1).
		Decimal(tag.ChannelBaseline, -float64(sig.Baseline)/sig.Gain).
		Decimal(tag.ChannelSampleSkew, 0).
		Uint(tag.WaveformBitsStored, bitsStored)
	if lowFilter != nil {
		item.Decimal(tag.FilterLowFrequency, *lowFilter)
	}
	if highFilter != nil {
		item.Decimal(tag.FilterHighFrequency, *highFilter)
	}
	return item
}

func optionalFloat(req Request, column string) (*float64, error) {
	raw := req.Metadata.Get(column)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: invalid number %q", column, raw)
	}
	return &v, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
