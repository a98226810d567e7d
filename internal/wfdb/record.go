package wfdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Record is a header plus its digital samples, one slice per signal.
type Record struct {
	Header  *Header
	Samples [][]int16
}

// ReadRecord loads the record whose path without extension is base. Signal
// files are resolved relative to the header's directory.
func ReadRecord(base string) (*Record, error) {
	base = strings.TrimSuffix(base, ".hea")
	h, err := ReadHeader(base + ".hea")
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(base)

	rec := &Record{Header: h, Samples: make([][]int16, len(h.Signals))}
	for _, group := range signalGroups(h.Signals) {
		if err := rec.readGroup(dir, group); err != nil {
			return nil, err
		}
	}
	if h.NumSamples == 0 && len(rec.Samples) > 0 {
		h.NumSamples = len(rec.Samples[0])
	}
	return rec, nil
}

// signalGroups returns runs of consecutive signals that share a file.
func signalGroups(signals []Signal) [][]int {
	var groups [][]int
	for i, s := range signals {
		if i > 0 && signals[i-1].File == s.File {
			groups[len(groups)-1] = append(groups[len(groups)-1], i)
			continue
		}
		groups = append(groups, []int{i})
	}
	return groups
}

func (r *Record) readGroup(dir string, group []int) error {
	first := r.Header.Signals[group[0]]
	for _, idx := range group[1:] {
		if r.Header.Signals[idx].Format != first.Format {
			return fmt.Errorf("signals in %s use mixed formats", first.File)
		}
	}
	path := first.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read signal file: %w", err)
	}
	if first.ByteOffset > int64(len(data)) {
		return fmt.Errorf("%s: byte offset %d beyond file size %d", first.File, first.ByteOffset, len(data))
	}
	data = data[first.ByteOffset:]

	values, err := decode(first.Format, data)
	if err != nil {
		return fmt.Errorf("%s: %w", first.File, err)
	}
	width := len(group)
	frames := len(values) / width
	want := r.Header.NumSamples
	if want > 0 {
		if frames < want {
			return fmt.Errorf("%s: holds %d samples per signal, header declares %d", first.File, frames, want)
		}
		frames = want
	}
	for j, idx := range group {
		samples := make([]int16, frames)
		for f := 0; f < frames; f++ {
			samples[f] = values[f*width+j]
		}
		r.Samples[idx] = samples
	}
	return nil
}

func decode(format int, data []byte) ([]int16, error) {
	switch format {
	case 16:
		out := make([]int16, len(data)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
		}
		return out, nil
	case 212:
		out := make([]int16, 0, len(data)/3*2)
		for i := 0; i+2 < len(data); i += 3 {
			b0, b1, b2 := int(data[i]), int(data[i+1]), int(data[i+2])
			out = append(out, signExtend12(b0|(b1&0x0F)<<8), signExtend12(b2|(b1&0xF0)<<4))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported sample format %d", format)
	}
}

func signExtend12(v int) int16 {
	if v&0x800 != 0 {
		v -= 0x1000
	}
	return int16(v)
}

func encode(format int, values []int16) ([]byte, error) {
	switch format {
	case 16:
		out := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
		}
		return out, nil
	case 212:
		out := make([]byte, 0, (len(values)+1)/2*3)
		for i := 0; i < len(values); i += 2 {
			a := int(values[i]) & 0xFFF
			b := 0
			if i+1 < len(values) {
				b = int(values[i+1]) & 0xFFF
			}
			out = append(out, byte(a&0xFF), byte((a>>8)&0x0F|(b>>4)&0xF0), byte(b&0xFF))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported sample format %d", format)
	}
}

// WriteRecord writes rec into dir as <record>.hea plus its signal files.
// Samples for signals sharing a file are interleaved frame by frame.
func WriteRecord(dir string, rec *Record) error {
	h := rec.Header
	if len(rec.Samples) != len(h.Signals) {
		return fmt.Errorf("record has %d sample slices for %d signals", len(rec.Samples), len(h.Signals))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, group := range signalGroups(h.Signals) {
		frames := len(rec.Samples[group[0]])
		values := make([]int16, 0, frames*len(group))
		for f := 0; f < frames; f++ {
			for _, idx := range group {
				if len(rec.Samples[idx]) != frames {
					return fmt.Errorf("signal %d has %d samples, expected %d", idx, len(rec.Samples[idx]), frames)
				}
				values = append(values, rec.Samples[idx][f])
			}
		}
		sig := h.Signals[group[0]]
		data, err := encode(sig.Format, values)
		if err != nil {
			return err
		}
		if sig.ByteOffset > 0 {
			data = append(make([]byte, sig.ByteOffset), data...)
		}
		if err := os.WriteFile(filepath.Join(dir, sig.File), data, 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, h.Record+".hea"), []byte(h.Format()), 0o644)
}
