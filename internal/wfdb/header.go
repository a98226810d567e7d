package wfdb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Signal describes one channel of a record.
type Signal struct {
	File        string
	Format      int
	ByteOffset  int64
	Gain        float64
	Baseline    int
	Units       string
	ADCRes      int
	ADCZero     int
	InitValue   int
	Checksum    int
	BlockSize   int
	Description string
}

// Header is a parsed record header.
type Header struct {
	Record     string
	NumSignals int
	Fs         float64
	NumSamples int
	// BaseTime is the record start. HasBaseTime is false when the header
	// lacks a complete base date and time.
	BaseTime    time.Time
	HasBaseTime bool
	Signals     []Signal
	Comments    []string
}

const defaultGain = 200

// ReadHeader parses the header file at path.
func ReadHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	h, err := ParseHeader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ParseHeader parses a WFDB header.
func ParseHeader(r io.Reader) (*Header, error) {
	scanner := bufio.NewScanner(r)
	h := &Header{}
	haveRecord := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			h.Comments = append(h.Comments, strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		if !haveRecord {
			if err := h.parseRecordLine(line); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			haveRecord = true
			continue
		}
		if len(h.Signals) == h.NumSignals {
			return nil, fmt.Errorf("line %d: more signal lines than the %d declared", lineNo, h.NumSignals)
		}
		sig, err := parseSignalLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		h.Signals = append(h.Signals, sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !haveRecord {
		return nil, fmt.Errorf("missing record line")
	}
	if len(h.Signals) != h.NumSignals {
		return nil, fmt.Errorf("declared %d signals, found %d", h.NumSignals, len(h.Signals))
	}
	return h, nil
}

func (h *Header) parseRecordLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("record line needs a name and signal count: %q", line)
	}
	name := fields[0]
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return fmt.Errorf("multi-segment records are not supported: %q", name)
	}
	h.Record = name
	nsig, err := strconv.Atoi(fields[1])
	if err != nil || nsig < 0 {
		return fmt.Errorf("invalid signal count %q", fields[1])
	}
	h.NumSignals = nsig
	h.Fs = 250
	if len(fields) > 2 {
		freq := fields[2]
		if idx := strings.IndexAny(freq, "/("); idx >= 0 {
			freq = freq[:idx]
		}
		if h.Fs, err = strconv.ParseFloat(freq, 64); err != nil {
			return fmt.Errorf("invalid sampling frequency %q", fields[2])
		}
	}
	if len(fields) > 3 {
		if h.NumSamples, err = strconv.Atoi(fields[3]); err != nil || h.NumSamples < 0 {
			return fmt.Errorf("invalid sample count %q", fields[3])
		}
	}
	if len(fields) > 5 {
		if ts, ok := parseBaseTime(fields[4], fields[5]); ok {
			h.BaseTime = ts
			h.HasBaseTime = true
		}
	}
	return nil
}

// parseBaseTime combines a WFDB base time (HH:MM:SS) and date (DD/MM/YYYY).
func parseBaseTime(clock, date string) (time.Time, bool) {
	for _, layout := range []string{"02/01/2006 15:04:05", "02/01/2006 15:04:05.000", "2/1/2006 15:04:05", "02/01/2006 15:04"} {
		if ts, err := time.Parse(layout, date+" "+clock); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseSignalLine(line string) (Signal, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Signal{}, fmt.Errorf("signal line needs a file name and format: %q", line)
	}
	sig := Signal{File: fields[0], Gain: defaultGain, ADCRes: 12}

	format := fields[1]
	if idx := strings.IndexByte(format, '+'); idx >= 0 {
		offset, err := strconv.ParseInt(format[idx+1:], 10, 64)
		if err != nil || offset < 0 {
			return Signal{}, fmt.Errorf("invalid byte offset in %q", format)
		}
		sig.ByteOffset = offset
		format = format[:idx]
	}
	if strings.ContainsAny(format, "x:") {
		return Signal{}, fmt.Errorf("samples-per-frame and skew modifiers are not supported: %q", fields[1])
	}
	f, err := strconv.Atoi(format)
	if err != nil {
		return Signal{}, fmt.Errorf("invalid format %q", fields[1])
	}
	sig.Format = f

	if len(fields) > 2 {
		if err := sig.parseGain(fields[2]); err != nil {
			return Signal{}, err
		}
	}
	ints := []*int{&sig.ADCRes, &sig.ADCZero, &sig.InitValue, &sig.Checksum, &sig.BlockSize}
	baselineSet := strings.Contains(fieldAt(fields, 2), "(")
	for i, target := range ints {
		field := fieldAt(fields, 3+i)
		if field == "" {
			break
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return Signal{}, fmt.Errorf("invalid integer field %q", field)
		}
		*target = v
	}
	if !baselineSet {
		sig.Baseline = sig.ADCZero
	}
	if len(fields) > 8 {
		sig.Description = strings.Join(fields[8:], " ")
	}
	return sig, nil
}

// parseGain reads "gain(baseline)/units"; baseline and units are optional.
func (s *Signal) parseGain(field string) error {
	gainText := field
	if idx := strings.IndexByte(gainText, '/'); idx >= 0 {
		s.Units = gainText[idx+1:]
		gainText = gainText[:idx]
	}
	if open := strings.IndexByte(gainText, '('); open >= 0 {
		end := strings.IndexByte(gainText, ')')
		if end < open {
			return fmt.Errorf("invalid baseline in %q", field)
		}
		baseline, err := strconv.Atoi(gainText[open+1 : end])
		if err != nil {
			return fmt.Errorf("invalid baseline in %q", field)
		}
		s.Baseline = baseline
		gainText = gainText[:open]
	}
	gain, err := strconv.ParseFloat(gainText, 64)
	if err != nil {
		return fmt.Errorf("invalid gain %q", field)
	}
	if gain == 0 {
		gain = defaultGain
	}
	s.Gain = gain
	return nil
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// Comment returns the value of a "<name>: value" or "name: value" header
// comment, if present.
func (h *Header) Comment(name string) (string, bool) {
	for _, comment := range h.Comments {
		key, value, ok := strings.Cut(comment, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		key = strings.TrimSuffix(strings.TrimPrefix(key, "<"), ">")
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// SubjectID returns the subject identifier recorded in the header comments.
func (h *Header) SubjectID() string {
	value, _ := h.Comment("subject_id")
	return value
}

// Format renders the header in WFDB syntax.
func (h *Header) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %d", h.Record, len(h.Signals), strconv.FormatFloat(h.Fs, 'f', -1, 64), h.NumSamples)
	if h.HasBaseTime {
		fmt.Fprintf(&b, " %s %s", h.BaseTime.Format("15:04:05"), h.BaseTime.Format("02/01/2006"))
	}
	b.WriteByte('\n')
	for _, s := range h.Signals {
		format := strconv.Itoa(s.Format)
		if s.ByteOffset > 0 {
			format += "+" + strconv.FormatInt(s.ByteOffset, 10)
		}
		gain := strconv.FormatFloat(s.Gain, 'f', -1, 64)
		if s.Baseline != s.ADCZero {
			gain += "(" + strconv.Itoa(s.Baseline) + ")"
		}
		if s.Units != "" {
			gain += "/" + s.Units
		}
		fmt.Fprintf(&b, "%s %s %s %d %d %d %d %d %s\n", s.File, format, gain, s.ADCRes, s.ADCZero, s.InitValue, s.Checksum, s.BlockSize, s.Description)
	}
	for _, c := range h.Comments {
		fmt.Fprintf(&b, "# %s\n", c)
	}
	return b.String()
}
