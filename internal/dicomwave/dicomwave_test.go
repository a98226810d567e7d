package dicomwave_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"

	"ecgbatch/internal/dicomwave"
)

func sampleBody(t *testing.T) dicomwave.Elements {
	t.Helper()
	payload := make([]byte, 2*3*2)
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(int16(i-3)))
	}
	channel := func(label string) *dicomwave.Builder {
		return dicomwave.NewBuilder().
			Text(tag.ChannelLabel, label).
			Sequence(tag.ChannelSourceSequence, dicomwave.NewBuilder().
				Text(tag.CodeValue, "5.6.3-9-1").
				Text(tag.CodingSchemeDesignator, "SCPECG").
				Text(tag.CodeMeaning, "Lead "+label)).
			Decimal(tag.ChannelSensitivity, 0.005)
	}
	waveform := dicomwave.NewBuilder().
		Uint(tag.NumberOfWaveformChannels, 2).
		Uint(tag.NumberOfWaveformSamples, 3).
		Decimal(tag.SamplingFrequency, 500).
		Sequence(tag.ChannelDefinitionSequence, channel("I"), channel("II")).
		Uint(tag.WaveformBitsAllocated, 16).
		Text(tag.WaveformSampleInterpretation, "SS").
		Bytes(tag.WaveformData, payload)
	body, err := dicomwave.NewBuilder().
		Sequence(tag.WaveformSequence, waveform).
		Text(tag.SOPInstanceUID, "2.25.1").
		Text(tag.SOPClassUID, dicomwave.TwelveLeadECGWaveformStorage).
		Text(tag.PatientID, "10001").
		Text(tag.Modality, "ECG").
		Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	return body
}

func encode(t *testing.T, body dicomwave.Elements) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := dicomwave.Write(&buf, body); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	return buf.Bytes()
}

func parse(data []byte) (*dicomwave.File, error) {
	return dicomwave.Parse(bytes.NewReader(data), int64(len(data)))
}

func TestBuildSortsAndReplaces(t *testing.T) {
	body, err := dicomwave.NewBuilder().
		Text(tag.PatientID, "old").
		Text(tag.Modality, "ECG").
		Text(tag.PatientID, "new").
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(body))
	}
	if body[0].Tag != tag.Modality || body.Text(tag.PatientID) != "new" {
		t.Fatalf("unexpected elements %v", body)
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	file, err := parse(encode(t, sampleBody(t)))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if got := file.Meta.Text(tag.TransferSyntaxUID); got != uid.ExplicitVRLittleEndian {
		t.Fatalf("unexpected transfer syntax %q", got)
	}
	if got := file.Meta.Text(tag.MediaStorageSOPInstanceUID); got != "2.25.1" {
		t.Fatalf("unexpected media storage instance %q", got)
	}
	body := file.Body
	if body.Text(tag.PatientID) != "10001" {
		t.Fatalf("unexpected patient id %q", body.Text(tag.PatientID))
	}
	for i := 1; i < len(body); i++ {
		if body[i-1].Tag.Compare(body[i].Tag) >= 0 {
			t.Fatalf("elements not sorted: %s before %s", body[i-1].Tag, body[i].Tag)
		}
	}

	items := body.Items(tag.WaveformSequence)
	if len(items) != 1 {
		t.Fatalf("expected one waveform item, got %d", len(items))
	}
	item := items[0]
	if n, err := item.Int(tag.NumberOfWaveformChannels); err != nil || n != 2 {
		t.Fatalf("channels = %d, %v", n, err)
	}
	if n, err := item.Int(tag.NumberOfWaveformSamples); err != nil || n != 3 {
		t.Fatalf("samples = %d, %v", n, err)
	}
	if fs, err := item.Float(tag.SamplingFrequency); err != nil || fs != 500 {
		t.Fatalf("fs = %v, %v", fs, err)
	}
	if item.Text(tag.WaveformSampleInterpretation) != "SS" {
		t.Fatalf("unexpected interpretation %q", item.Text(tag.WaveformSampleInterpretation))
	}
	data, ok := item.Bytes(tag.WaveformData)
	if !ok || len(data) != 12 {
		t.Fatalf("unexpected waveform data %v", data)
	}
	if v := int16(binary.LittleEndian.Uint16(data)); v != -3 {
		t.Fatalf("unexpected first sample %d", v)
	}
	channels := item.Items(tag.ChannelDefinitionSequence)
	if len(channels) != 2 || channels[1].Text(tag.ChannelLabel) != "II" {
		t.Fatalf("unexpected channel definitions %v", channels)
	}
	if s, err := channels[0].Float(tag.ChannelSensitivity); err != nil || s != 0.005 {
		t.Fatalf("sensitivity = %v, %v", s, err)
	}
}

func TestWriteRequiresSOPUIDs(t *testing.T) {
	body, err := dicomwave.NewBuilder().Text(tag.PatientID, "1").Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := dicomwave.Write(&bytes.Buffer{}, body); err == nil {
		t.Fatal("expected error without SOP UIDs")
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	if _, err := parse([]byte("short")); !errors.Is(err, dicomwave.ErrNotDICOM) {
		t.Fatalf("expected ErrNotDICOM, got %v", err)
	}
	if _, err := parse(make([]byte, 200)); !errors.Is(err, dicomwave.ErrNotDICOM) {
		t.Fatalf("expected ErrNotDICOM without magic, got %v", err)
	}

	data := encode(t, sampleBody(t))
	if _, err := parse(data[:len(data)-5]); err == nil {
		t.Fatal("expected truncated file to fail")
	}
}

func TestParseUndefinedLengthSequence(t *testing.T) {
	var body bytes.Buffer
	le := binary.LittleEndian
	writeTag := func(g, e uint16) {
		_ = binary.Write(&body, le, g)
		_ = binary.Write(&body, le, e)
	}
	// (5400,0100) SQ undefined length, one undefined-length item.
	writeTag(0x5400, 0x0100)
	body.WriteString("SQ")
	body.Write([]byte{0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	writeTag(0xFFFE, 0xE000)
	body.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	writeTag(0x003A, 0x0005)
	body.WriteString("US")
	body.Write([]byte{2, 0, 12, 0})
	writeTag(0xFFFE, 0xE00D)
	body.Write([]byte{0, 0, 0, 0})
	writeTag(0xFFFE, 0xE0DD)
	body.Write([]byte{0, 0, 0, 0})

	minimal, err := dicomwave.NewBuilder().
		Text(tag.SOPClassUID, "1.2").
		Text(tag.SOPInstanceUID, "1.3").
		Build()
	if err != nil {
		t.Fatal(err)
	}
	file, err := parse(append(encode(t, minimal), body.Bytes()...))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	items := file.Body.Items(tag.WaveformSequence)
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	if n, err := items[0].Int(tag.NumberOfWaveformChannels); err != nil || n != 12 {
		t.Fatalf("channels = %d, %v", n, err)
	}
}

func TestFlatten(t *testing.T) {
	fields := dicomwave.Flatten(sampleBody(t))
	var found bool
	for _, f := range fields {
		if f.Path == "5400,0100[0]/003A,0200[1]/003A,0203" {
			found = true
			if f.Value != "II" || f.Name != "ChannelLabel" || f.VR != "SH" {
				t.Fatalf("unexpected field %+v", f)
			}
		}
		if f.Name == "WaveformData" && !strings.Contains(f.Value, "12 bytes") {
			t.Fatalf("expected binary summary, got %q", f.Value)
		}
	}
	if !found {
		t.Fatal("expected nested channel label path")
	}
}

func TestDecimalFitsSixteenCharacters(t *testing.T) {
	body, err := dicomwave.NewBuilder().Decimal(tag.SamplingFrequency, 1.0/3).Build()
	if err != nil {
		t.Fatal(err)
	}
	s := body.Text(tag.SamplingFrequency)
	if len(s) > 16 || !strings.HasPrefix(s, "0.333") {
		t.Fatalf("unexpected DS rendering %q", s)
	}
}
