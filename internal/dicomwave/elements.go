package dicomwave

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Elements is one dataset level: a file body or a sequence item.
type Elements []*dicom.Element

// Find returns the element with tag t at this level, or nil.
func (es Elements) Find(t tag.Tag) *dicom.Element {
	for _, e := range es {
		if e.Tag == t {
			return e
		}
	}
	return nil
}

// Text returns the first string value of t, or "" when absent.
func (es Elements) Text(t tag.Tag) string {
	e := es.Find(t)
	if e == nil || e.Value == nil || e.Value.ValueType() != dicom.Strings {
		return ""
	}
	values := dicom.MustGetStrings(e.Value)
	if len(values) == 0 {
		return ""
	}
	return strings.Trim(values[0], " \x00")
}

// Int returns the first value of a US, UL, SS, SL or IS element.
func (es Elements) Int(t tag.Tag) (int, error) {
	e := es.Find(t)
	if e == nil || e.Value == nil {
		return 0, fmt.Errorf("%s missing", TagName(t))
	}
	switch e.Value.ValueType() {
	case dicom.Ints:
		values := dicom.MustGetInts(e.Value)
		if len(values) == 0 {
			return 0, fmt.Errorf("%s is empty", TagName(t))
		}
		return values[0], nil
	case dicom.Strings:
		n, err := strconv.Atoi(es.Text(t))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", TagName(t), err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s (VR %s) is not an integer", TagName(t), e.RawValueRepresentation)
}

// Float returns the first value of a DS, FL, FD or integer element.
func (es Elements) Float(t tag.Tag) (float64, error) {
	e := es.Find(t)
	if e == nil || e.Value == nil {
		return 0, fmt.Errorf("%s missing", TagName(t))
	}
	switch e.Value.ValueType() {
	case dicom.Floats:
		values := dicom.MustGetFloats(e.Value)
		if len(values) == 0 {
			return 0, fmt.Errorf("%s is empty", TagName(t))
		}
		return values[0], nil
	case dicom.Strings:
		v, err := strconv.ParseFloat(es.Text(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", TagName(t), err)
		}
		return v, nil
	}
	n, err := es.Int(t)
	return float64(n), err
}

// Bytes returns the value of an OB or OW element.
func (es Elements) Bytes(t tag.Tag) ([]byte, bool) {
	e := es.Find(t)
	if e == nil || e.Value == nil || e.Value.ValueType() != dicom.Bytes {
		return nil, false
	}
	return dicom.MustGetBytes(e.Value), true
}

// Items returns the items of sequence t, or nil.
func (es Elements) Items(t tag.Tag) []Elements {
	return itemsOf(es.Find(t))
}

func itemsOf(e *dicom.Element) []Elements {
	if e == nil || e.Value == nil || e.Value.ValueType() != dicom.Sequences {
		return nil
	}
	seq, _ := e.Value.GetValue().([]*dicom.SequenceItemValue)
	out := make([]Elements, 0, len(seq))
	for _, item := range seq {
		elems, _ := item.GetValue().([]*dicom.Element)
		out = append(out, Elements(elems))
	}
	return out
}

// TagName returns the dictionary keyword for t, or its (gggg,eeee) form.
func TagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil {
		return info.Name
	}
	return t.String()
}
