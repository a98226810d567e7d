package dicomwave

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Field is one flattened header element.
type Field struct {
	// Path locates the element, e.g. "5400,0100[0]/003A,0200[2]/003A,0203".
	Path  string
	Tag   tag.Tag
	Name  string
	VR    string
	Value string
}

// Flatten walks es depth-first and returns one Field per non-sequence
// element. Binary values are summarized by length.
func Flatten(es Elements) []Field {
	var out []Field
	flatten(&out, "", es)
	return out
}

func flatten(out *[]Field, prefix string, es Elements) {
	for _, e := range es {
		path := prefix + fmt.Sprintf("%04X,%04X", e.Tag.Group, e.Tag.Element)
		if e.Value != nil && e.Value.ValueType() == dicom.Sequences {
			for i, item := range itemsOf(e) {
				flatten(out, path+"["+strconv.Itoa(i)+"]/", item)
			}
			continue
		}
		*out = append(*out, Field{
			Path:  path,
			Tag:   e.Tag,
			Name:  TagName(e.Tag),
			VR:    e.RawValueRepresentation,
			Value: displayValue(e),
		})
	}
}

func displayValue(e *dicom.Element) string {
	if e.Value == nil {
		return ""
	}
	switch e.Value.ValueType() {
	case dicom.Strings:
		return strings.Join(dicom.MustGetStrings(e.Value), `\`)
	case dicom.Ints:
		values := dicom.MustGetInts(e.Value)
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, `\`)
	case dicom.Floats:
		values := dicom.MustGetFloats(e.Value)
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return strings.Join(parts, `\`)
	case dicom.Bytes:
		return fmt.Sprintf("<%d bytes>", len(dicom.MustGetBytes(e.Value)))
	}
	return e.Value.String()
}
