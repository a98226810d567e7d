package dicomwave

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Builder accumulates the elements of one dataset level. The VR of every
// element comes from the standard dictionary. The first error is kept and
// returned by Build.
type Builder struct {
	elems Elements
	err   error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Text adds a string-valued element (CS, SH, LO, UI, DA, TM, DT, PN, ...).
func (b *Builder) Text(t tag.Tag, values ...string) *Builder {
	if len(values) == 0 {
		values = []string{""}
	}
	return b.add(t, values)
}

// Decimal adds a DS element. Values are rendered in at most 16 characters.
func (b *Builder) Decimal(t tag.Tag, values ...float64) *Builder {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatDecimal(v)
	}
	return b.add(t, parts)
}

// IntString adds an IS element.
func (b *Builder) IntString(t tag.Tag, values ...int) *Builder {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return b.add(t, parts)
}

// Uint adds a binary integer element (US or UL).
func (b *Builder) Uint(t tag.Tag, values ...int) *Builder {
	return b.add(t, values)
}

// Bytes adds an OB or OW element.
func (b *Builder) Bytes(t tag.Tag, data []byte) *Builder {
	return b.add(t, data)
}

// Sequence adds a sequence whose items are the given builders.
func (b *Builder) Sequence(t tag.Tag, items ...*Builder) *Builder {
	if b.err != nil {
		return b
	}
	seq := make([][]*dicom.Element, 0, len(items))
	for i, item := range items {
		elems, err := item.Build()
		if err != nil {
			b.err = fmt.Errorf("%s item %d: %w", TagName(t), i, err)
			return b
		}
		seq = append(seq, elems)
	}
	return b.add(t, seq)
}

// Build returns the elements sorted by tag.
func (b *Builder) Build() (Elements, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := append(Elements(nil), b.elems...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Tag.Compare(out[j].Tag) < 0
	})
	return out, nil
}

// add replaces any element already present with the same tag.
func (b *Builder) add(t tag.Tag, data any) *Builder {
	if b.err != nil {
		return b
	}
	e, err := dicom.NewElement(t, data)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", TagName(t), err)
		return b
	}
	for i, existing := range b.elems {
		if existing.Tag == t {
			b.elems[i] = e
			return b
		}
	}
	b.elems = append(b.elems, e)
	return b
}

func formatDecimal(v float64) string {
	for prec := -1; ; prec-- {
		var s string
		if prec == -1 {
			s = strconv.FormatFloat(v, 'g', -1, 64)
		} else {
			s = strconv.FormatFloat(v, 'g', 16+prec, 64)
		}
		if len(s) <= 16 || 16+prec <= 1 {
			return s
		}
	}
}
