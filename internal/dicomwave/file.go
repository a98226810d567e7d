package dicomwave

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"
)

// TwelveLeadECGWaveformStorage is the SOP Class of files written here.
const TwelveLeadECGWaveformStorage = "1.2.840.10008.5.1.4.1.1.9.1.1"

const (
	preambleLength = 128
	magic          = "DICM"

	implementationClassUID    = "2.25.302883004496418126307476146542437125894"
	implementationVersionName = "ECGBATCH_1"
)

// ErrNotDICOM reports a missing preamble or DICM prefix.
var ErrNotDICOM = errors.New("not a DICOM Part 10 file")

// File is a parsed Part 10 file.
type File struct {
	Meta Elements
	Body Elements
}

// Write encodes body as a Part 10 file in Explicit VR Little Endian. The file
// meta group is derived from the body's SOP Class and SOP Instance UIDs.
func Write(w io.Writer, body Elements) error {
	sopClass := body.Text(tag.SOPClassUID)
	sopInstance := body.Text(tag.SOPInstanceUID)
	if sopClass == "" || sopInstance == "" {
		return fmt.Errorf("dataset lacks SOP Class or SOP Instance UID")
	}
	meta, err := NewBuilder().
		Bytes(tag.FileMetaInformationVersion, []byte{0x00, 0x01}).
		Text(tag.MediaStorageSOPClassUID, sopClass).
		Text(tag.MediaStorageSOPInstanceUID, sopInstance).
		Text(tag.TransferSyntaxUID, uid.ExplicitVRLittleEndian).
		Text(tag.ImplementationClassUID, implementationClassUID).
		Text(tag.ImplementationVersionName, implementationVersionName).
		Build()
	if err != nil {
		return fmt.Errorf("build file meta: %w", err)
	}
	elems := make([]*dicom.Element, 0, len(meta)+len(body))
	elems = append(elems, meta...)
	elems = append(elems, body...)
	return dicom.Write(w, dicom.Dataset{Elements: elems})
}

// ReadFile parses the file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Parse(f, info.Size())
}

// Parse reads a Part 10 stream of size bytes.
func Parse(r io.Reader, size int64) (*File, error) {
	head := make([]byte, preambleLength+len(magic))
	if _, err := io.ReadFull(r, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotDICOM
		}
		return nil, err
	}
	if string(head[preambleLength:]) != magic {
		return nil, ErrNotDICOM
	}

	p, err := dicom.NewParser(io.MultiReader(bytes.NewReader(head), r), size, nil)
	if err != nil {
		return nil, fmt.Errorf("file meta: %w", err)
	}
	var body Elements
	for {
		e, err := p.Next()
		if errors.Is(err, dicom.ErrorEndOfDICOM) {
			break
		}
		if err != nil {
			// io.EOF here means the file ended inside an element.
			return nil, fmt.Errorf("read element after %d elements: %w", len(body), err)
		}
		body = append(body, e)
	}
	return &File{Meta: Elements(p.GetMetadata().Elements), Body: body}, nil
}
