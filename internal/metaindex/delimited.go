package metaindex

import (
	"errors"
	"io"
	"os"

	"ecgbatch/internal/manifest"
)

func loadDelimited(path string, opts Options) (*Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := manifest.NewReader(file, manifest.Delimiter(path))
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("table is empty")
		}
		return nil, err
	}
	header = manifest.CleanHeader(header)

	b := newBuilder(opts)
	b.addColumns(header...)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(header))
		for i, name := range header {
			row[name] = record[i]
		}
		b.add(row)
	}
	return b.finish()
}
