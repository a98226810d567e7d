package metaindex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func loadJSON(path string, opts Options) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var objects []map[string]any
	if err := decoder.Decode(&objects); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	b := newBuilder(opts)
	for _, object := range objects {
		b.add(objectRow(b, object))
	}
	return b.finish()
}

func loadJSONLines(path string, opts Options) (*Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	b := newBuilder(opts)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		decoder := json.NewDecoder(bytes.NewReader(text))
		decoder.UseNumber()
		var object map[string]any
		if err := decoder.Decode(&object); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b.add(objectRow(b, object))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.finish()
}

func objectRow(b *builder, object map[string]any) Row {
	row := make(Row, len(object))
	for name, value := range object {
		b.addColumns(name)
		row[name] = stringify(value)
	}
	return row
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(string(encoded))
	}
}
