// Package studykey normalizes the identifiers that correlate manifest rows,
// metadata rows, ledger rows and output artifacts.
package studykey

import (
	"fmt"
	"strings"
)

// Normalize trims whitespace and drops the ".0" suffix that float-typed
// tabular exports append to integer keys.
func Normalize(raw string) string {
	key := strings.TrimSpace(raw)
	if strings.HasSuffix(key, ".0") && len(key) > 2 && isDigits(key[:len(key)-2]) {
		key = key[:len(key)-2]
	}
	return key
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// CheckFileSafe rejects keys that cannot name a file inside the output
// directory: path separators, "." and "..", and NUL bytes.
func CheckFileSafe(key string) error {
	switch {
	case key == "." || key == "..":
		return fmt.Errorf("study key %q is not a file name", key)
	case strings.ContainsAny(key, "/\\\x00"):
		return fmt.Errorf("study key %q contains a path separator or NUL byte", key)
	}
	return nil
}
