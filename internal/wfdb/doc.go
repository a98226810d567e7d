// Package wfdb reads and writes PhysioNet WFDB records: a text header (.hea)
// describing the signals and one or more binary signal files.
//
// Sample formats 16 (little-endian 16-bit) and 212 (packed 12-bit pairs) are
// supported, including several signals interleaved in one file.
package wfdb
