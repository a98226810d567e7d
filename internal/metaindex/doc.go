// Package metaindex loads the per-study metadata table into an immutable,
// key-indexed lookup.
//
// Each worker process loads the table exactly once at start-up and answers
// every lookup from memory. Tabular (CSV, TSV), JSON, JSON-lines and SQLite
// sources are supported; the format is chosen by file extension.
package metaindex
