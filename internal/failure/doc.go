// Package failure defines the closed set of per-record failure kinds recorded
// in the conversion ledger, plus the sentinel used for fatal configuration
// problems.
//
// Per-record failures are values: workers attach them to results and the run
// keeps going. Only errors wrapping ErrConfiguration stop a run, and those are
// detected before any record is dispatched.
package failure
