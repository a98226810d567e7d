// Package logging assembles the structured slog loggers used by the batch
// dispatcher and its worker processes.
//
// It owns the console and JSON handlers, level parsing, output routing, and
// the standard field keys (component, run ID, study key, worker ID) so every
// log line emitted during a run has the same shape regardless of which process
// produced it. A no-op logger is provided for tests and optional wiring.
package logging
