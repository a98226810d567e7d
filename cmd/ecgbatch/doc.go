// Package main hosts the ecgbatch CLI entrypoint and command graph.
//
// The Cobra-based command tree resolves configuration (TOML file plus flag
// overrides), runs conversion jobs through internal/batch, and offers small
// inspection utilities over DICOM artifacts and ledgers. The hidden worker
// command is the entry point of every worker process the engine spawns.
//
// Keep this package lean: behaviour lives in the internal packages and is
// surfaced here through commands and flags.
package main
