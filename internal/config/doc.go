// Package config loads, normalizes, and validates ecgbatch configuration.
//
// Settings come from repository defaults, an optional TOML file, and finally
// explicit CLI flags applied by the caller. Path fields are expanded (including
// tilde shortcuts) and made absolute so workers and the dispatcher agree on
// every location regardless of their working directory.
package config
