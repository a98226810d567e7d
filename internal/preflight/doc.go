// Package preflight checks that the files and directories a conversion run
// depends on are usable before any worker is started.
//
// A failed check is a configuration problem: the CLI reports every failing
// check at once and exits without touching the ledger.
package preflight
