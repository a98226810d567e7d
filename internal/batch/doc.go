// Package batch wires the conversion engine together: it resolves the work
// set against the previous ledger, runs pending records through the worker
// pool, checkpoints results, and logs failures.
//
// The same package provides the worker-side setup so the dispatcher and the
// worker processes agree on the settings carried in the init message.
package batch
