// Package ledger persists per-record outcomes of a conversion run.
//
// A ledger is the manifest plus two columns: the output artifact path and the
// error message. At most one of them is populated; both empty means the
// record has not been processed yet. The ledger is rewritten in full at every
// checkpoint through an atomic temp-file rename, and a run holds an exclusive
// advisory lock next to it so two runs never interleave writes.
package ledger
