package ledger

import "ecgbatch/internal/failure"

// Tally summarizes ledger outcomes.
type Tally struct {
	Total     int
	Succeeded int
	Failed    int
	Pending   int
	Corrupt   int
	// ByKind counts failures per kind; unrecognized messages are counted
	// under Unclassified.
	ByKind       map[failure.Kind]int
	Unclassified int
}

// Tally counts rows by status and failure kind.
func (l *Ledger) Tally() Tally {
	t := Tally{ByKind: make(map[failure.Kind]int)}
	for _, entry := range l.Entries() {
		t.Total++
		switch entry.Status() {
		case StatusSucceeded:
			t.Succeeded++
		case StatusPending:
			t.Pending++
		case StatusCorrupt:
			t.Corrupt++
		case StatusFailed:
			t.Failed++
			if kind, ok := failure.KindOf(entry.Error); ok {
				t.ByKind[kind]++
			} else {
				t.Unclassified++
			}
		}
	}
	return t
}
