// Package workset decides which manifest rows still need converting by
// reconciling the manifest with the ledger left by a previous run.
package workset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ecgbatch/internal/ledger"
	"ecgbatch/internal/logging"
	"ecgbatch/internal/manifest"
)

// Options controls resolution.
type Options struct {
	Columns ledger.Columns
	// Validate re-checks an artifact recorded as converted.
	Validate  func(path string) error
	Overwrite bool
	// Workers bounds concurrent re-verification.
	Workers int
	Logger  *slog.Logger
}

// Plan is the outcome of resolution. Ledger holds every manifest row in
// manifest order followed by carried rows, with stale outcomes cleared.
type Plan struct {
	Ledger  *ledger.Ledger
	Pending []manifest.Entry

	Total   int
	Done    int
	Stale   int
	Corrupt int
	Retried int
	Carried int
}

type verification struct {
	idx int
	err error
}

// Resolve builds the plan. prior may be nil when no ledger exists yet.
func Resolve(ctx context.Context, m *manifest.Manifest, prior *ledger.Ledger, opts Options) (*Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workset")

	l, err := ledger.New(mergeHeader(m.Header, prior), opts.Columns)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Ledger: l, Total: m.Len()}

	manifestCols := withoutOutcome(m.Header, opts.Columns)
	pending := make([]bool, len(m.Entries))
	var verify []int
	for i, entry := range m.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prior == nil || !prior.Has(entry.Key) {
			if _, err := l.Append(m.Header, entry.Values); err != nil {
				return nil, err
			}
			_ = l.Clear(entry.Key)
			pending[i] = true
			continue
		}

		row, _ := prior.Row(entry.Key)
		src := append(prior.Header(), manifestCols...)
		vals := append(row, project(m.Header, entry.Values, manifestCols)...)
		if _, err := l.Append(src, vals); err != nil {
			return nil, err
		}

		prev, _ := prior.Get(entry.Key)
		switch prev.Status() {
		case ledger.StatusSucceeded:
			if opts.Overwrite {
				pending[i] = true
				continue
			}
			verify = append(verify, i)
		case ledger.StatusCorrupt:
			_ = l.Clear(entry.Key)
			plan.Corrupt++
			pending[i] = true
		case ledger.StatusFailed:
			plan.Retried++
			pending[i] = true
		default:
			pending[i] = true
		}
	}

	if len(verify) > 0 {
		results, err := reverify(ctx, m, l, verify, opts)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			if res.err == nil {
				continue
			}
			entry := m.Entries[res.idx]
			logger.Debug("recorded output failed re-verification",
				logging.String(logging.FieldStudyKey, entry.Key),
				logging.Error(res.err),
			)
			_ = l.Clear(entry.Key)
			plan.Stale++
			pending[res.idx] = true
		}
	}

	for i, entry := range m.Entries {
		if pending[i] {
			plan.Pending = append(plan.Pending, entry)
		} else {
			plan.Done++
		}
	}

	if prior != nil {
		for _, prev := range prior.Entries() {
			if l.Has(prev.Key) {
				continue
			}
			row, _ := prior.Row(prev.Key)
			if _, err := l.Append(prior.Header(), row); err != nil {
				return nil, err
			}
			plan.Carried++
		}
	}

	logger.Info("work set resolved",
		logging.String(logging.FieldEventType, "workset_resolved"),
		logging.Int("total", plan.Total),
		logging.Int("done", plan.Done),
		logging.Int("pending", len(plan.Pending)),
		logging.Int("stale", plan.Stale),
		logging.Int("corrupt", plan.Corrupt),
		logging.Int("carried", plan.Carried),
	)
	return plan, nil
}

// reverify checks recorded artifacts with bounded parallelism and returns
// results in completion order.
func reverify(ctx context.Context, m *manifest.Manifest, l *ledger.Ledger, indices []int, opts Options) ([]verification, error) {
	if opts.Validate == nil {
		return nil, fmt.Errorf("workset: no validator configured")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(indices) {
		workers = len(indices)
	}

	paths := make(map[int]string, len(indices))
	for _, idx := range indices {
		entry, _ := l.Get(m.Entries[idx].Key)
		paths[idx] = entry.OutputPath
	}

	jobs := make(chan int)
	results := make(chan verification)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range jobs {
			results <- verification{idx: idx, err: opts.Validate(paths[idx])}
		}
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go worker()
	}
	go func() {
		defer close(jobs)
		for _, idx := range indices {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]verification, 0, len(indices))
	for res := range results {
		out = append(out, res)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeHeader returns the manifest header followed by prior columns the
// manifest lacks.
func mergeHeader(header []string, prior *ledger.Ledger) []string {
	merged := append([]string(nil), header...)
	if prior == nil {
		return merged
	}
	seen := make(map[string]bool, len(header))
	for _, name := range header {
		seen[name] = true
	}
	for _, name := range prior.Header() {
		if !seen[name] {
			merged = append(merged, name)
			seen[name] = true
		}
	}
	return merged
}

func withoutOutcome(header []string, cols ledger.Columns) []string {
	out := make([]string, 0, len(header))
	for _, name := range header {
		if name == cols.OutputPath || name == cols.Error {
			continue
		}
		out = append(out, name)
	}
	return out
}

// project picks the values of columns from a row aligned with header.
func project(header, values, columns []string) []string {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		if _, ok := pos[name]; !ok {
			pos[name] = i
		}
	}
	out := make([]string, len(columns))
	for i, name := range columns {
		if j, ok := pos[name]; ok && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}
