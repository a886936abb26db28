package records

import (
	"context"
	"log/slog"
)

// Context is the bounded view of project records assembled for one turn.
type Context struct {
	// Projects are the concrete rows shown to the model.
	Projects []Project `json:"projects,omitempty"`

	// Summary counts by status for everything, including rows not shown.
	Summary map[string]int `json:"summary,omitempty"`

	// Filtered reports whether Projects was narrowed by entity hints.
	Filtered bool `json:"filtered,omitempty"`

	// Unavailable is set when the store could not be read; Reason says why.
	Unavailable bool   `json:"unavailable,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Fetcher builds turn context from the records store.
type Fetcher struct {
	store Store
	limit int // recent-N cap for unfiltered fetches
	log   *slog.Logger
}

// NewFetcher creates a fetcher over store. limit caps unfiltered results.
func NewFetcher(store Store, limit int, logger *slog.Logger) *Fetcher {
	return &Fetcher{store: store, limit: limit, log: logger}
}

// Fetch retrieves a relevance-filtered view of the records.
//
// With hints, only matching projects are returned; if nothing matches (or
// there are no hints) it falls back to the most recent N rows. The summary
// always covers the full dataset. Store failures never propagate: the
// returned context is flagged Unavailable instead.
func (f *Fetcher) Fetch(ctx context.Context, hints []string) Context {
	if err := ctx.Err(); err != nil {
		return Context{Unavailable: true, Reason: err.Error()}
	}

	type listResult struct {
		projects []Project
		err      error
	}

	// The store has no context plumbing of its own; honor cancellation
	// around the call.
	ch := make(chan listResult, 1)
	go func() {
		projects, err := f.store.List()
		ch <- listResult{projects, err}
	}()

	var all []Project
	select {
	case <-ctx.Done():
		f.log.Warn("records fetch cancelled", "error", ctx.Err())
		return Context{Unavailable: true, Reason: ctx.Err().Error()}
	case res := <-ch:
		if res.err != nil {
			f.log.Warn("records fetch failed", "error", res.err)
			return Context{Unavailable: true, Reason: res.err.Error()}
		}
		all = res.projects
	}

	out := Context{Summary: summarize(all)}

	if len(hints) > 0 {
		for _, p := range all {
			for _, h := range hints {
				if p.Matches(h) {
					out.Projects = append(out.Projects, p)
					break
				}
			}
		}
		if len(out.Projects) > 0 {
			out.Filtered = true
			return out
		}
	}

	// Fall back to recent-N. The sheet is kept most recently updated first.
	if len(all) > f.limit {
		all = all[:f.limit]
	}
	out.Projects = all
	return out
}

func summarize(projects []Project) map[string]int {
	if len(projects) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, p := range projects {
		status := p.Status
		if status == "" {
			status = "unknown"
		}
		counts[status]++
	}
	return counts
}
