package progress

import (
	"context"
	"sync"
	"time"
)

// Delta is an incremental counter change emitted by the supervisor or by
// execution units. Fields are signed so they can increment or decrement.
type Delta struct {
	Total     int
	Completed int
	Failed    int
	Running   int
}

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	Tag       string
	Dataset   string
	StartedAt time.Time

	TotalBranches     int
	CompletedBranches int
	FailedBranches    int
	RunningBranches   int
}

// Progress aggregates branch counters for one production run. It is safe
// for concurrent use.
type Progress struct {
	// Identification, informative only.
	Tag       string
	Dataset   string
	StartedAt time.Time

	mu        sync.Mutex
	total     int
	completed int
	failed    int
	running   int
	onChange  func(Snapshot)
}

// Update applies the delta. If an onChange callback is registered it is
// invoked with a snapshot of the updated tracker outside the critical section
// so slow consumers (JSON encoding, I/O) never block the pipeline.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.total += d.Total
	p.completed += d.Completed
	p.failed += d.Failed
	p.running += d.Running

	snapshot := p.snapshot()
	cb := p.onChange
	p.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy suitable for read-only inspection.
func (p *Progress) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Progress) snapshot() Snapshot {
	return Snapshot{
		Tag:               p.Tag,
		Dataset:           p.Dataset,
		StartedAt:         p.StartedAt,
		TotalBranches:     p.total,
		CompletedBranches: p.completed,
		FailedBranches:    p.failed,
		RunningBranches:   p.running,
	}
}

// OnChange registers a callback invoked after every Update. Passing nil
// disables the callback; only one callback can be active.
func (p *Progress) OnChange(cb func(Snapshot)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.onChange = cb
	p.mu.Unlock()
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a tracker for the given production tag and dataset,
// embeds it in a derived context and returns both.
func WithNewTracker(ctx context.Context, tag, dataset string, onChange func(Snapshot)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Progress{
		Tag:       tag,
		Dataset:   dataset,
		StartedAt: time.Now(),
		onChange:  onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the tracker from ctx; ok is false when the context
// carries none.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// UpdateCtx looks up the tracker in ctx (if any) and applies the delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
