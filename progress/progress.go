package progress

import (
	"context"
	"sync"
	"time"

	"github.com/viant/stepflow/internal/clock"
)

// Delta is an incremental counter change emitted by a run.
type Delta struct {
	Total      int
	Dispatched int
	Completed  int
	Repeated   int
	Errors     int
}

// Progress keeps aggregated counters for one run. It is safe for concurrent
// use.
type Progress struct {
	RunID     string
	Sequence  string
	StartedAt time.Time

	TotalTasks      int
	DispatchedTasks int
	CompletedTasks  int
	RepeatedTasks   int
	RecordedErrors  int

	sync.Mutex
	onChange func(Progress)
}

// New creates a tracker for the given run.
func New(runID, sequence string, onChange func(Progress)) *Progress {
	return &Progress{
		RunID:     runID,
		Sequence:  sequence,
		StartedAt: clock.Now(),
		onChange:  onChange,
	}
}

// Update applies d. The onChange callback, if any, receives a copy outside
// the critical section.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}
	p.Lock()
	p.TotalTasks += d.Total
	p.DispatchedTasks += d.Dispatched
	p.CompletedTasks += d.Completed
	p.RepeatedTasks += d.Repeated
	p.RecordedErrors += d.Errors
	snapshot := p.copyLocked()
	cb := p.onChange
	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.copyLocked()
}

// OnChange replaces the change callback. nil disables it.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

func (p *Progress) copyLocked() Progress {
	return Progress{
		RunID:           p.RunID,
		Sequence:        p.Sequence,
		StartedAt:       p.StartedAt,
		TotalTasks:      p.TotalTasks,
		DispatchedTasks: p.DispatchedTasks,
		CompletedTasks:  p.CompletedTasks,
		RepeatedTasks:   p.RepeatedTasks,
		RecordedErrors:  p.RecordedErrors,
	}
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithTracker embeds p in a derived context.
func WithTracker(ctx context.Context, p *Progress) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackerKey, p)
}

// FromContext extracts the tracker from ctx.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// UpdateCtx applies d to the tracker carried by ctx, if any.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
