package stepflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/viant/stepflow/internal/clock"
	"github.com/viant/stepflow/internal/idgen"
	"github.com/viant/stepflow/progress"
	"github.com/viant/stepflow/service/event"
	"github.com/viant/stepflow/tracing"
	"go.uber.org/zap"
)

// RunState is the state of a run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateAborted   RunState = "aborted"
)

// MaxSlot is the highest explicit slot DoneAt accepts; records for slots
// outside [0, MaxSlot] are dropped.
const MaxSlot = 1 << 16

// Outcome is the final error and results of a completed run.
type Outcome struct {
	Err     error
	Results []interface{}
}

type (
	// delivery is what a task receives.
	delivery struct {
		err     error
		results []interface{}
	}

	// payload is an optional record carried by an advance request.
	payload struct {
		err     error
		result  interface{}
		present bool
	}
)

// Run is the mutable state of one sequence execution. All buffers are
// guarded by mu; no lock is held while a task runs, so tasks may advance
// synchronously.
type Run struct {
	id       string
	sequence *Sequence
	tasks    []Task
	ctx      context.Context
	span     *tracing.Span
	progress *progress.Progress
	logger   *zap.Logger

	mu           sync.Mutex
	state        RunState
	index        int
	generation   uint64
	errs         []error
	results      []interface{}
	last         delivery
	baggage      interface{}
	nextBaggage  interface{}
	carried      bool
	repeat       bool
	repeats      int
	totalRepeats int
	tolerant     bool
	startedAt    time.Time
	completedAt  time.Time
	outcome      *Outcome
	failure      error

	done        chan struct{}
	releaseOnce sync.Once
	onAbort     func(err error)
}

func (s *Sequence) newRun(ctx context.Context, done Completion) *Run {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Run{
		id:        idgen.New(),
		sequence:  s,
		state:     RunStateRunning,
		index:     -1,
		repeat:    s.repeat,
		tolerant:  s.tolerant,
		startedAt: clock.Now(),
		done:      make(chan struct{}),
	}
	r.logger = s.logger.With(zap.String("sequence", s.name), zap.String("runID", r.id))
	r.progress = progress.New(r.id, s.name, s.onProgress)
	r.ctx, r.span = tracing.StartSpan(progress.WithTracker(ctx, r.progress), s.name)
	r.span.WithAttributes(map[string]string{tracing.AttrRunID: r.id, tracing.AttrSequence: s.name})
	r.tasks = make([]Task, 0, len(s.tasks)+1)
	r.tasks = append(r.tasks, s.tasks...)
	r.tasks = append(r.tasks, r.completion(done))
	return r
}

// seed loads the pending buffers with a previous output.
func (r *Run) seed(in Input) {
	r.errs = spread(in.Err)
	r.results = append([]interface{}(nil), in.Results...)
	for len(r.errs) < len(r.results) {
		r.errs = append(r.errs, nil)
	}
	for len(r.results) < len(r.errs) {
		r.results = append(r.results, nil)
	}
	r.baggage = in.Baggage
}

func (r *Run) begin() {
	r.progress.Update(progress.Delta{Total: len(r.sequence.tasks)})
	r.logger.Debug("run started", zap.Int("tasks", len(r.sequence.tasks)))
	r.save()
	r.publish(EventRunStarted, -1, 0, nil)
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Context returns the run context; it carries the run span and progress
// tracker.
func (r *Run) Context() context.Context { return r.ctx }

// Progress returns the live progress tracker.
func (r *Run) Progress() *progress.Progress { return r.progress }

// State returns the current run state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the run completes or aborts.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done. An aborted run returns
// an error wrapping ErrAborted and the *PanicError.
func (r *Run) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return nil, r.failure
	}
	return r.outcome, nil
}

// Configure changes the run-wide policy for the next advance decision:
// Repeat requests that the current task be invoked again, Tolerance switches
// the error policy for the rest of the run.
func (r *Run) Configure(settings ...Setting) {
	s := newSettings(settings)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.repeat != nil {
		r.repeat = *s.repeat
	}
	if s.tolerance != nil {
		r.tolerant = *s.tolerance
	}
}

// Info returns a journal snapshot of the run.
func (r *Run) Info() *RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked()
}

func (r *Run) infoLocked() *RunInfo {
	info := &RunInfo{
		ID:        r.id,
		Sequence:  r.sequence.name,
		State:     r.state,
		StartedAt: r.startedAt,
		Index:     r.index,
		Repeats:   r.totalRepeats,
	}
	if !r.completedAt.IsZero() {
		completedAt := r.completedAt
		info.CompletedAt = &completedAt
	}
	if r.failure != nil {
		info.Error = r.failure.Error()
	}
	return info
}

func (r *Run) live(gen uint64) bool {
	return r.state == RunStateRunning && gen == r.generation
}

func (r *Run) isTolerant() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tolerant
}

func (r *Run) requestRepeat(gen uint64, repeat bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live(gen) {
		r.repeat = repeat
	}
}

func (r *Run) carry(gen uint64, baggage interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live(gen) {
		r.nextBaggage = baggage
		r.carried = true
	}
}

// record stores one completion for the live controller generation.
func (r *Run) record(gen uint64, index int, explicit bool, err error, result interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live(gen) {
		r.recordLocked(index, explicit, err, result)
	}
}

func (r *Run) recordLocked(index int, explicit bool, err error, result interface{}) {
	if !explicit {
		r.errs = append(r.errs, err)
		r.results = append(r.results, result)
		return
	}
	if index < 0 || index > MaxSlot {
		return
	}
	if grow := index + 1 - len(r.errs); grow > 0 {
		r.errs = append(r.errs, make([]error, grow)...)
		r.results = append(r.results, make([]interface{}, grow)...)
	}
	r.errs[index] = err
	r.results[index] = result
}

// advance moves the run to the next task, or repeats the current one, and
// dispatches it. Requests from a stale generation are ignored.
func (r *Run) advance(gen uint64, tolerant bool, p payload) {
	r.mu.Lock()
	if !r.live(gen) {
		r.mu.Unlock()
		return
	}
	if p.present {
		r.recordLocked(0, false, p.err, p.result)
	}
	err := aggregate(r.errs, tolerant)
	capped := r.sequence.maxRepeats > 0 && r.repeats >= r.sequence.maxRepeats
	repeat := r.repeat && r.index >= 0 && (tolerant || err == nil) && !capped
	r.repeat = r.sequence.repeat

	var in delivery
	delta := progress.Delta{Dispatched: 1}
	if repeat {
		r.repeats++
		r.totalRepeats++
		delta.Repeated = 1
		in = delivery{err: r.last.err, results: append([]interface{}{}, r.last.results...)}
	} else {
		if r.index >= 0 {
			delta.Completed = 1
		}
		r.index++
		r.repeats = 0
		in = delivery{err: err, results: r.results}
		if in.results == nil {
			in.results = []interface{}{}
		}
		if r.carried {
			r.baggage, r.nextBaggage, r.carried = r.nextBaggage, nil, false
		}
	}
	r.errs, r.results = nil, nil
	r.last = delivery{err: in.err, results: append([]interface{}{}, in.results...)}
	r.generation++
	if r.index >= len(r.tasks) {
		r.mu.Unlock()
		return
	}
	ctl := newController(r, r.generation, r.index, r.repeats, r.baggage)
	task := r.tasks[r.index]
	r.mu.Unlock()

	if p.present && p.err != nil {
		delta.Errors = 1
	}
	if ctl.index >= len(r.sequence.tasks) {
		delta.Dispatched = 0
		r.progress.Update(delta)
	} else {
		r.progress.Update(delta)
		eventType := EventTaskStarted
		if repeat {
			eventType = EventTaskRepeated
			r.span.AddEvent(tracing.EventTaskRepeated, map[string]string{
				tracing.AttrIndex:  strconv.Itoa(ctl.index),
				tracing.AttrRepeat: strconv.Itoa(ctl.repeats),
			})
		}
		r.logger.Debug("dispatching task", zap.Int("index", ctl.index), zap.Int("repeat", ctl.repeats))
		r.publish(eventType, ctl.index, ctl.repeats, in.err)
	}
	r.invoke(ctl, task, in)
}

// invoke runs task; a panic aborts the run and is handed to the catcher, or
// re-raised when there is none.
func (r *Run) invoke(ctl *Controller, task Task, in delivery) {
	ctx, span := tracing.StartTaskSpan(r.ctx, r.sequence.name, r.id, ctl.index, ctl.repeats)
	ctl.ctx = ctx
	defer func() {
		recovered := recover()
		if recovered == nil {
			tracing.EndSpan(span, nil)
			return
		}
		failure := &PanicError{RunID: r.id, Index: ctl.index, Value: recovered}
		tracing.EndSpan(span, failure)
		aborted, ok := r.abort(failure)
		if r.sequence.catcher == nil {
			panic(recovered)
		}
		r.sequence.catcher(failure)
		if ok && r.onAbort != nil {
			r.onAbort(aborted)
		}
	}()
	task(ctl, in.err, in.results)
}

// completion is the synthetic last task delivering the final output.
func (r *Run) completion(done Completion) Task {
	return func(ctl *Controller, err error, results []interface{}) {
		if !r.complete(ctl.gen, &Outcome{Err: err, Results: results}) {
			return
		}
		defer r.release(err)
		if done != nil {
			done(err, results)
		}
	}
}

func (r *Run) complete(gen uint64, outcome *Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live(gen) {
		return false
	}
	r.state = RunStateCompleted
	r.generation++
	r.outcome = outcome
	r.completedAt = clock.Now()
	return true
}

// abort moves a running run to the aborted state and returns the error Wait
// reports. ok is false when the run had already finished.
func (r *Run) abort(failure *PanicError) (aborted error, ok bool) {
	r.mu.Lock()
	if r.state != RunStateRunning {
		r.mu.Unlock()
		return nil, false
	}
	r.state = RunStateAborted
	r.generation++
	r.failure = fmt.Errorf("%w: %w", ErrAborted, failure)
	r.completedAt = clock.Now()
	aborted = r.failure
	r.mu.Unlock()
	r.release(failure)
	return aborted, true
}

// release publishes the terminal state once.
func (r *Run) release(err error) {
	r.releaseOnce.Do(func() {
		state := r.State()
		r.save()
		if state == RunStateAborted {
			r.logger.Error("run aborted", zap.Error(err))
			r.publish(EventRunAborted, r.Info().Index, 0, err)
			tracing.EndSpan(r.span, err)
		} else {
			r.logger.Info("run completed", zap.Duration("elapsed", clock.Since(r.startedAt)), zap.NamedError("outcome", err))
			r.publish(EventRunCompleted, len(r.sequence.tasks), 0, err)
			tracing.EndSpan(r.span, nil)
		}
		close(r.done)
	})
}

func (r *Run) save() {
	journal := r.sequence.journal
	if journal == nil {
		return
	}
	if err := journal.Save(r.ctx, r.Info()); err != nil {
		r.logger.Warn("failed to save run info", zap.Error(err))
	}
}

func (r *Run) publish(eventType EventType, index, repeat int, err error) {
	publisher := r.sequence.publisher
	if publisher == nil {
		return
	}
	lifecycle := Lifecycle{Type: eventType, RunID: r.id, Sequence: r.sequence.name, Index: index, Repeat: repeat}
	if err != nil {
		lifecycle.Error = err.Error()
	}
	eCtx := &event.Context{RunID: r.id, Sequence: r.sequence.name, TaskIndex: index, EventType: string(eventType)}
	if pErr := publisher.Publish(r.ctx, event.NewEvent(eCtx, lifecycle)); pErr != nil {
		r.logger.Warn("failed to publish event", zap.String("type", string(eventType)), zap.Error(pErr))
	}
}
