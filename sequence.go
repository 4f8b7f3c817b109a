package stepflow

import (
	"context"

	"github.com/viant/stepflow/progress"
	"github.com/viant/stepflow/service/dao"
	"github.com/viant/stepflow/service/event"
	"go.uber.org/zap"
)

// Task is one step of a sequence. err and results carry what the previous
// step recorded: err is nil when nothing failed, the first error when the run
// is intolerant and an Errors collection when it is tolerant; results is never
// nil. A task finishes by calling ctl.Next, or by arming a count and letting
// the completions reach zero.
type Task func(ctl *Controller, err error, results []interface{})

// Completion receives the final error and results of a run.
type Completion func(err error, results []interface{})

// Catcher receives a recovered task panic.
type Catcher func(err *PanicError)

// Input seeds a run with a previous output.
type Input struct {
	Err     error
	Results []interface{}
	Baggage interface{}
}

// Sequence is an immutable, reusable list of tasks. Every Start allocates a
// fresh Run, so one Sequence can be executed any number of times,
// concurrently or nested inside another sequence.
type Sequence struct {
	name       string
	tasks      []Task
	tolerant   bool
	repeat     bool
	maxRepeats int
	scope      interface{}
	catcher    Catcher
	logger     *zap.Logger
	publisher  *event.Publisher[Lifecycle]
	journal    dao.Service[string, RunInfo]
	onProgress func(progress.Progress)
}

// New creates a sequence of tasks.
func New(tasks []Task, options ...Option) *Sequence {
	ret := &Sequence{
		name:   DefaultConfig().Name,
		tasks:  append([]Task(nil), tasks...),
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// NewFromConfig validates cfg and creates a sequence from it; options are
// applied after the configuration.
func NewFromConfig(cfg *Config, tasks []Task, options ...Option) (*Sequence, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(tasks, append([]Option{WithConfig(cfg)}, options...)...), nil
}

// Name returns the sequence name.
func (s *Sequence) Name() string { return s.name }

// Len returns the number of tasks.
func (s *Sequence) Len() int { return len(s.tasks) }

// Publisher returns the lifecycle event publisher, or nil.
func (s *Sequence) Publisher() *event.Publisher[Lifecycle] { return s.publisher }

// Journal returns the run journal, or nil.
func (s *Sequence) Journal() dao.Service[string, RunInfo] { return s.journal }

// Start runs the sequence standalone. done, when not nil, is invoked after the
// last task with its final error and results.
func (s *Sequence) Start(ctx context.Context, done Completion) *Run {
	return s.StartWith(ctx, Input{}, done)
}

// StartWith runs the sequence with in as the input of its first task.
func (s *Sequence) StartWith(ctx context.Context, in Input, done Completion) *Run {
	return s.start(ctx, in, done, nil)
}

func (s *Sequence) start(ctx context.Context, in Input, done Completion, onAbort func(err error)) *Run {
	run := s.newRun(ctx, done)
	run.onAbort = onAbort
	run.seed(in)
	run.begin()
	run.advance(run.generation, run.tolerant, payload{})
	return run
}

// AsTask embeds the sequence in a parent sequence. The returned task counts
// one pending completion on the parent controller, runs the sequence seeded
// with the parent's error, results and baggage, and reports the final error
// and results back to the parent as that single completion. The parent's next
// task therefore finds the nested results slice in its own results.
//
// A panic caught by the nested sequence's catcher completes the parent slot
// with the abort error, which wraps ErrAborted and the *PanicError. Without a
// catcher the panic propagates into the parent task and aborts the parent.
func (s *Sequence) AsTask() Task {
	return func(parent *Controller, err error, results []interface{}) {
		parent.Increment(1)
		in := Input{Err: err, Results: results, Baggage: parent.Baggage()}
		s.start(parent.Context(), in, func(err error, results []interface{}) {
			parent.Done(err, results)
		}, func(err error) {
			parent.Done(err, nil)
		})
	}
}
