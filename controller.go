package stepflow

import (
	"context"
	"strconv"
	"sync"

	"github.com/viant/stepflow/progress"
	"github.com/viant/stepflow/tracing"
)

// Controller gates the advance from one task to the next. A task arms it with
// SetCount or Increment and every completion calls Done or DoneAt; when the
// count reaches zero the run advances exactly once. A task without fan-out
// calls Next or Skip. Once exhausted a controller ignores further calls, and a
// controller of an earlier task can never advance the run.
type Controller struct {
	run     *Run
	gen     uint64
	index   int
	repeats int
	baggage interface{}
	ctx     context.Context

	mu        sync.Mutex
	remaining int
	exhausted bool
	tolerance *bool
}

func newController(run *Run, gen uint64, index, repeats int, baggage interface{}) *Controller {
	return &Controller{run: run, gen: gen, index: index, repeats: repeats, baggage: baggage, ctx: run.ctx}
}

// SetCount arms the controller to wait for n completions. Only a positive n
// changes the count. Repeat is forwarded to the run; Tolerance applies to
// this task only.
func (c *Controller) SetCount(n int, settings ...Setting) {
	c.Configure(settings...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 && !c.exhausted {
		c.remaining = n
	}
}

// Configure applies settings without touching the count.
func (c *Controller) Configure(settings ...Setting) {
	s := newSettings(settings)
	if s.repeat != nil {
		c.run.requestRepeat(c.gen, *s.repeat)
	}
	if s.tolerance != nil {
		c.mu.Lock()
		c.tolerance = s.tolerance
		c.mu.Unlock()
	}
}

// Increment adds n pending completions; n <= 0 counts as 1.
func (c *Controller) Increment(n int) {
	if n <= 0 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exhausted {
		c.remaining += n
	}
}

// Done signals one completion, appending err and result to the next task's
// input in arrival order.
func (c *Controller) Done(err error, result interface{}) {
	c.tick(0, false, err, result)
}

// DoneAt signals one completion, storing err and result at slot index of the
// next task's input. A slot outside [0, MaxSlot] is not recorded but still
// counts as a completion.
func (c *Controller) DoneAt(index int, err error, result interface{}) {
	c.tick(index, true, err, result)
}

func (c *Controller) tick(index int, explicit bool, err error, result interface{}) {
	c.mu.Lock()
	if c.exhausted || c.remaining == 0 {
		c.mu.Unlock()
		return
	}
	c.remaining--
	c.run.record(c.gen, index, explicit, err, result)
	tolerant := c.tolerantLocked()
	dropped := 0
	if err != nil && !tolerant {
		dropped, c.remaining = c.remaining, 0
	}
	fire := c.remaining == 0
	if fire {
		c.exhausted = true
	}
	c.mu.Unlock()
	if err != nil {
		c.run.progress.Update(progress.Delta{Errors: 1})
	}
	c.shortCircuited(dropped)
	if fire {
		c.run.advance(c.gen, tolerant, payload{})
	}
}

// Next advances to the next task, recording err and result first, when no
// completions are pending. An error under the intolerant policy clears any
// pending count so the task can short-circuit its own fan-out.
func (c *Controller) Next(err error, result interface{}) {
	c.next(payload{err: err, result: result, present: true})
}

// Skip advances like Next without recording anything.
func (c *Controller) Skip() {
	c.next(payload{})
}

func (c *Controller) next(p payload) {
	c.mu.Lock()
	if c.exhausted {
		c.mu.Unlock()
		return
	}
	tolerant := c.tolerantLocked()
	dropped := 0
	if p.err != nil && !tolerant {
		dropped, c.remaining = c.remaining, 0
	}
	if c.remaining > 0 {
		c.mu.Unlock()
		return
	}
	c.exhausted = true
	c.mu.Unlock()
	c.shortCircuited(dropped)
	c.run.advance(c.gen, tolerant, p)
}

// shortCircuited records on the run span that an error abandoned pending
// completions.
func (c *Controller) shortCircuited(pending int) {
	if pending == 0 {
		return
	}
	c.run.span.AddEvent(tracing.EventShortCircuit, map[string]string{
		tracing.AttrIndex:   strconv.Itoa(c.index),
		tracing.AttrPending: strconv.Itoa(pending),
	})
}

func (c *Controller) tolerantLocked() bool {
	if c.tolerance != nil {
		return *c.tolerance
	}
	return c.run.isTolerant()
}

// Carry sets the baggage handed to the next task. A repeated task keeps its
// incoming baggage.
func (c *Controller) Carry(baggage interface{}) {
	c.run.carry(c.gen, baggage)
}

// Baggage returns the value the previous task carried.
func (c *Controller) Baggage() interface{} { return c.baggage }

// RepeatCount returns how many times in a row this task has been repeated.
func (c *Controller) RepeatCount() int { return c.repeats }

// Index returns the position of the task in its sequence.
func (c *Controller) Index() int { return c.index }

// Scope returns the value set with WithScope.
func (c *Controller) Scope() interface{} { return c.run.sequence.scope }

// Context returns the task context, carrying its span and the run progress.
func (c *Controller) Context() context.Context { return c.ctx }

// RunID returns the id of the owning run.
func (c *Controller) RunID() string { return c.run.id }

// Remaining returns the number of pending completions.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}
