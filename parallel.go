package stepflow

import "sync"

type (
	// ParallelSpec describes the units of a fan-out: either Count units or one
	// unit per element of Items.
	ParallelSpec struct {
		Count    int
		Items    []interface{}
		Settings []Setting
	}

	// DoneFunc completes one parallel unit; calls after the first are ignored.
	DoneFunc func(err error, result interface{})

	// Worker performs one parallel unit. item is the unit index for Times
	// and the element for Each.
	Worker func(index int, item interface{}, done DoneFunc)
)

// Times describes n units.
func Times(n int, settings ...Setting) ParallelSpec {
	return ParallelSpec{Count: n, Settings: settings}
}

// Each describes one unit per item.
func Each(items []interface{}, settings ...Setting) ParallelSpec {
	return ParallelSpec{Items: items, Settings: settings}
}

func (p ParallelSpec) units() int {
	if p.Items != nil {
		return len(p.Items)
	}
	if p.Count < 0 {
		return 0
	}
	return p.Count
}

func (p ParallelSpec) item(i int) interface{} {
	if p.Items != nil {
		return p.Items[i]
	}
	return i
}

// Parallel arms the controller for every unit of work and calls worker once
// per unit. Unit i stores its result in slot i of the next task's input.
// Without units the task advances immediately with nothing recorded.
func (c *Controller) Parallel(work ParallelSpec, worker Worker) {
	units := work.units()
	if units == 0 {
		c.Configure(work.Settings...)
		c.Skip()
		return
	}
	c.SetCount(units, work.Settings...)
	for i := 0; i < units; i++ {
		worker(i, work.item(i), c.doneFunc(i))
	}
}

func (c *Controller) doneFunc(index int) DoneFunc {
	var once sync.Once
	return func(err error, result interface{}) {
		once.Do(func() {
			c.DoneAt(index, err, result)
		})
	}
}
