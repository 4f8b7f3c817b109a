package stepflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/stepflow"
)

type call struct {
	err     error
	results []interface{}
	repeat  int
	baggage interface{}
}

// recorder captures every invocation of a task.
type recorder struct {
	mux   sync.Mutex
	calls []call
}

func (r *recorder) add(ctl *stepflow.Controller, err error, results []interface{}) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.calls = append(r.calls, call{err: err, results: results, repeat: ctl.RepeatCount(), baggage: ctl.Baggage()})
}

func (r *recorder) get() []call {
	r.mux.Lock()
	defer r.mux.Unlock()
	return append([]call(nil), r.calls...)
}

// capture returns a task recording its input and advancing with nothing.
func (r *recorder) capture() stepflow.Task {
	return func(ctl *stepflow.Controller, err error, results []interface{}) {
		r.add(ctl, err, results)
		ctl.Skip()
	}
}

func wait(t *testing.T, run *stepflow.Run) *stepflow.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := run.Wait(ctx)
	require.NoError(t, err)
	return out
}

func TestSequence_Order(t *testing.T) {
	var testCases = []struct {
		description string
		tasks       int
	}{
		{description: "single task", tasks: 1},
		{description: "three tasks", tasks: 3},
		{description: "many tasks", tasks: 50},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			var order []int
			var tasks []stepflow.Task
			for i := 0; i < testCase.tasks; i++ {
				tasks = append(tasks, func(ctl *stepflow.Controller, err error, results []interface{}) {
					order = append(order, ctl.Index())
					ctl.Next(nil, ctl.Index())
				})
			}
			var completed int
			var final []interface{}
			run := stepflow.New(tasks).Start(context.Background(), func(err error, results []interface{}) {
				completed++
				assert.Nil(t, err)
				final = results
			})
			out := wait(t, run)

			expected := make([]int, testCase.tasks)
			for i := range expected {
				expected[i] = i
			}
			assert.Equal(t, expected, order)
			assert.Equal(t, 1, completed)
			assert.Equal(t, []interface{}{testCase.tasks - 1}, final)
			assert.Equal(t, final, out.Results)
			assert.Equal(t, stepflow.RunStateCompleted, run.State())
		})
	}
}

func TestSequence_SynchronousAdvance(t *testing.T) {
	rec := &recorder{}
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			assert.Nil(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)
			ctl.Next(nil, "x")
		},
		rec.capture(),
	})
	wait(t, seq.Start(context.Background(), nil))

	calls := rec.get()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].err)
	assert.Equal(t, []interface{}{"x"}, calls[0].results)
}

func TestSequence_Empty(t *testing.T) {
	var completed bool
	run := stepflow.New(nil).Start(context.Background(), func(err error, results []interface{}) {
		completed = true
		assert.Nil(t, err)
		assert.Empty(t, results)
	})
	wait(t, run)
	assert.True(t, completed)
}

func TestSequence_StartWith(t *testing.T) {
	seedErr := errors.New("seed")
	var testCases = []struct {
		description string
		options     []stepflow.Option
		input       stepflow.Input
		expectErr   func(t *testing.T, err error)
		expect      []interface{}
	}{
		{
			description: "results only",
			input:       stepflow.Input{Results: []interface{}{1, 2}},
			expectErr:   func(t *testing.T, err error) { assert.Nil(t, err) },
			expect:      []interface{}{1, 2},
		},
		{
			description: "intolerant error",
			input:       stepflow.Input{Err: seedErr, Results: []interface{}{1}},
			expectErr:   func(t *testing.T, err error) { assert.Equal(t, seedErr, err) },
			expect:      []interface{}{1},
		},
		{
			description: "tolerant errors keep slots",
			options:     []stepflow.Option{stepflow.WithTolerance(true)},
			input:       stepflow.Input{Err: stepflow.Errors{nil, seedErr}, Results: []interface{}{1, 2}},
			expectErr: func(t *testing.T, err error) {
				var errs stepflow.Errors
				require.True(t, errors.As(err, &errs))
				assert.Equal(t, stepflow.Errors{nil, seedErr}, errs)
			},
			expect: []interface{}{1, 2},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			rec := &recorder{}
			seq := stepflow.New([]stepflow.Task{rec.capture()}, testCase.options...)
			wait(t, seq.StartWith(context.Background(), testCase.input, nil))
			calls := rec.get()
			require.Len(t, calls, 1)
			testCase.expectErr(t, calls[0].err)
			assert.Equal(t, testCase.expect, calls[0].results)
		})
	}
}

func TestSequence_Baggage(t *testing.T) {
	rec := &recorder{}
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			assert.Nil(t, ctl.Baggage())
			ctl.Carry("bag")
			ctl.Skip()
		},
		rec.capture(),
		rec.capture(),
	})
	wait(t, seq.StartWith(context.Background(), stepflow.Input{}, nil))
	calls := rec.get()
	require.Len(t, calls, 2)
	assert.Equal(t, "bag", calls[0].baggage)
	assert.Equal(t, "bag", calls[1].baggage, "baggage stays until replaced")
}

func TestSequence_Scope(t *testing.T) {
	type scope struct{ name string }
	var got interface{}
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			got = ctl.Scope()
			ctl.Skip()
		},
	}, stepflow.WithScope(&scope{name: "app"}))
	wait(t, seq.Start(context.Background(), nil))
	assert.Equal(t, &scope{name: "app"}, got)
}

func TestSequence_Nested(t *testing.T) {
	child := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.Next(err, fmt.Sprintf("child(%v,%v)", results, ctl.Baggage()))
		},
	}, stepflow.WithName("child"))

	rec := &recorder{}
	parent := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.Carry("b")
			ctl.Next(nil, "p")
		},
		child.AsTask(),
		rec.capture(),
	}, stepflow.WithName("parent"))

	for i := 0; i < 3; i++ {
		out := wait(t, parent.Start(context.Background(), nil))
		assert.Empty(t, out.Results)
	}
	calls := rec.get()
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Nil(t, c.err)
		assert.Equal(t, []interface{}{[]interface{}{"child([p],b)"}}, c.results)
	}
}

func TestSequence_NestedError(t *testing.T) {
	failure := errors.New("child failed")
	child := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.Next(failure, nil)
		},
	})
	rec := &recorder{}
	parent := stepflow.New([]stepflow.Task{child.AsTask(), rec.capture()})
	wait(t, parent.Start(context.Background(), nil))

	calls := rec.get()
	require.Len(t, calls, 1)
	assert.Equal(t, failure, calls[0].err)
}

func TestSequence_NestedAsync(t *testing.T) {
	child := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.Parallel(stepflow.Times(3), func(i int, _ interface{}, done stepflow.DoneFunc) {
				go done(nil, i*10)
			})
		},
	})
	rec := &recorder{}
	parent := stepflow.New([]stepflow.Task{child.AsTask(), child.AsTask(), rec.capture()})
	wait(t, parent.Start(context.Background(), nil))

	calls := rec.get()
	require.Len(t, calls, 1)
	assert.Equal(t, []interface{}{[]interface{}{0, 10, 20}}, calls[0].results)
}

func TestSequence_NestedCatcher(t *testing.T) {
	var caught *stepflow.PanicError
	child := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			panic("child boom")
		},
	}, stepflow.WithCatcher(func(err *stepflow.PanicError) {
		caught = err
	}))

	t.Run("parent continues", func(t *testing.T) {
		rec := &recorder{}
		parent := stepflow.New([]stepflow.Task{child.AsTask(), rec.capture()})
		run := parent.Start(context.Background(), nil)
		wait(t, run)

		require.NotNil(t, caught)
		calls := rec.get()
		require.Len(t, calls, 1)
		assert.True(t, errors.Is(calls[0].err, stepflow.ErrAborted))
		var panicErr *stepflow.PanicError
		require.True(t, errors.As(calls[0].err, &panicErr))
		assert.Equal(t, "child boom", panicErr.Value)
		assert.Equal(t, caught.RunID, panicErr.RunID)
	})

	t.Run("last task", func(t *testing.T) {
		parent := stepflow.New([]stepflow.Task{child.AsTask()})
		run := parent.Start(context.Background(), nil)
		out := wait(t, run)
		assert.Equal(t, stepflow.RunStateCompleted, run.State())
		assert.True(t, errors.Is(out.Err, stepflow.ErrAborted))
	})

	t.Run("uncaught child aborts parent", func(t *testing.T) {
		var parentCaught *stepflow.PanicError
		uncaught := stepflow.New([]stepflow.Task{
			func(ctl *stepflow.Controller, err error, results []interface{}) {
				panic("child boom")
			},
		})
		parent := stepflow.New([]stepflow.Task{uncaught.AsTask()}, stepflow.WithCatcher(func(err *stepflow.PanicError) {
			parentCaught = err
		}))
		run := parent.Start(context.Background(), nil)
		require.NotNil(t, parentCaught)
		assert.Equal(t, "child boom", parentCaught.Value)
		assert.Equal(t, stepflow.RunStateAborted, run.State())
	})
}

func TestSequence_ConcurrentRuns(t *testing.T) {
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.Parallel(stepflow.Each(results), func(i int, item interface{}, done stepflow.DoneFunc) {
				go done(nil, item.(int)*2)
			})
		},
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			sum := 0
			for _, r := range results {
				sum += r.(int)
			}
			ctl.Next(err, sum)
		},
	})

	const runs = 20
	var wg sync.WaitGroup
	sums := make([]interface{}, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := stepflow.Input{Results: []interface{}{i, i, i}}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			out, err := seq.StartWith(ctx, in, nil).Wait(ctx)
			if assert.NoError(t, err) {
				sums[i] = out.Results[0]
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < runs; i++ {
		assert.Equal(t, i*6, sums[i])
	}
}

func TestSequence_Catcher(t *testing.T) {
	var caught *stepflow.PanicError
	var completed bool
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.Skip()
		},
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			panic("boom")
		},
	}, stepflow.WithCatcher(func(err *stepflow.PanicError) {
		caught = err
	}))

	run := seq.Start(context.Background(), func(err error, results []interface{}) {
		completed = true
	})
	require.NotNil(t, caught)
	assert.Equal(t, 1, caught.Index)
	assert.Equal(t, "boom", caught.Value)
	assert.Equal(t, run.ID(), caught.RunID)
	assert.False(t, completed)
	assert.Equal(t, stepflow.RunStateAborted, run.State())

	out, err := run.Wait(context.Background())
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, stepflow.ErrAborted))
	var panicErr *stepflow.PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, 1, panicErr.Index)
}

func TestSequence_PanicPropagates(t *testing.T) {
	journal := stepflow.NewMemoryJournal()
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			panic(errors.New("boom"))
		},
	}, stepflow.WithJournal(journal))

	assert.PanicsWithError(t, "boom", func() {
		seq.Start(context.Background(), nil)
	})
	infos, err := journal.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, stepflow.RunStateAborted, infos[0].State)
	assert.Contains(t, infos[0].Error, "boom")
}

func TestSequence_PanicIgnoresTolerance(t *testing.T) {
	var caught bool
	seq := stepflow.New([]stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			panic("boom")
		},
	}, stepflow.WithTolerance(true), stepflow.WithCatcher(func(err *stepflow.PanicError) { caught = true }))
	run := seq.Start(context.Background(), nil)
	assert.True(t, caught)
	assert.Equal(t, stepflow.RunStateAborted, run.State())
}

func TestNewFromConfig(t *testing.T) {
	_, err := stepflow.NewFromConfig(&stepflow.Config{MaxRepeats: -1}, nil)
	assert.True(t, errors.Is(err, stepflow.ErrInvalidConfig))

	cfg := stepflow.DefaultConfig()
	cfg.Name = "configured"
	cfg.Tolerance = true
	seq, err := stepflow.NewFromConfig(cfg, []stepflow.Task{
		func(ctl *stepflow.Controller, err error, results []interface{}) {
			ctl.SetCount(2)
			ctl.Done(errors.New("first"), nil)
			assert.Equal(t, 1, ctl.Remaining(), "tolerant fan-out keeps waiting")
			ctl.Done(nil, nil)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "configured", seq.Name())
	assert.Equal(t, 1, seq.Len())
	assert.Nil(t, seq.Publisher())
	out := wait(t, seq.Start(context.Background(), nil))
	assert.IsType(t, stepflow.Errors{}, out.Err)
}
