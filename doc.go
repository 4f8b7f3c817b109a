// Package stepflow sequences callback-based asynchronous work.
//
// A Sequence is an immutable ordered list of tasks. Each task receives a
// Controller, the error and results recorded by the previous task, and may fan
// out into concurrent sub-operations; the sequence advances once every counted
// completion has been reported:
//
//	seq := stepflow.New([]stepflow.Task{
//		func(ctl *stepflow.Controller, err error, results []interface{}) {
//			ctl.Parallel(stepflow.Times(3), func(i int, _ interface{}, done stepflow.DoneFunc) {
//				go func() { done(fetch(i)) }()
//			})
//		},
//		func(ctl *stepflow.Controller, err error, results []interface{}) {
//			ctl.Next(err, merge(results))
//		},
//	})
//	run := seq.Start(ctx, nil)
//	out, _ := run.Wait(ctx)
//
// Every Start allocates an independent Run, so a definition can be executed
// concurrently or nested inside another sequence with AsTask.
//
// Runs can be observed through structured logs, OpenTelemetry spans,
// lifecycle events, a run journal and progress counters, see the With*
// options.
package stepflow
