package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/nasa-jpl/detctl/watch"
)

const cleanupTimeout = 5 * time.Second

// InitOutput is what a job's Init produces: the ordered steps to run and the
// data they share
type InitOutput[S, D any] struct {
	Steps []S
	Data  D
}

// Job is a three phase capture.  S is the step type, D the data shared by
// the steps and R the result.
type Job[S, D, R any] interface {
	Name() string

	// Init configures the detector and plans the steps
	Init(ctx context.Context, cc *Context) (InitOutput[S, D], error)

	// ExecuteStep runs one step.  ctx is canceled if the capture is canceled
	// while the step runs; the engine does not wait for the step to notice.
	ExecuteStep(ctx context.Context, step S, data *D, cc *Context) error

	// Finalize turns the data into the result once every step has run
	Finalize(ctx context.Context, data D, cc *Context) (R, error)
}

// Cleaner is implemented by jobs that must restore the detector after a
// capture that was canceled or failed after Init succeeded
type Cleaner interface {
	Cleanup(ctx context.Context, cc *Context) error
}

type phaseResult[T any] struct {
	v   T
	err error
}

// runPhase runs f on its own goroutine and waits for it, a cancel command or
// the end of ctx, whichever comes first.  On cancel the goroutine's context
// is canceled and runPhase gives it up to cleanupTimeout to unwind, so any
// device command it queues on the way out reaches the actor before the
// capture ends.
func runPhase[T any](ctx context.Context, cmds *watch.Receiver[Command], f func(context.Context) (T, error)) (T, error) {
	var zero T
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan phaseResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- phaseResult[T]{err: Critical("panic: %v", r)}
			}
		}()
		v, err := f(tctx)
		done <- phaseResult[T]{v: v, err: err}
	}()
	for {
		select {
		case r := <-done:
			cancel()
			return r.v, r.err
		case <-cmds.Changed():
			if cmds.BorrowAndUpdate() == CommandCancel {
				cancel()
				settle(done)
				return zero, ErrCanceled
			}
		case <-ctx.Done():
			cancel()
			settle(done)
			return zero, ErrCanceled
		}
	}
}

func settle[T any](done <-chan phaseResult[T]) {
	t := time.NewTimer(cleanupTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}

func cancelPending(ctx context.Context, cmds *watch.Receiver[Command]) bool {
	return ctx.Err() != nil || cmds.Borrow() == CommandCancel
}

// Run drives job through Init, its steps in order and Finalize.  Progress is
// published on cc: the task count after Init and the completed count after
// each step.  A cancel command is observed at each phase boundary and while
// waiting on a phase; Finalize is not cancelable.
func Run[S, D, R any](ctx context.Context, job Job[S, D, R], cc *Context, cmds *watch.Receiver[Command]) (R, error) {
	var zero R
	if cancelPending(ctx, cmds) {
		return zero, ErrCanceled
	}
	init, err := runPhase(ctx, cmds, func(ctx context.Context) (InitOutput[S, D], error) {
		return job.Init(ctx, cc)
	})
	if err != nil {
		if err == ErrCanceled {
			return zero, err
		}
		return zero, fmt.Errorf("%s init: %w", job.Name(), err)
	}
	cc.Publish(TaskCount(len(init.Steps)))

	data := init.Data
	for i, step := range init.Steps {
		if cancelPending(ctx, cmds) {
			cleanup(ctx, job, cc)
			return zero, ErrCanceled
		}
		step := step
		_, err := runPhase(ctx, cmds, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, job.ExecuteStep(ctx, step, &data, cc)
		})
		if err != nil {
			cleanup(ctx, job, cc)
			if err == ErrCanceled {
				return zero, err
			}
			return zero, fmt.Errorf("%s step %d: %w", job.Name(), i, err)
		}
		cc.Publish(CompletedTaskCount(i + 1))
	}
	if ctx.Err() != nil {
		cleanup(ctx, job, cc)
		return zero, ErrCanceled
	}
	return job.Finalize(ctx, data, cc)
}

func cleanup[S, D, R any](ctx context.Context, job Job[S, D, R], cc *Context) {
	c, ok := job.(Cleaner)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := c.Cleanup(cctx, cc); err != nil {
		cc.Publish(Message(fmt.Sprintf("%s cleanup: %v", job.Name(), err)))
	}
}
