package work

import (
	"context"
	"fmt"
	"time"
)

// result is the outcome of running a task.
type result struct {
	task   *task
	output Data
	err    error
	dur    time.Duration
}

// worker runs tasks handed out by the sequencer until shutdown.
func (o *Orchestrator) worker() error {
	for {
		var t *task
		select {
		case t = <-o.workCh:
		case <-o.shutdownCh:
			return nil
		}

		res := o.run(t)

		select {
		case o.doneCh <- res:
		case <-o.shutdownCh:
			return nil
		}
	}
}

func (o *Orchestrator) run(t *task) (res result) {
	res.task = t
	start := time.Now()
	defer func() {
		res.dur = time.Since(start)
	}()

	b, ok := o.config.Registry.Lookup(t.kind)
	if !ok {
		res.err = fmt.Errorf("%w: %q", ErrUnknownKind, t.kind)
		return res
	}

	out, err := invoke(t.ctx, b, t.input.Clone())
	if err != nil {
		res.err = err
		return res
	}
	res.output = out
	return res
}

// invoke calls the behavior, turning errors and panics into execution
// failures.
func invoke(ctx context.Context, b Behavior, in Data) (out Data, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrExecutionFailure, r)
		}
	}()

	out, err = b(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailure, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailure, err)
	}
	return out, nil
}
