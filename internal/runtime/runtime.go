// Package runtime executes pipeline stages. Every stage runs in its own
// goroutine as a start-execute-flush loop; failures are reported through a
// per-stage error channel and folded by the merger.
package runtime

import (
	"context"
	"errors"
	"io"
)

type (
	// Executor executes a single unit of stage work.
	Executor interface {
		Start(context.Context) error
		Execute(context.Context) error
		Flush(context.Context) error
	}

	// StartFunc is a closure that triggers the stage start hook.
	StartFunc func(context.Context) error
	// FlushFunc is a closure that triggers the stage flush hook.
	FlushFunc func(context.Context) error
)

// Start calls the start hook.
func (fn StartFunc) Start(ctx context.Context) error {
	return callHook(ctx, fn)
}

// Flush calls the flush hook.
func (fn FlushFunc) Flush(ctx context.Context) error {
	return callHook(ctx, fn)
}

func callHook(ctx context.Context, hook func(context.Context) error) error {
	if hook == nil {
		return nil
	}
	return hook(ctx)
}

// Run starts the executor loop in its own goroutine. The returned channel
// is closed once the loop is done; before that it carries the execute
// error and the flush error, if any. io.EOF ends the loop without an
// error, and so does context cancellation: a stage woken up by a canceled
// run is not the stage that caused the teardown.
func Run(ctx context.Context, e Executor) <-chan error {
	errc := make(chan error, 2)
	go run(ctx, e, errc)
	return errc
}

func run(ctx context.Context, e Executor, errc chan<- error) {
	defer close(errc)
	if err := e.Start(ctx); err != nil {
		errc <- err
		return
	}
	defer func() {
		if err := e.Flush(ctx); err != nil {
			errc <- err
		}
	}()

	var err error
	for err == nil {
		err = e.Execute(ctx)
	}
	if err != io.EOF && !errors.Is(err, context.Canceled) {
		errc <- err
	}
}
