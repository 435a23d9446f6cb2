package skein

import (
	"context"
	"errors"
	"io"

	"skein.dev/skein/channel"
	"skein.dev/skein/metric"
)

// Emit returns a source outlet producing the given values in order and
// completing after the last one.
func Emit[T any](p *Pipeline, vs ...T) Outlet[T] {
	out := newOutlet[T](p)
	p.register("emit", &emitState[T]{
		out:     out.ch,
		vs:      vs,
		events:  stageEvents{p: p, id: p.nextStageID("emit")},
		metered: metered{meter: metric.Meter("emit")},
	})
	return out
}

// SourceFunc returns a source outlet pulling elements from fn. The source
// completes when fn returns io.EOF; any other error fails the pipeline
// with it.
func SourceFunc[T any](p *Pipeline, fn func(context.Context) (T, error)) Outlet[T] {
	out := newOutlet[T](p)
	p.register("source", &sourceState[T]{
		out:     out.ch,
		fn:      fn,
		events:  stageEvents{p: p, id: p.nextStageID("source")},
		metered: metered{meter: metric.Meter("source")},
	})
	return out
}

type emitState[T any] struct {
	metered
	out    *channel.Chan[T]
	vs     []T
	idx    int
	events stageEvents
}

// Execute emits a single element. io.EOF is returned once all values are
// out or the downstream canceled.
func (s *emitState[T]) Execute(ctx context.Context) error {
	if s.idx >= len(s.vs) {
		s.out.Close()
		s.events.completed()
		return io.EOF
	}
	if err := s.out.Put(ctx, s.vs[s.idx]); err != nil {
		return sourceDone(err)
	}
	s.idx++
	s.measure(1)
	return nil
}

type sourceState[T any] struct {
	metered
	out    *channel.Chan[T]
	fn     func(context.Context) (T, error)
	events stageEvents
}

// Execute pulls a single element. io.EOF from fn completes the source,
// any other error becomes the failure cause of everything downstream.
func (s *sourceState[T]) Execute(ctx context.Context) error {
	v, err := s.fn(ctx)
	if err == io.EOF {
		s.out.Close()
		s.events.completed()
		return io.EOF
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		s.events.failed(err)
		s.out.Fail(err)
		return io.EOF
	}
	if err := s.out.Put(ctx, v); err != nil {
		return sourceDone(err)
	}
	s.measure(1)
	return nil
}

// sourceDone maps a failed put at the head of the pipeline to the loop
// error. A canceled run keeps its context error, everything else is the
// downstream winding the source down.
func sourceDone(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return io.EOF
}
