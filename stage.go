package skein

import (
	"context"
	"errors"
	"io"

	"skein.dev/skein/channel"
	"skein.dev/skein/metric"
)

// metered carries the stage meter. The measure closure is armed at start
// so that latency is not counted from construction time.
type metered struct {
	meter   metric.ResetFunc
	measure metric.MeasureFunc
}

func (m *metered) Start(context.Context) error {
	m.measure = m.meter()
	return nil
}

func (m *metered) Flush(context.Context) error {
	return nil
}

// link binds a linear stage to its input and output. It owns the terminal
// transitions shared by every stage with one of each: completion travels
// downstream as Close, failure travels downstream as the original cause
// and cancellation travels upstream as channel.ErrCanceled.
type link[A, B any] struct {
	in     *channel.Chan[A]
	out    *channel.Chan[B]
	events stageEvents
}

// inDone maps a terminal take to the loop error. The origin of a failure
// already accounted for it, so passing the cause on is a quiet exit.
func (l *link[A, B]) inDone(err error) error {
	if err == io.EOF {
		l.out.Close()
		l.events.completed()
		return io.EOF
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	l.out.Fail(err)
	return io.EOF
}

// outDone maps a failed put to the loop error and winds the upstream
// down.
func (l *link[A, B]) outDone(err error) error {
	l.in.Fail(channel.ErrCanceled)
	if errors.Is(err, context.Canceled) {
		return err
	}
	return io.EOF
}

// Map returns an outlet emitting fn applied to every element of src.
func Map[A, B any](src Outlet[A], fn func(A) B) Outlet[B] {
	p := src.pipeline()
	in := src.consume("map")
	out := newOutlet[B](p)
	p.register("map", &mapState[A, B]{
		link:    link[A, B]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("map")}},
		metered: metered{meter: metric.Meter("map")},
		fn:      fn,
	})
	return out
}

// Filter returns an outlet emitting the elements of src for which pred
// holds.
func Filter[A any](src Outlet[A], pred func(A) bool) Outlet[A] {
	p := src.pipeline()
	in := src.consume("filter")
	out := newOutlet[A](p)
	p.register("filter", &filterState[A]{
		link:    link[A, A]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("filter")}},
		metered: metered{meter: metric.Meter("filter")},
		pred:    pred,
	})
	return out
}

// Take returns an outlet emitting the first n elements of src and then
// completing. The upstream is canceled once n elements are through.
func Take[A any](src Outlet[A], n int) Outlet[A] {
	p := src.pipeline()
	in := src.consume("take")
	out := newOutlet[A](p)
	p.register("take", &takeState[A]{
		link:      link[A, A]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("take")}},
		metered:   metered{meter: metric.Meter("take")},
		remaining: n,
	})
	return out
}

// Buffer returns an outlet decoupled from src by a link with its own
// capacity and overflow policy. It is the way to give a single link a
// policy different from the pipeline default.
func Buffer[A any](src Outlet[A], capacity int, policy channel.Policy) Outlet[A] {
	p := src.pipeline()
	in := src.consume("buffer")
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	out := newOutletWith[A](p, capacity, policy)
	p.register("buffer", &bufferState[A]{
		forwardState: forwardState[A]{
			link:    link[A, A]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("buffer")}},
			metered: metered{meter: metric.Meter("buffer")},
		},
	})
	return out
}

// AsyncBoundary returns an outlet whose upstream and downstream advance
// independently: a dedicated forwarding stage decouples their rates up to
// one element ahead.
func AsyncBoundary[A any](src Outlet[A]) Outlet[A] {
	p := src.pipeline()
	in := src.consume("async-boundary")
	out := newOutletWith[A](p, 1, channel.Backpressure)
	p.register("async-boundary", &forwardState[A]{
		link:    link[A, A]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("async-boundary")}},
		metered: metered{meter: metric.Meter("async-boundary")},
	})
	return out
}

type mapState[A, B any] struct {
	link[A, B]
	metered
	fn func(A) B
}

// Execute transforms a single element.
func (s *mapState[A, B]) Execute(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		return s.inDone(err)
	}
	if err := s.out.Put(ctx, s.fn(v)); err != nil {
		return s.outDone(err)
	}
	s.measure(1)
	return nil
}

type filterState[A any] struct {
	link[A, A]
	metered
	pred func(A) bool
}

// Execute passes a single element through the predicate.
func (s *filterState[A]) Execute(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		return s.inDone(err)
	}
	if !s.pred(v) {
		return nil
	}
	if err := s.out.Put(ctx, v); err != nil {
		return s.outDone(err)
	}
	s.measure(1)
	return nil
}

type takeState[A any] struct {
	link[A, A]
	metered
	remaining int
}

// Execute forwards a single element until the quota is reached, then
// completes downstream and cancels upstream.
func (s *takeState[A]) Execute(ctx context.Context) error {
	if s.remaining < 1 {
		s.out.Close()
		s.in.Fail(channel.ErrCanceled)
		s.events.completed()
		return io.EOF
	}
	v, err := s.in.Take(ctx)
	if err != nil {
		return s.inDone(err)
	}
	if err := s.out.Put(ctx, v); err != nil {
		return s.outDone(err)
	}
	s.remaining--
	s.measure(1)
	return nil
}

type forwardState[A any] struct {
	link[A, A]
	metered
}

// Execute moves a single element across the boundary.
func (s *forwardState[A]) Execute(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		return s.inDone(err)
	}
	if err := s.out.Put(ctx, v); err != nil {
		return s.outDone(err)
	}
	s.measure(1)
	return nil
}

type bufferState[A any] struct {
	forwardState[A]
}

// Flush records how many elements the overflow policy discarded.
func (s *bufferState[A]) Flush(context.Context) error {
	metric.CountDropped("buffer", s.out.Dropped())
	return nil
}
