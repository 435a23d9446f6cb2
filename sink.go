package skein

import (
	"context"
	"errors"
	"io"
	"sync"

	"skein.dev/skein/channel"
	"skein.dev/skein/metric"
)

// Collect returns a handle accumulating every element of src. The values
// are complete once the run is done.
func Collect[A any](src Outlet[A]) *Collected[A] {
	p := src.pipeline()
	in := src.consume("collect")
	c := &Collected[A]{}
	p.register("collect", &collectState[A]{
		sink:    sink[A]{in: in, events: stageEvents{p: p, id: p.nextStageID("collect")}},
		metered: metered{meter: metric.Meter("collect")},
		dst:     c,
	})
	return c
}

// ForEach runs fn for every element of src. An error from fn fails the
// pipeline with it.
func ForEach[A any](src Outlet[A], fn func(A) error) {
	p := src.pipeline()
	in := src.consume("foreach")
	p.register("foreach", &forEachState[A]{
		sink:    sink[A]{in: in, events: stageEvents{p: p, id: p.nextStageID("foreach")}},
		metered: metered{meter: metric.Meter("foreach")},
		fn:      fn,
	})
}

// Discard consumes and drops every element of src. It terminates a branch
// whose elements do not matter, such as the unused side of a broadcast.
func Discard[A any](src Outlet[A]) {
	p := src.pipeline()
	in := src.consume("discard")
	p.register("discard", &discardState[A]{
		sink:    sink[A]{in: in, events: stageEvents{p: p, id: p.nextStageID("discard")}},
		metered: metered{meter: metric.Meter("discard")},
	})
}

// Collected accumulates the elements a collect sink consumed.
type Collected[A any] struct {
	mu sync.Mutex
	vs []A
}

// Values returns a copy of what was collected so far. The set is complete
// once Run.Wait returned.
func (c *Collected[A]) Values() []A {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]A(nil), c.vs...)
}

func (c *Collected[A]) add(v A) {
	c.mu.Lock()
	c.vs = append(c.vs, v)
	c.mu.Unlock()
}

// sink owns the terminal take shared by every stage without an output.
// Sinks are where pipeline failures surface: an upstream cause arriving
// here is reported to the run.
type sink[A any] struct {
	in     *channel.Chan[A]
	events stageEvents
}

// next takes one element. When done is set the caller passes err straight
// to the loop.
func (s *sink[A]) next(ctx context.Context) (v A, done bool, err error) {
	v, err = s.in.Take(ctx)
	switch {
	case err == nil:
		return v, false, nil
	case err == io.EOF:
		s.events.completed()
		return v, true, io.EOF
	case errors.Is(err, channel.ErrCanceled):
		return v, true, io.EOF
	default:
		// the failure cause of the upstream becomes the run error.
		return v, true, err
	}
}

// fail reports the sink's own failure and winds the upstream down.
func (s *sink[A]) fail(err error) error {
	s.events.failed(err)
	s.in.Fail(channel.ErrCanceled)
	return err
}

type collectState[A any] struct {
	sink[A]
	metered
	dst *Collected[A]
}

// Execute stores a single element.
func (s *collectState[A]) Execute(ctx context.Context) error {
	v, done, err := s.next(ctx)
	if done {
		return err
	}
	s.dst.add(v)
	s.measure(1)
	return nil
}

type forEachState[A any] struct {
	sink[A]
	metered
	fn func(A) error
}

// Execute applies fn to a single element.
func (s *forEachState[A]) Execute(ctx context.Context) error {
	v, done, err := s.next(ctx)
	if done {
		return err
	}
	if err := s.fn(v); err != nil {
		return s.fail(err)
	}
	s.measure(1)
	return nil
}

type discardState[A any] struct {
	sink[A]
	metered
}

// Execute drops a single element.
func (s *discardState[A]) Execute(ctx context.Context) error {
	_, done, err := s.next(ctx)
	if done {
		return err
	}
	s.measure(1)
	return nil
}
