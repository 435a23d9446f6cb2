package skein

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"skein.dev/skein/channel"
	"skein.dev/skein/metric"
)

type (
	// StageOption provides a way to set functional parameters to a
	// single stage.
	StageOption func(*stageOptions)

	stageOptions struct {
		unordered bool
		timeout   time.Duration
		decider   Decider
	}
)

// Unordered lets MapAsync emit results as invocations complete instead of
// in arrival order.
func Unordered() StageOption {
	return func(o *stageOptions) {
		o.unordered = true
	}
}

// WithStageTimeout bounds a single async invocation. An overdue
// invocation fails its element with ErrTimeout; the function observes the
// deadline through its context.
func WithStageTimeout(d time.Duration) StageOption {
	return func(o *stageOptions) {
		o.timeout = d
	}
}

// WithDecider resolves element failures instead of stopping the stage on
// the first one.
func WithDecider(dec Decider) StageOption {
	return func(o *stageOptions) {
		o.decider = dec
	}
}

// MapAsync returns an outlet emitting fn applied to every element of src
// with up to parallelism invocations in flight. Results keep arrival
// order unless Unordered is set. An invocation error is resolved by the
// decider: Resume drops the element, anything else fails the pipeline
// with the invocation's error.
func MapAsync[A, B any](src Outlet[A], parallelism int, fn func(context.Context, A) (B, error), options ...StageOption) Outlet[B] {
	p := src.pipeline()
	in := src.consume("map-async")
	out := newOutlet[B](p)
	if parallelism < 1 {
		parallelism = 1
	}
	var opts stageOptions
	for _, option := range options {
		option(&opts)
	}
	p.register("map-async", &asyncState[A, B]{
		link:        link[A, B]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("map-async")}},
		metered:     metered{meter: metric.Meter("map-async")},
		fn:          fn,
		parallelism: parallelism,
		opts:        opts,
	})
	return out
}

type result[B any] struct {
	v   B
	err error
}

type asyncState[A, B any] struct {
	link[A, B]
	metered
	fn          func(context.Context, A) (B, error)
	parallelism int
	opts        stageOptions

	g       *errgroup.Group
	gctx    context.Context
	results chan chan result[B]
	resDone bool
	collect chan struct{}
}

// Start arms the workers and, for ordered emission, the collector.
func (s *asyncState[A, B]) Start(ctx context.Context) error {
	s.measure = s.meter()
	s.g, s.gctx = errgroup.WithContext(ctx)
	s.g.SetLimit(s.parallelism)
	if !s.opts.unordered {
		s.results = make(chan chan result[B], s.parallelism)
		s.collect = make(chan struct{})
		go s.collectLoop(ctx)
	}
	return nil
}

// Flush joins the workers and the collector before the stage reports
// done.
func (s *asyncState[A, B]) Flush(context.Context) error {
	s.closeResults()
	err := s.g.Wait()
	if s.collect != nil {
		<-s.collect
		return nil
	}
	// unordered: the output closes only after the last worker is done.
	s.out.Close()
	if err == nil {
		s.events.completed()
	}
	return nil
}

func (s *asyncState[A, B]) Execute(ctx context.Context) error {
	if s.opts.unordered {
		return s.executeUnordered(ctx)
	}
	return s.executeOrdered(ctx)
}

func (s *asyncState[A, B]) executeOrdered(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		switch {
		case err == io.EOF:
			s.closeResults()
			return io.EOF
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, channel.ErrCanceled):
			// the collector stopped the stage already.
			return io.EOF
		default:
			s.out.Fail(err)
			s.closeResults()
			return io.EOF
		}
	}

	resc := make(chan result[B], 1)
	select {
	case s.results <- resc:
	case <-s.collect:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
	s.g.Go(func() error {
		resc <- s.invoke(s.gctx, v)
		return nil
	})
	return nil
}

func (s *asyncState[A, B]) executeUnordered(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		switch {
		case err == io.EOF:
			return io.EOF
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, channel.ErrCanceled):
			return io.EOF
		default:
			s.out.Fail(err)
			return io.EOF
		}
	}
	s.measure(1)
	s.g.Go(func() error {
		r := s.invoke(s.gctx, v)
		if r.err != nil {
			if s.decide(r.err) == Resume {
				return nil
			}
			s.events.failed(r.err)
			s.out.Fail(r.err)
			s.in.Fail(channel.ErrCanceled)
			return r.err
		}
		if err := s.out.Put(s.gctx, r.v); err != nil && !errors.Is(err, context.Canceled) {
			s.in.Fail(channel.ErrCanceled)
		}
		return nil
	})
	return nil
}

// collectLoop emits ordered results. It is the only writer of the output
// link, so arrival order is preserved exactly.
func (s *asyncState[A, B]) collectLoop(ctx context.Context) {
	defer close(s.collect)
	for resc := range s.results {
		r := <-resc
		if r.err != nil {
			if s.decide(r.err) == Resume {
				continue
			}
			s.events.failed(r.err)
			s.out.Fail(r.err)
			s.in.Fail(channel.ErrCanceled)
			return
		}
		if err := s.out.Put(ctx, r.v); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.in.Fail(channel.ErrCanceled)
			}
			return
		}
		s.measure(1)
	}
	s.out.Close()
	s.events.completed()
}

// invoke runs a single async invocation under the stage timeout.
func (s *asyncState[A, B]) invoke(ctx context.Context, v A) result[B] {
	if s.opts.timeout < 1 {
		b, err := s.fn(ctx, v)
		return result[B]{v: b, err: err}
	}
	tctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	b, err := s.fn(tctx, v)
	if err != nil && tctx.Err() == context.DeadlineExceeded {
		err = ErrTimeout
	}
	return result[B]{v: b, err: err}
}

func (s *asyncState[A, B]) decide(err error) Directive {
	if s.opts.decider == nil {
		return Stop
	}
	return s.opts.decider(err)
}

// closeResults ends the ordered result queue exactly once.
func (s *asyncState[A, B]) closeResults() {
	if s.results == nil || s.resDone {
		return
	}
	s.resDone = true
	close(s.results)
}
