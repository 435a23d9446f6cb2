package skein

import (
	"context"
	"errors"
	"io"

	"skein.dev/skein/channel"
	"skein.dev/skein/internal/runtime"
	"skein.dev/skein/metric"
)

// Recover returns an outlet shielding the downstream from upstream
// failures matching pred: instead of the failure it emits fallback and
// completes. Failures not matching pred propagate untouched. A nil pred
// matches every failure.
func Recover[A any](src Outlet[A], pred func(error) bool, fallback A) Outlet[A] {
	p := src.pipeline()
	in := src.consume("recover")
	out := newOutlet[A](p)
	if pred == nil {
		pred = matchAll
	}
	p.register("recover", &recoverState[A]{
		link:     link[A, A]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("recover")}},
		metered:  metered{meter: metric.Meter("recover")},
		pred:     pred,
		fallback: fallback,
	})
	return out
}

// RecoverWithRetries returns an outlet that reacts to upstream failures
// matching pred by materializing a replacement source from factory, up to
// attempts times. The factory builds the replacement into the pipeline it
// is handed and returns its terminal outlet; each attempt gets a fresh
// materialization. Once the attempts are spent, or on a failure not
// matching pred, the failure propagates.
//
// Elements emitted before a failure stay emitted: the downstream sees the
// concatenation of all attempts.
func RecoverWithRetries[A any](src Outlet[A], attempts int, pred func(error) bool, factory func(*Pipeline) Outlet[A]) Outlet[A] {
	p := src.pipeline()
	in := src.consume("recover-retries")
	out := newOutlet[A](p)
	if pred == nil {
		pred = matchAll
	}
	p.register("recover-retries", &retryState[A]{
		link:     link[A, A]{in: in, out: out.ch, events: stageEvents{p: p, id: p.nextStageID("recover-retries")}},
		metered:  metered{meter: metric.Meter("recover-retries")},
		parent:   p,
		attempts: attempts,
		pred:     pred,
		factory:  factory,
	})
	return out
}

type recoverState[A any] struct {
	link[A, A]
	metered
	pred     func(error) bool
	fallback A
}

// Execute forwards a single element. On a matching upstream failure the
// fallback goes out instead and the stage completes.
func (s *recoverState[A]) Execute(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err == nil {
		if perr := s.out.Put(ctx, v); perr != nil {
			return s.outDone(perr)
		}
		s.measure(1)
		return nil
	}
	if err == io.EOF || errors.Is(err, context.Canceled) || !s.pred(err) {
		return s.inDone(err)
	}
	if perr := s.out.Put(ctx, s.fallback); perr != nil {
		return s.outDone(perr)
	}
	s.measure(1)
	s.out.Close()
	s.events.completed()
	return io.EOF
}

type retryState[A any] struct {
	link[A, A]
	metered
	parent   *Pipeline
	attempts int
	pred     func(error) bool
	factory  func(*Pipeline) Outlet[A]

	cur       *channel.Chan[A]
	subMerger *runtime.Merger
	subCancel context.CancelFunc
}

func (s *retryState[A]) Start(ctx context.Context) error {
	s.measure = s.meter()
	s.cur = s.in
	return nil
}

// Flush tears down a replacement source left over from a canceled run.
func (s *retryState[A]) Flush(context.Context) error {
	s.joinSub()
	return nil
}

// Execute forwards a single element from the current source, switching to
// a fresh replacement when the current one fails with a matching cause.
func (s *retryState[A]) Execute(ctx context.Context) error {
	v, err := s.cur.Take(ctx)
	if err == nil {
		if perr := s.out.Put(ctx, v); perr != nil {
			s.cur.Fail(channel.ErrCanceled)
			return s.outDone(perr)
		}
		s.measure(1)
		return nil
	}
	switch {
	case err == io.EOF:
		s.joinSub()
		s.out.Close()
		s.events.completed()
		return io.EOF
	case errors.Is(err, context.Canceled):
		return err
	case !s.pred(err) || s.attempts < 1:
		s.joinSub()
		s.out.Fail(err)
		return io.EOF
	}
	s.attempts--
	s.joinSub()

	sub := New(
		WithName(s.parent.String()),
		WithCapacity(s.parent.capacity),
		WithPolicy(s.parent.policy),
		WithEvents(s.parent.broker),
		WithLogger(s.parent.log),
	)
	feed := s.factory(sub)
	cur := feed.consume("recover-retries")
	if verr := sub.validate(); verr != nil {
		s.events.failed(verr)
		s.out.Fail(verr)
		return io.EOF
	}
	s.subMerger, s.subCancel = sub.spawn(ctx)
	s.cur = cur
	return nil
}

// joinSub cancels the active replacement source and waits for its stages
// to exit.
func (s *retryState[A]) joinSub() {
	if s.subMerger == nil {
		return
	}
	s.subCancel()
	for range s.subMerger.Errors() {
	}
	s.subMerger, s.subCancel = nil, nil
}

// matchAll is the predicate used when none was given: every failure is
// recoverable.
func matchAll(error) bool {
	return true
}
