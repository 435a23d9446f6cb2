package skein

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"

	"skein.dev/skein/channel"
	"skein.dev/skein/metric"
)

// Broadcast returns k outlets each emitting every element of src. The
// junction moves on only when all live downstreams accepted the element,
// so the slowest one governs the pace. A downstream that cancels is
// detached; the junction cancels upstream once all of them are gone.
func Broadcast[A any](src Outlet[A], k int) []Outlet[A] {
	p := src.pipeline()
	in := src.consume("broadcast")
	if k < 1 {
		k = 1
	}
	outlets := make([]Outlet[A], k)
	outs := make([]*channel.Chan[A], k)
	for i := range outlets {
		outlets[i] = newOutlet[A](p)
		outs[i] = outlets[i].ch
	}
	p.register("broadcast", &broadcastState[A]{
		in:      in,
		outs:    outs,
		live:    liveSet(k),
		alive:   k,
		events:  stageEvents{p: p, id: p.nextStageID("broadcast")},
		metered: metered{meter: metric.Meter("broadcast")},
	})
	return outlets
}

// Balance returns k outlets among which the elements of src are
// distributed. Each element goes to exactly one downstream: the next
// ready one in strict round-robin order. With all downstreams ready the
// distribution is an exact rotation.
func Balance[A any](src Outlet[A], k int) []Outlet[A] {
	p := src.pipeline()
	in := src.consume("balance")
	if k < 1 {
		k = 1
	}
	outlets := make([]Outlet[A], k)
	outs := make([]*channel.Chan[A], k)
	for i := range outlets {
		outlets[i] = newOutlet[A](p)
		outs[i] = outlets[i].ch
	}
	p.register("balance", &balanceState[A]{
		in:      in,
		outs:    outs,
		live:    liveSet(k),
		alive:   k,
		last:    -1,
		events:  stageEvents{p: p, id: p.nextStageID("balance")},
		metered: metered{meter: metric.Meter("balance")},
	})
	return outlets
}

// Merge returns an outlet emitting the elements of all sources as they
// arrive. When several sources are ready the junction picks them in
// round-robin order, resuming after the last winner. The merged outlet
// completes once every source completed.
func Merge[A any](srcs ...Outlet[A]) Outlet[A] {
	if len(srcs) == 0 {
		panic("skein: merge requires at least one source")
	}
	return merge("merge", srcs)
}

// MergePreferred behaves like Merge but polls the preferred source first
// on every round, so its elements win whenever it is ready.
func MergePreferred[A any](preferred Outlet[A], others ...Outlet[A]) Outlet[A] {
	return merge("merge-preferred", append([]Outlet[A]{preferred}, others...))
}

func merge[A any](kind string, srcs []Outlet[A]) Outlet[A] {
	p := srcs[0].pipeline()
	ins := make([]*channel.Chan[A], len(srcs))
	for i := range srcs {
		if srcs[i].pipeline() != p {
			p.fail(fmt.Errorf("%s: sources belong to different pipelines", kind))
		}
		ins[i] = srcs[i].consume(kind)
	}
	out := newOutlet[A](p)
	p.register(kind, &mergeState[A]{
		ins:       ins,
		out:       out.ch,
		done:      make([]bool, len(ins)),
		alive:     len(ins),
		last:      -1,
		lastOther: -1,
		preferred: kind == "merge-preferred",
		events:    stageEvents{p: p, id: p.nextStageID(kind)},
		metered:   metered{meter: metric.Meter(kind)},
	})
	return out
}

// MergeSorted returns an outlet emitting the elements of two individually
// non-decreasing sources in globally non-decreasing order. The left
// source wins ties. A source that emits out of order fails the pipeline
// with ErrSortViolation.
func MergeSorted[A any](a, b Outlet[A], less func(A, A) bool) Outlet[A] {
	p := a.pipeline()
	if b.pipeline() != p {
		p.fail(errors.New("merge-sorted: sources belong to different pipelines"))
	}
	left := a.consume("merge-sorted")
	right := b.consume("merge-sorted")
	out := newOutlet[A](p)
	p.register("merge-sorted", &mergeSortedState[A]{
		ins:     [2]*channel.Chan[A]{left, right},
		out:     out.ch,
		less:    less,
		events:  stageEvents{p: p, id: p.nextStageID("merge-sorted")},
		metered: metered{meter: metric.Meter("merge-sorted")},
	})
	return out
}

func liveSet(k int) []bool {
	live := make([]bool, k)
	for i := range live {
		live[i] = true
	}
	return live
}

// waitAny suspends until one of the signals fires or ctx is done. The
// signals are edge-triggered channel notifications captured before the
// caller's last scan, so a wakeup that happened in between is not lost.
func waitAny(ctx context.Context, signals []<-chan struct{}) error {
	cases := make([]reflect.SelectCase, 0, len(signals)+1)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	for _, s := range signals {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(s),
		})
	}
	if chosen, _, _ := reflect.Select(cases); chosen == 0 {
		return ctx.Err()
	}
	return nil
}

type broadcastState[A any] struct {
	metered
	in     *channel.Chan[A]
	outs   []*channel.Chan[A]
	live   []bool
	alive  int
	events stageEvents
}

// Execute replicates a single element to every live downstream.
func (s *broadcastState[A]) Execute(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		return s.inDone(err)
	}
	for i := range s.outs {
		if !s.live[i] {
			continue
		}
		if perr := s.outs[i].Put(ctx, v); perr != nil {
			if errors.Is(perr, context.Canceled) {
				return perr
			}
			s.live[i] = false
			s.alive--
		}
	}
	if s.alive == 0 {
		s.in.Fail(channel.ErrCanceled)
		return io.EOF
	}
	s.measure(1)
	return nil
}

func (s *broadcastState[A]) inDone(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	for i := range s.outs {
		if !s.live[i] {
			continue
		}
		if err == io.EOF {
			s.outs[i].Close()
		} else {
			s.outs[i].Fail(err)
		}
	}
	if err == io.EOF {
		s.events.completed()
	}
	return io.EOF
}

type balanceState[A any] struct {
	metered
	in     *channel.Chan[A]
	outs   []*channel.Chan[A]
	live   []bool
	alive  int
	last   int
	events stageEvents
}

// Execute routes a single element to the next ready downstream, waiting
// for readiness when none of them can accept it.
func (s *balanceState[A]) Execute(ctx context.Context) error {
	v, err := s.in.Take(ctx)
	if err != nil {
		return s.inDone(err)
	}
	for {
		signals := s.readySignals()
		n := len(s.outs)
		for k := 1; k <= n; k++ {
			idx := (s.last + k) % n
			if !s.live[idx] {
				continue
			}
			ok, perr := s.outs[idx].TryPut(v)
			if perr != nil {
				s.live[idx] = false
				s.alive--
				continue
			}
			if ok {
				s.last = idx
				s.measure(1)
				return nil
			}
		}
		if s.alive == 0 {
			s.in.Fail(channel.ErrCanceled)
			return io.EOF
		}
		if werr := waitAny(ctx, signals); werr != nil {
			return werr
		}
	}
}

// readySignals captures the free-space notifications of live downstreams.
// Captured before the scan: space freed after the capture closes one of
// them and the scan is retried immediately.
func (s *balanceState[A]) readySignals() []<-chan struct{} {
	signals := make([]<-chan struct{}, 0, len(s.outs))
	for i := range s.outs {
		if s.live[i] {
			signals = append(signals, s.outs[i].PutReady())
		}
	}
	return signals
}

func (s *balanceState[A]) inDone(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	for i := range s.outs {
		if !s.live[i] {
			continue
		}
		if err == io.EOF {
			s.outs[i].Close()
		} else {
			s.outs[i].Fail(err)
		}
	}
	if err == io.EOF {
		s.events.completed()
	}
	return io.EOF
}

type mergeState[A any] struct {
	metered
	ins       []*channel.Chan[A]
	out       *channel.Chan[A]
	done      []bool
	alive     int
	last      int // last winner, plain rotation
	lastOther int // last non-preferred winner, preferred rotation
	preferred bool
	events    stageEvents
}

// Execute moves a single element from the first ready source, waiting for
// input when none is ready.
func (s *mergeState[A]) Execute(ctx context.Context) error {
	for {
		signals := s.readySignals()
		n := len(s.ins)
		for k := 0; k < n; k++ {
			idx := s.scanIndex(k, n)
			if s.done[idx] {
				continue
			}
			v, ok, err := s.ins[idx].TryTake()
			switch {
			case err == io.EOF:
				s.done[idx] = true
				s.alive--
			case err != nil:
				// an upstream failed; take the whole junction down.
				s.out.Fail(err)
				s.cancelIns()
				return io.EOF
			case ok:
				if perr := s.out.Put(ctx, v); perr != nil {
					s.cancelIns()
					if errors.Is(perr, context.Canceled) {
						return perr
					}
					return io.EOF
				}
				s.last = idx
				if s.preferred && idx > 0 {
					s.lastOther = idx - 1
				}
				s.measure(1)
				return nil
			}
		}
		if s.alive == 0 {
			s.out.Close()
			s.events.completed()
			return io.EOF
		}
		if werr := waitAny(ctx, signals); werr != nil {
			return werr
		}
	}
}

// scanIndex yields the poll order: plain merges rotate after the last
// winner, preferred merges check source zero first and rotate the rest.
func (s *mergeState[A]) scanIndex(k, n int) int {
	if !s.preferred {
		return (s.last + 1 + k) % n
	}
	if k == 0 || n == 1 {
		return 0
	}
	return 1 + (s.lastOther+k)%(n-1)
}

func (s *mergeState[A]) readySignals() []<-chan struct{} {
	signals := make([]<-chan struct{}, 0, len(s.ins))
	for i := range s.ins {
		if !s.done[i] {
			signals = append(signals, s.ins[i].TakeReady())
		}
	}
	return signals
}

func (s *mergeState[A]) cancelIns() {
	for i := range s.ins {
		if !s.done[i] {
			s.ins[i].Fail(channel.ErrCanceled)
		}
	}
}

type mergeSortedState[A any] struct {
	metered
	ins     [2]*channel.Chan[A]
	out     *channel.Chan[A]
	less    func(A, A) bool
	heads   [2]A
	have    [2]bool
	fin     [2]bool
	prev    [2]A
	hasPrev [2]bool
	events  stageEvents
}

// Execute emits the smaller of the two current heads. Heads are refilled
// by blocking takes: without both heads (or proof of completion) nothing
// can be emitted, so there is nothing better to do than wait.
func (s *mergeSortedState[A]) Execute(ctx context.Context) error {
	for i := range s.ins {
		if s.have[i] || s.fin[i] {
			continue
		}
		v, err := s.ins[i].Take(ctx)
		switch {
		case err == io.EOF:
			s.fin[i] = true
			continue
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			s.out.Fail(err)
			s.cancelIns()
			return io.EOF
		}
		if s.hasPrev[i] && s.less(v, s.prev[i]) {
			s.events.failed(ErrSortViolation)
			s.out.Fail(ErrSortViolation)
			s.cancelIns()
			return io.EOF
		}
		s.heads[i], s.have[i] = v, true
		s.prev[i], s.hasPrev[i] = v, true
	}

	pick := -1
	switch {
	case s.have[0] && s.have[1]:
		// the left source wins ties.
		if s.less(s.heads[1], s.heads[0]) {
			pick = 1
		} else {
			pick = 0
		}
	case s.have[0]:
		pick = 0
	case s.have[1]:
		pick = 1
	default:
		s.out.Close()
		s.events.completed()
		return io.EOF
	}

	if err := s.out.Put(ctx, s.heads[pick]); err != nil {
		s.cancelIns()
		if errors.Is(err, context.Canceled) {
			return err
		}
		return io.EOF
	}
	s.have[pick] = false
	s.measure(1)
	return nil
}

func (s *mergeSortedState[A]) cancelIns() {
	for i := range s.ins {
		if !s.fin[i] {
			s.ins[i].Fail(channel.ErrCanceled)
		}
	}
}
