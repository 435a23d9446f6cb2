// Package event carries runtime notifications. Pipelines and actor systems
// publish lifecycle events to a broker; log subscribers and tests consume
// them. Publishing never blocks the runtime: a subscriber that cannot keep
// up loses its oldest buffered events, not its newest.
package event

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// Kind tags the lifecycle transition an event reports.
type Kind int

const (
	PipelineStarted Kind = iota
	PipelineCompleted
	PipelineFailed
	StageCompleted
	StageFailed
	CellStarted
	CellRestarting
	CellStopped
	CellFailed
	DeadLetter
	SystemFailed
)

func (k Kind) String() string {
	switch k {
	case PipelineStarted:
		return "pipeline started"
	case PipelineCompleted:
		return "pipeline completed"
	case PipelineFailed:
		return "pipeline failed"
	case StageCompleted:
		return "stage completed"
	case StageFailed:
		return "stage failed"
	case CellStarted:
		return "cell started"
	case CellRestarting:
		return "cell restarting"
	case CellStopped:
		return "cell stopped"
	case CellFailed:
		return "cell failed"
	case DeadLetter:
		return "dead letter"
	case SystemFailed:
		return "system failed"
	}
	return "unknown"
}

// Event is a single runtime notification. Pipeline and Stage are set by the
// stream half, Path by the actor half. Directive names the supervision
// verdict on a CellFailed event.
type Event struct {
	ID        xid.ID
	Kind      Kind
	Pipeline  string
	Stage     string
	Path      string
	Cause     error
	Directive string
	Time      time.Time
}

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 16

// Broker fans published events out to subscriptions.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

// NewBroker returns a broker without subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*Subscription)}
}

// Subscribe registers a subscription buffering up to n events. Non-positive
// n falls back to DefaultBuffer. Subscribing to a closed broker returns an
// already-canceled subscription.
func (b *Broker) Subscribe(n int) *Subscription {
	if n < 1 {
		n = DefaultBuffer
	}
	s := &Subscription{ch: make(chan Event, n), broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.canceled = true
		return s
	}
	s.id = b.nextID
	b.nextID++
	b.subs[s.id] = s
	return s
}

// Publish delivers the event to every subscription. A full subscription
// drops its oldest buffered event to admit the new one. Missing ID and
// Time are filled in.
func (b *Broker) Publish(e Event) {
	if e.ID.IsZero() {
		e.ID = xid.New()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}
		// full: evict the oldest unless the consumer got there first.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Close cancels every subscription. Publish and Subscribe are no-ops
// afterwards.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Subscription is one consumer's buffered view of the event stream.
type Subscription struct {
	id       int
	broker   *Broker
	ch       chan Event
	mu       sync.Mutex
	canceled bool
}

// C returns the receive side. It is closed when the subscription is
// canceled or the broker closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Cancel unregisters the subscription and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.broker.mu.Lock()
	if !s.broker.closed {
		delete(s.broker.subs, s.id)
	}
	s.broker.mu.Unlock()
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return
	}
	s.canceled = true
	close(s.ch)
}
