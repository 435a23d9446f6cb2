package actor

import (
	"context"

	"skein.dev/skein/channel"
)

// DefaultMailboxCapacity bounds mailboxes unless the system or the
// behavior says otherwise.
const DefaultMailboxCapacity = 64

// Envelope is a single mailbox entry: the message and who sent it. Ask
// envelopes additionally carry the answer slot.
type Envelope struct {
	Value  any
	Sender Ref

	reply *future
}

// Mailbox is the bounded FIFO of envelopes owned by one cell. Intake is
// safe under arbitrary concurrent senders; dequeuing belongs to the
// owning cell alone. The only overflow mode is backpressure: a full
// mailbox suspends the sender instead of dropping messages.
type Mailbox struct {
	ch *channel.Chan[Envelope]
}

// NewMailbox returns a mailbox holding up to capacity envelopes.
// Capacity below one makes it unbounded.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{ch: channel.New[Envelope](capacity, channel.Backpressure)}
}

// Enqueue appends an envelope, suspending while the mailbox is full.
func (m *Mailbox) Enqueue(ctx context.Context, e Envelope) error {
	return m.ch.Put(ctx, e)
}

// Dequeue removes the oldest envelope, suspending while the mailbox is
// empty.
func (m *Mailbox) Dequeue(ctx context.Context) (Envelope, error) {
	return m.ch.Take(ctx)
}

// Close stops intake. Senders suspended on a full mailbox wake with an
// error; buffered envelopes remain for the owner to drain.
func (m *Mailbox) Close() {
	m.ch.Close()
}

// Len returns the number of buffered envelopes.
func (m *Mailbox) Len() int {
	return m.ch.Len()
}

// tryEnqueue appends without suspending. Used for termination notices,
// which must never block a teardown on a full watcher.
func (m *Mailbox) tryEnqueue(e Envelope) bool {
	ok, err := m.ch.TryPut(e)
	return ok && err == nil
}

// tryDequeue drains leftovers at teardown without suspending.
func (m *Mailbox) tryDequeue() (Envelope, bool) {
	e, ok, err := m.ch.TryTake()
	return e, ok && err == nil
}
