package actor

import (
	"context"
	"errors"
)

// Ref is the location-transparent handle of a cell: a path plus the
// system that resolves it. Refs stay valid across restarts of the cell
// they point to. The zero Ref is Nobody.
type Ref struct {
	sys  *System
	path string
}

// Nobody is the absent sender.
var Nobody Ref

// Path returns the hierarchy path the ref points to.
func (r Ref) Path() string {
	return r.path
}

// Send enqueues msg into the target mailbox, suspending while it is
// full. Messages to a stopped or unknown cell are dropped to dead
// letters silently; the only send error is a stopped system.
func (r Ref) Send(msg any, sender Ref) error {
	if r.sys == nil {
		return nil
	}
	err := r.sys.deliver(r.path, Envelope{Value: msg, Sender: sender})
	if errors.Is(err, ErrPathNotFound) {
		return nil
	}
	return err
}

// Ask enqueues msg and waits for the receiver to Reply. It fails fast
// when the target is gone, resolves with ErrActorStopped when the
// target stops before answering and with ctx.Err on expiry.
func (r Ref) Ask(ctx context.Context, msg any) (any, error) {
	if r.sys == nil {
		return nil, ErrPathNotFound
	}
	f := newFuture()
	if err := r.sys.deliver(r.path, Envelope{Value: msg, reply: f}); err != nil {
		return nil, err
	}
	return f.await(ctx)
}

// Done returns a channel closed once the cell stopped. Refs to paths
// that no longer exist return an already-closed channel.
func (r Ref) Done() <-chan struct{} {
	if r.sys == nil {
		return closedChan
	}
	return r.sys.doneOf(r.path)
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
