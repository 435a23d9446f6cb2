package actor

import (
	"context"
	"sync"
)

// future is the write-once answer slot of an ask exchange. The first
// completion wins; await unblocks on completion or context expiry.
type future struct {
	mu   sync.Mutex
	set  bool
	val  any
	err  error
	done chan struct{}
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) complete(v any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	f.val, f.err = v, err
	close(f.done)
}

func (f *future) await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
