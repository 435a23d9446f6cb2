// Package channel provides the bounded FIFO buffer that links two
// concurrent units of work: one producer and one consumer. It is the only
// shared state between pipeline stages and it backs actor mailboxes.
package channel

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Policy defines what happens when a new element arrives and the buffer
// is full.
type Policy int

const (
	// Backpressure suspends the producer until the consumer makes room.
	Backpressure Policy = iota
	// DropHead evicts the oldest buffered element to admit the new one.
	DropHead
	// DropTail discards the incoming element and keeps the buffer as is.
	DropTail
	// DropNew discards the incoming element, same as DropTail.
	DropNew
	// DropBuffer clears all buffered elements and admits the new one.
	DropBuffer
	// Fail fails the channel with ErrOverflow. Every later operation
	// returns the same cause.
	Fail
)

func (p Policy) String() string {
	switch p {
	case Backpressure:
		return "backpressure"
	case DropHead:
		return "drop-head"
	case DropTail:
		return "drop-tail"
	case DropNew:
		return "drop-new"
	case DropBuffer:
		return "drop-buffer"
	case Fail:
		return "fail"
	}
	return "unknown"
}

var (
	// ErrOverflow is the failure cause of a channel that overflowed
	// under the Fail policy.
	ErrOverflow = errors.New("channel: buffer overflow")

	// ErrClosed is returned by Put after Close.
	ErrClosed = errors.New("channel: closed")

	// ErrCanceled is the failure cause used by a consumer to cancel its
	// producer. Producers treat it as a stop signal, not as an error of
	// their own.
	ErrCanceled = errors.New("channel: downstream canceled")
)

// Chan is a bounded FIFO buffer between one producer and one consumer.
// All methods are safe for concurrent use. Suspension is cooperative:
// blocked callers wait on edge-triggered notification channels and are
// woken by the opposite side, by Close or by Fail.
//
// Capacity below one makes the buffer unbounded. Unbounded channels
// ignore the overflow policy; they exist for mailboxes, pipelines always
// use a positive capacity.
type Chan[T any] struct {
	mu       sync.Mutex
	elems    []T
	capacity int
	policy   Policy
	closed   bool
	cause    error
	dropped  int64
	notFull  chan struct{}
	notEmpty chan struct{}
}

// New returns a channel with the given capacity and overflow policy.
func New[T any](capacity int, policy Policy) *Chan[T] {
	return &Chan[T]{
		capacity: capacity,
		policy:   policy,
		notFull:  make(chan struct{}),
		notEmpty: make(chan struct{}),
	}
}

// Put admits v into the buffer. When the buffer is full the overflow
// policy decides: Backpressure suspends until the consumer makes room or
// ctx is done, the drop policies return immediately, Fail poisons the
// channel with ErrOverflow. Put returns ErrClosed after Close and the
// failure cause after Fail.
func (c *Chan[T]) Put(ctx context.Context, v T) error {
	c.mu.Lock()
	for {
		switch {
		case c.cause != nil:
			cause := c.cause
			c.mu.Unlock()
			return cause
		case c.closed:
			c.mu.Unlock()
			return ErrClosed
		case !c.full():
			c.elems = append(c.elems, v)
			c.wake(&c.notEmpty)
			c.mu.Unlock()
			return nil
		}

		switch c.policy {
		case DropHead:
			c.popLocked()
			c.dropped++
			c.elems = append(c.elems, v)
			c.wake(&c.notEmpty)
			c.mu.Unlock()
			return nil
		case DropTail, DropNew:
			c.dropped++
			c.mu.Unlock()
			return nil
		case DropBuffer:
			c.dropped += int64(len(c.elems))
			c.clearLocked()
			c.elems = append(c.elems, v)
			c.wake(&c.notEmpty)
			c.mu.Unlock()
			return nil
		case Fail:
			c.failLocked(ErrOverflow)
			c.mu.Unlock()
			return ErrOverflow
		}

		// Backpressure: wait for the consumer.
		wait := c.notFull
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
}

// TryPut admits v without suspension. It reports false when the channel
// is full under Backpressure. Other policies never report false: their
// effect is immediate.
func (c *Chan[T]) TryPut(v T) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause != nil {
		return false, c.cause
	}
	if c.closed {
		return false, ErrClosed
	}
	if !c.full() {
		c.elems = append(c.elems, v)
		c.wake(&c.notEmpty)
		return true, nil
	}
	switch c.policy {
	case DropHead:
		c.popLocked()
		c.dropped++
		c.elems = append(c.elems, v)
		c.wake(&c.notEmpty)
		return true, nil
	case DropTail, DropNew:
		c.dropped++
		return true, nil
	case DropBuffer:
		c.dropped += int64(len(c.elems))
		c.clearLocked()
		c.elems = append(c.elems, v)
		c.wake(&c.notEmpty)
		return true, nil
	case Fail:
		c.failLocked(ErrOverflow)
		return false, ErrOverflow
	}
	return false, nil
}

// Take removes and returns the oldest buffered element. It suspends
// while the buffer is empty and the channel open, returns io.EOF once
// the channel is closed and drained and returns the failure cause once
// the channel failed.
func (c *Chan[T]) Take(ctx context.Context) (T, error) {
	var zero T
	c.mu.Lock()
	for {
		if c.cause != nil {
			cause := c.cause
			c.mu.Unlock()
			return zero, cause
		}
		if len(c.elems) > 0 {
			v := c.popLocked()
			c.wake(&c.notFull)
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, io.EOF
		}

		wait := c.notEmpty
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		c.mu.Lock()
	}
}

// TryTake removes the oldest buffered element without suspension. It
// reports false when nothing is buffered and the channel is still open.
// io.EOF and failure causes are reported the same way as Take.
func (c *Chan[T]) TryTake() (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause != nil {
		return zero, false, c.cause
	}
	if len(c.elems) > 0 {
		v := c.popLocked()
		c.wake(&c.notFull)
		return v, true, nil
	}
	if c.closed {
		return zero, false, io.EOF
	}
	return zero, false, nil
}

// Close marks that no further elements will be produced. Buffered
// elements still drain; Take returns io.EOF only once the buffer is
// empty. Close is idempotent.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cause != nil {
		return
	}
	c.closed = true
	c.wake(&c.notEmpty)
	c.wake(&c.notFull)
}

// Fail fails the channel: buffered elements are discarded and every
// suspended or future Put/Take returns cause. The first cause wins,
// later calls are no-ops.
func (c *Chan[T]) Fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(cause)
}

func (c *Chan[T]) failLocked(cause error) {
	if c.cause != nil {
		return
	}
	if cause == nil {
		cause = ErrClosed
	}
	c.cause = cause
	c.clearLocked()
	c.wake(&c.notEmpty)
	c.wake(&c.notFull)
}

// clearLocked discards all buffered elements. Callers hold the lock.
func (c *Chan[T]) clearLocked() {
	var zero T
	for i := range c.elems {
		c.elems[i] = zero
	}
	c.elems = c.elems[:0]
}

// PutReady returns the channel that signals the next time buffer space
// is freed. Junctions use it to suspend on several channels at once.
func (c *Chan[T]) PutReady() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notFull
}

// TakeReady returns the channel that signals the next time an element is
// admitted.
func (c *Chan[T]) TakeReady() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notEmpty
}

// Len returns the number of buffered elements.
func (c *Chan[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elems)
}

// Dropped returns the number of elements discarded by the overflow
// policy so far.
func (c *Chan[T]) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Cap returns the capacity. Zero or negative means unbounded.
func (c *Chan[T]) Cap() int {
	return c.capacity
}

// Policy returns the overflow policy.
func (c *Chan[T]) Policy() Policy {
	return c.policy
}

func (c *Chan[T]) full() bool {
	return c.capacity > 0 && len(c.elems) >= c.capacity
}

// popLocked removes the head element. Callers hold the lock and checked
// that the buffer is not empty.
func (c *Chan[T]) popLocked() T {
	v := c.elems[0]
	var zero T
	c.elems[0] = zero
	c.elems = c.elems[1:]
	return v
}

// wake closes the current notification channel and installs a fresh one.
// Waiters captured the old channel under the lock and re-check state
// after waking. Callers hold the lock.
func (c *Chan[T]) wake(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
