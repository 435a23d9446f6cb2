// Package mock provides mocks for pipeline stages and allows to execute
// integration tests.
package mock

import (
	"context"
	"io"
	"sync"
	"time"
)

// Counter counts elements a mock has seen.
type Counter struct {
	mu       sync.Mutex
	messages int
}

// advance increments the element count.
func (c *Counter) advance() {
	c.mu.Lock()
	c.messages++
	c.mu.Unlock()
}

// Messages returns the number of elements the mock has seen.
func (c *Counter) Messages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// Failure makes a mock fail on demand. With FailOn zero every call
// returns ErrorOnCall; otherwise only the call seeing element FailOn
// does.
type Failure struct {
	ErrorOnCall error
	FailOn      int
}

// fail reports whether the call seeing element v should fail.
func (f *Failure) fail(v int) error {
	if f.ErrorOnCall == nil {
		return nil
	}
	if f.FailOn == 0 || f.FailOn == v {
		return f.ErrorOnCall
	}
	return nil
}

// Source emits the ints 1 through Limit and then completes. Feed Next to
// skein.SourceFunc.
type Source struct {
	Counter
	Failure
	Limit    int
	Interval time.Duration
}

// Next returns the next element of the sequence, io.EOF past the limit.
func (m *Source) Next(ctx context.Context) (int, error) {
	n := m.Messages() + 1
	if err := m.fail(n); err != nil {
		return 0, err
	}
	if n > m.Limit {
		return 0, io.EOF
	}
	if err := m.sleep(ctx); err != nil {
		return 0, err
	}
	m.advance()
	return n, nil
}

func (m *Source) sleep(ctx context.Context) error {
	if m.Interval < 1 {
		return nil
	}
	select {
	case <-time.After(m.Interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processor counts elements and passes them through. Transform feeds
// skein.Map, Invoke feeds skein.MapAsync.
type Processor struct {
	Counter
	Failure
	Interval time.Duration
}

// Transform passes an element through.
func (m *Processor) Transform(v int) int {
	m.advance()
	return v
}

// Invoke passes an element through with the configured delay and failure.
func (m *Processor) Invoke(ctx context.Context, v int) (int, error) {
	if err := m.fail(v); err != nil {
		return 0, err
	}
	if m.Interval > 0 {
		select {
		case <-time.After(m.Interval):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	m.advance()
	return v, nil
}

// Sink stores the elements it consumed. Feed Consume to skein.ForEach.
// Values is only stable once the run is done.
type Sink struct {
	Counter
	Failure
	Discard bool

	mu     sync.Mutex
	values []int
}

// Consume stores a single element.
func (m *Sink) Consume(v int) error {
	if err := m.fail(v); err != nil {
		return err
	}
	if !m.Discard {
		m.mu.Lock()
		m.values = append(m.values, v)
		m.mu.Unlock()
	}
	m.advance()
	return nil
}

// Values returns a copy of the consumed elements in consumption order.
func (m *Sink) Values() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.values...)
}
