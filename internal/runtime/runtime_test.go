package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"skein.dev/skein/internal/runtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// executor is a flag-driven stage double.
type executor struct {
	limit      int
	errStart   error
	errExecute error
	errFlush   error

	started  bool
	flushed  bool
	executed int
}

func (e *executor) Start(context.Context) error {
	e.started = true
	return e.errStart
}

func (e *executor) Execute(context.Context) error {
	if e.errExecute != nil {
		return e.errExecute
	}
	e.executed++
	if e.executed >= e.limit {
		return io.EOF
	}
	return nil
}

func (e *executor) Flush(context.Context) error {
	e.flushed = true
	return e.errFlush
}

func collect(errc <-chan error) []error {
	var errs []error
	for err := range errc {
		errs = append(errs, err)
	}
	return errs
}

func TestRun(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("complete", func(t *testing.T) {
		e := &executor{limit: 5}
		errs := collect(runtime.Run(context.Background(), e))
		assert.Empty(t, errs)
		assert.True(t, e.started)
		assert.True(t, e.flushed)
		assert.Equal(t, 5, e.executed)
	})

	t.Run("start error", func(t *testing.T) {
		e := &executor{limit: 5, errStart: errBoom}
		errs := collect(runtime.Run(context.Background(), e))
		require.Len(t, errs, 1)
		assert.Equal(t, errBoom, errs[0])
		assert.Zero(t, e.executed)
		assert.False(t, e.flushed, "failed start must not flush")
	})

	t.Run("execute error", func(t *testing.T) {
		e := &executor{errExecute: errBoom}
		errs := collect(runtime.Run(context.Background(), e))
		require.Len(t, errs, 1)
		assert.Equal(t, errBoom, errs[0], "cause must cross unwrapped")
		assert.True(t, e.flushed)
	})

	t.Run("flush error", func(t *testing.T) {
		e := &executor{limit: 1, errFlush: errBoom}
		errs := collect(runtime.Run(context.Background(), e))
		require.Len(t, errs, 1)
		assert.Equal(t, errBoom, errs[0])
	})

	t.Run("execute and flush errors", func(t *testing.T) {
		e := &executor{errExecute: errBoom, errFlush: errors.New("flush")}
		errs := collect(runtime.Run(context.Background(), e))
		assert.Len(t, errs, 2, "both errors reported, none blocks the loop")
	})

	t.Run("canceled run stays quiet", func(t *testing.T) {
		e := &executor{errExecute: fmt.Errorf("taking: %w", context.Canceled)}
		errs := collect(runtime.Run(context.Background(), e))
		assert.Empty(t, errs)
		assert.True(t, e.flushed)
	})
}

func TestMerger(t *testing.T) {
	t.Run("first error wins", func(t *testing.T) {
		errBoom := errors.New("boom")
		ec1 := make(chan error, 1)
		ec2 := make(chan error)
		m := runtime.NewMerger()
		m.Add(ec1, ec2)

		ec1 <- errBoom
		close(ec1)
		close(ec2)
		m.Wait()

		errs := collect(m.Errors())
		require.Len(t, errs, 1)
		assert.Equal(t, errBoom, errs[0])
	})

	t.Run("drains without consumer", func(t *testing.T) {
		// a stage may report an execute and a flush error; the merger
		// must drain both even when nobody reads the merged stream.
		ec := make(chan error, 2)
		ec <- errors.New("execute")
		ec <- errors.New("flush")
		close(ec)

		m := runtime.NewMerger()
		m.Add(ec)
		m.Wait()
		assert.Len(t, collect(m.Errors()), 1)
	})

	t.Run("no errors", func(t *testing.T) {
		ec := make(chan error)
		m := runtime.NewMerger()
		m.Add(ec)
		close(ec)
		m.Wait()
		assert.Empty(t, collect(m.Errors()))
	})
}
