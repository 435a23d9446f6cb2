package skein_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein.dev/skein"
	"skein.dev/skein/mock"
)

func sequence(n int) []int {
	vs := make([]int, n)
	for i := range vs {
		vs[i] = i + 1
	}
	return vs
}

func TestMapAsyncOrdered(t *testing.T) {
	in := sequence(30)
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, in...), 4, func(_ context.Context, v int) (int, error) {
		// uneven delays shuffle completion order; emission order must
		// not care.
		time.Sleep(time.Duration(v%3) * time.Millisecond)
		return v * 10, nil
	})
	vs := skein.Collect(out)

	require.NoError(t, runPipeline(t, p))

	want := make([]int, len(in))
	for i, v := range in {
		want[i] = v * 10
	}
	assert.Equal(t, want, vs.Values())
}

func TestMapAsyncUnordered(t *testing.T) {
	in := sequence(30)
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, in...), 4, func(_ context.Context, v int) (int, error) {
		time.Sleep(time.Duration(v%3) * time.Millisecond)
		return v * 10, nil
	}, skein.Unordered())
	vs := skein.Collect(out)

	require.NoError(t, runPipeline(t, p))

	want := make([]int, len(in))
	for i, v := range in {
		want[i] = v * 10
	}
	assert.ElementsMatch(t, want, vs.Values())
}

func TestMapAsyncParallelismBound(t *testing.T) {
	const parallelism = 3
	var inflight, peak int32

	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, sequence(24)...), parallelism, func(_ context.Context, v int) (int, error) {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			seen := atomic.LoadInt32(&peak)
			if cur <= seen || atomic.CompareAndSwapInt32(&peak, seen, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return v, nil
	})
	skein.Discard(out)

	require.NoError(t, runPipeline(t, p))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(parallelism))
}

func TestMapAsyncDeciderResume(t *testing.T) {
	errOdd := errors.New("odd element")
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, 1, 2, 3, 4, 5, 6), 2, func(_ context.Context, v int) (int, error) {
		if v%2 == 1 {
			return 0, errOdd
		}
		return v, nil
	}, skein.WithDecider(func(error) skein.Directive { return skein.Resume }))
	vs := skein.Collect(out)

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, []int{2, 4, 6}, vs.Values())
}

func TestMapAsyncFailureCause(t *testing.T) {
	errBoom := errors.New("boom")
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, sequence(10)...), 2, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, errBoom
		}
		return v, nil
	})
	vs := skein.Collect(out)

	r, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, errBoom, r.Wait())
	for _, v := range vs.Values() {
		assert.Less(t, v, 3)
	}
}

func TestMapAsyncUnorderedFailureCause(t *testing.T) {
	errBoom := errors.New("boom")
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, sequence(10)...), 2, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, errBoom
		}
		return v, nil
	}, skein.Unordered())
	skein.Discard(out)

	r, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, errBoom, r.Wait())
}

func TestMapAsyncTimeout(t *testing.T) {
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, 1, 2, 3), 2, func(ctx context.Context, v int) (int, error) {
		if v != 2 {
			return v, nil
		}
		select {
		case <-time.After(time.Second):
			return v, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, skein.WithStageTimeout(5*time.Millisecond))
	skein.Discard(out)

	r, err := p.Start(context.Background())
	require.NoError(t, err)
	err = r.Wait()
	assert.ErrorIs(t, err, skein.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMapAsyncTimeoutIgnored(t *testing.T) {
	// the deadline is cooperative: a function that ignores it and
	// succeeds keeps its result.
	p := skein.New()
	out := skein.MapAsync(skein.Emit(p, 1, 2, 3), 1, func(_ context.Context, v int) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return v, nil
	}, skein.WithStageTimeout(time.Millisecond))
	vs := skein.Collect(out)

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, []int{1, 2, 3}, vs.Values())
}

func TestMapAsyncMockProcessor(t *testing.T) {
	proc := &mock.Processor{Interval: time.Millisecond}
	p := skein.New()
	skein.Discard(skein.MapAsync(skein.Emit(p, sequence(50)...), 8, proc.Invoke, skein.Unordered()))

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, 50, proc.Messages())
}
