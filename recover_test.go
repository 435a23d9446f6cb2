package skein_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein.dev/skein"
	"skein.dev/skein/mock"
)

func TestRecoverFallback(t *testing.T) {
	errBoom := errors.New("boom")
	p := skein.New()
	source := &mock.Source{
		Limit:   10,
		Failure: mock.Failure{ErrorOnCall: errBoom, FailOn: 3},
	}
	out := skein.Recover(skein.SourceFunc(p, source.Next), func(err error) bool {
		return errors.Is(err, errBoom)
	}, -1)
	vs := skein.Collect(out)

	require.NoError(t, runPipeline(t, p))

	// elements already through stay through; the failure itself turns
	// into the fallback and a clean completion.
	got := vs.Values()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, 1, got[0])
	assert.Equal(t, -1, got[len(got)-1])
	assert.True(t, isSubsequence(got[:len(got)-1], []int{1, 2}), "unexpected elements: %v", got)
}

func TestRecoverNoMatch(t *testing.T) {
	errBoom := errors.New("boom")
	errOther := errors.New("other")
	p := skein.New()
	source := &mock.Source{
		Limit:   10,
		Failure: mock.Failure{ErrorOnCall: errBoom, FailOn: 3},
	}
	out := skein.Recover(skein.SourceFunc(p, source.Next), func(err error) bool {
		return errors.Is(err, errOther)
	}, -1)
	vs := skein.Collect(out)

	r, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, errBoom, r.Wait())
	assert.NotContains(t, vs.Values(), -1)
}

func TestRecoverShieldsMapAsyncFailure(t *testing.T) {
	errBoom := errors.New("boom")
	p := skein.New()
	mapped := skein.MapAsync(skein.Emit(p, 1, 2, 3, 4), 1, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, errBoom
		}
		return v, nil
	})
	vs := skein.Collect(skein.Recover(mapped, nil, -1))

	require.NoError(t, runPipeline(t, p))
	got := vs.Values()
	require.NotEmpty(t, got)
	assert.Equal(t, -1, got[len(got)-1])
}

func TestRecoverWithRetries(t *testing.T) {
	errBoom := errors.New("boom")
	p := skein.New()
	primary := &mock.Source{
		Limit:   10,
		Failure: mock.Failure{ErrorOnCall: errBoom, FailOn: 3},
	}
	var builds int32
	factory := func(sub *skein.Pipeline) skein.Outlet[int] {
		switch atomic.AddInt32(&builds, 1) {
		case 1:
			bad := &mock.Source{
				Limit:   10,
				Failure: mock.Failure{ErrorOnCall: errBoom, FailOn: 2},
			}
			return skein.SourceFunc(sub, bad.Next)
		default:
			return skein.Emit(sub, 20, 21)
		}
	}
	out := skein.RecoverWithRetries(skein.SourceFunc(p, primary.Next), 2, nil, factory)
	vs := skein.Collect(out)

	require.NoError(t, runPipeline(t, p))

	// two replacements were materialized; the downstream saw the
	// concatenation of all attempts and the last one ran to completion.
	assert.EqualValues(t, 2, atomic.LoadInt32(&builds))
	got := vs.Values()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, []int{20, 21}, got[len(got)-2:])
	assert.True(t, isSubsequence(got, []int{1, 2, 1, 20, 21}), "unexpected elements: %v", got)
}

func TestRecoverWithRetriesExhausted(t *testing.T) {
	errBoom := errors.New("boom")
	errRetry := errors.New("retry failed")
	p := skein.New()
	primary := &mock.Source{Failure: mock.Failure{ErrorOnCall: errBoom, FailOn: 1}}
	var builds int32
	factory := func(sub *skein.Pipeline) skein.Outlet[int] {
		atomic.AddInt32(&builds, 1)
		return skein.SourceFunc(sub, func(context.Context) (int, error) {
			return 0, errRetry
		})
	}
	out := skein.RecoverWithRetries(skein.SourceFunc(p, primary.Next), 1, nil, factory)
	skein.Discard(out)

	r, err := p.Start(context.Background())
	require.NoError(t, err)

	// the attempts ran out, so the freshest failure is the run error.
	assert.Equal(t, errRetry, r.Wait())
	assert.EqualValues(t, 1, atomic.LoadInt32(&builds))
}

func TestRecoverWithRetriesNoMatch(t *testing.T) {
	errBoom := errors.New("boom")
	p := skein.New()
	primary := &mock.Source{Failure: mock.Failure{ErrorOnCall: errBoom, FailOn: 1}}
	var builds int32
	factory := func(sub *skein.Pipeline) skein.Outlet[int] {
		atomic.AddInt32(&builds, 1)
		return skein.Emit(sub, 99)
	}
	out := skein.RecoverWithRetries(skein.SourceFunc(p, primary.Next), 3, func(error) bool { return false }, factory)
	skein.Discard(out)

	r, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, errBoom, r.Wait())
	assert.EqualValues(t, 0, atomic.LoadInt32(&builds))
}

func TestRecoverWithRetriesPassthrough(t *testing.T) {
	p := skein.New()
	var builds int32
	factory := func(sub *skein.Pipeline) skein.Outlet[int] {
		atomic.AddInt32(&builds, 1)
		return skein.Emit(sub, 99)
	}
	vs := skein.Collect(skein.RecoverWithRetries(skein.Emit(p, 1, 2, 3), 3, nil, factory))

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, []int{1, 2, 3}, vs.Values())
	assert.EqualValues(t, 0, atomic.LoadInt32(&builds))
}
