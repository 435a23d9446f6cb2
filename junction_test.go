package skein_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein.dev/skein"
)

func TestBroadcast(t *testing.T) {
	p := skein.New()
	outs := skein.Broadcast(skein.Emit(p, 1, 2, 3, 4, 5), 2)
	a := skein.Collect(outs[0])
	b := skein.Collect(outs[1])

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, a.Values())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, b.Values())
}

func TestBroadcastDetachesCanceledBranch(t *testing.T) {
	p := skein.New()
	outs := skein.Broadcast(skein.Emit(p, 1, 2, 3, 4, 5), 2)
	a := skein.Collect(outs[0])
	b := skein.Collect(skein.Take(outs[1], 2))

	require.NoError(t, runPipeline(t, p))

	// the second branch bows out after two elements; the first one keeps
	// receiving everything.
	assert.Equal(t, []int{1, 2, 3, 4, 5}, a.Values())
	assert.Equal(t, []int{1, 2}, b.Values())
}

func TestBalanceRotation(t *testing.T) {
	// links wide enough that a downstream is always ready, so the
	// distribution is an exact rotation.
	p := skein.New(skein.WithCapacity(16))
	outs := skein.Balance(skein.Emit(p, 1, 2, 3, 4, 5, 6), 2)
	a := skein.Collect(outs[0])
	b := skein.Collect(outs[1])

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, []int{1, 3, 5}, a.Values())
	assert.Equal(t, []int{2, 4, 6}, b.Values())
}

func TestBalancePartition(t *testing.T) {
	all := make([]int, 20)
	for i := range all {
		all[i] = i + 1
	}
	p := skein.New()
	outs := skein.Balance(skein.Emit(p, all...), 3)
	sinks := make([]*skein.Collected[int], len(outs))
	for i := range outs {
		sinks[i] = skein.Collect(outs[i])
	}

	require.NoError(t, runPipeline(t, p))

	// every element lands on exactly one downstream, in upstream order.
	var union []int
	for _, s := range sinks {
		vs := s.Values()
		assert.True(t, isSubsequence(vs, all), "order not kept: %v", vs)
		union = append(union, vs...)
	}
	sort.Ints(union)
	assert.Equal(t, all, union)
}

func TestMergeSingle(t *testing.T) {
	p := skein.New()
	vs := skein.Collect(skein.Merge(skein.Emit(p, 1, 2, 3)))

	require.NoError(t, runPipeline(t, p))
	assert.Equal(t, []int{1, 2, 3}, vs.Values())
}

func TestMerge(t *testing.T) {
	p := skein.New()
	a := skein.Emit(p, 1, 2, 3)
	b := skein.Emit(p, 10, 20, 30)
	vs := skein.Collect(skein.Merge(a, b))

	require.NoError(t, runPipeline(t, p))

	// arrival interleaving is free, per-source order is not.
	got := vs.Values()
	assert.Len(t, got, 6)
	assert.True(t, isSubsequence([]int{1, 2, 3}, got), "left order lost: %v", got)
	assert.True(t, isSubsequence([]int{10, 20, 30}, got), "right order lost: %v", got)
}

func TestMergePreferred(t *testing.T) {
	p := skein.New()
	var np, no int
	pref := skein.SourceFunc(p, func(context.Context) (int, error) {
		np++
		return np, nil
	})
	other := skein.SourceFunc(p, func(context.Context) (int, error) {
		no++
		return -no, nil
	})
	merged := skein.Take(skein.MergePreferred(pref, other), 40)
	var got []int
	skein.ForEach(merged, func(v int) error {
		// a slow consumer keeps both sources refilled between rounds, so
		// every scan sees the preferred head ready.
		time.Sleep(500 * time.Microsecond)
		got = append(got, v)
		return nil
	})

	require.NoError(t, runPipeline(t, p))

	require.Len(t, got, 40)
	var preferred int
	for _, v := range got {
		if v > 0 {
			preferred++
		}
	}
	// plain round-robin would split the rounds evenly.
	assert.Greater(t, preferred, 30, "preferred source won only %d of 40 rounds", preferred)
}

type keyed struct {
	key int
	src int
}

func byKey(a, b keyed) bool {
	return a.key < b.key
}

func TestMergeSorted(t *testing.T) {
	p := skein.New()
	left := skein.Emit(p, keyed{1, 1}, keyed{3, 1}, keyed{5, 1})
	right := skein.Emit(p, keyed{1, 2}, keyed{3, 2}, keyed{4, 2})
	vs := skein.Collect(skein.MergeSorted(left, right, byKey))

	require.NoError(t, runPipeline(t, p))

	// globally sorted, the left source winning ties.
	assert.Equal(t, []keyed{
		{1, 1}, {1, 2}, {3, 1}, {3, 2}, {4, 2}, {5, 1},
	}, vs.Values())
}

func TestMergeSortedViolation(t *testing.T) {
	p := skein.New()
	left := skein.Emit(p, 10, 20)
	right := skein.Emit(p, 1, 5, 2)
	vs := skein.Collect(skein.MergeSorted(left, right, func(a, b int) bool { return a < b }))

	r, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, r.Wait(), skein.ErrSortViolation)
	_ = vs.Values()
}

func TestMergeAcrossPipelines(t *testing.T) {
	p1 := skein.New()
	p2 := skein.New()
	a := skein.Emit(p1, 1)
	b := skein.Emit(p2, 2)
	skein.Discard(skein.Merge(a, b))

	_, err := p1.Start(context.Background())
	assert.ErrorContains(t, err, "different pipelines")
}
