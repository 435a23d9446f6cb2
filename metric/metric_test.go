package metric_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"skein.dev/skein/metric"
)

type meteredStage struct{}

func TestMeter(t *testing.T) {
	var tests = []struct {
		stage         interface{}
		routines      int
		iterations    int
		elements      int64
		wantElements  string
		wantInstances string
	}{
		{
			stage:         "transform",
			routines:      2,
			iterations:    10,
			elements:      100,
			wantElements:  "2000",
			wantInstances: "2",
		},
		{
			stage:         &meteredStage{},
			routines:      1,
			iterations:    5,
			elements:      3,
			wantElements:  "15",
			wantInstances: "1",
		},
		{
			// same key as the first case, counters accumulate.
			stage:         "transform",
			routines:      2,
			iterations:    10,
			elements:      100,
			wantElements:  "4000",
			wantInstances: "4",
		},
	}

	testFn := func(fn metric.MeasureFunc, wg *sync.WaitGroup, iterations int, elements int64) {
		for i := 0; i < iterations; i++ {
			fn(elements)
		}
		wg.Done()
	}

	for _, c := range tests {
		wg := &sync.WaitGroup{}
		wg.Add(c.routines)
		for i := 0; i < c.routines; i++ {
			go testFn(metric.Meter(c.stage)(), wg, c.iterations, c.elements)
		}
		// check if no data race.
		wg.Wait()
		values := metric.Get(c.stage)
		assert.Equal(t, c.wantElements, values[metric.ElementCounter])
		assert.Equal(t, c.wantInstances, values[metric.StageCounter])
		assert.NotEmpty(t, values[metric.LatencyCounter])
	}
}

func TestCountDropped(t *testing.T) {
	metric.CountDropped("buffer", 5)
	metric.CountDropped("buffer", 0)
	metric.CountDropped("buffer", 2)
	assert.Equal(t, "7", metric.Get("buffer")[metric.DroppedCounter])

	all := metric.GetAll()
	assert.Contains(t, all, "buffer")
}

func TestType(t *testing.T) {
	assert.Equal(t, "map", metric.Type("map"))
	assert.Equal(t, "metric_test.meteredStage", metric.Type(&meteredStage{}))
	assert.Equal(t, "int", metric.Type(42))
}
