// Package metric publishes stage counters through expvar. Counters are
// aggregated per stage type, not per stage instance.
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const stagesLabel = "skein.stages"

const (
	// ElementCounter measures the number of elements a stage emitted.
	ElementCounter = "Elements"
	// DroppedCounter measures elements discarded by overflow policies.
	DroppedCounter = "Dropped"
	// LatencyCounter measures latency between consecutive measures.
	LatencyCounter = "Latency"
	// StageCounter counts started stage instances.
	StageCounter = "Stages"
)

var (
	stages = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		ElementCounter,
		DroppedCounter,
		LatencyCounter,
		StageCounter,
	}
)

// Get returns counter values for the provided stage type.
func Get(stage interface{}) map[string]string {
	return getCounters(Type(stage))
}

// GetAll returns counters for all measured stage types.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	stages.Lock()
	defer stages.Unlock()
	for stage := range stages.m {
		m[stage] = getCounters(stage)
	}
	return m
}

func getCounters(stageType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(stageType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// ResetFunc returns a new Measure closure. This closure is needed to
// postpone metrics capture until the stage is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when elements are emitted.
type MeasureFunc func(elements int64)

// Meter creates a new meter closure to capture stage counters.
func Meter(stage interface{}) ResetFunc {
	m := stages.get(Type(stage))
	m.stages.Add(1)
	return func() MeasureFunc {
		calledAt := time.Now()
		return func(elements int64) {
			m.latency.set(time.Since(calledAt))
			m.elements.Add(elements)
			calledAt = time.Now()
		}
	}
}

// CountDropped adds elements discarded by the stage's overflow policy.
func CountDropped(stage interface{}, n int64) {
	if n < 1 {
		return
	}
	stages.get(Type(stage)).dropped.Add(n)
}

// Type returns the counter key segment for a stage. Strings are used
// verbatim, anything else is keyed by its type name.
func Type(stage interface{}) string {
	if s, ok := stage.(string); ok {
		return s
	}
	rv := reflect.ValueOf(stage)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(stageType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[stageType]; ok {
		return metric
	}
	metric := newMetric(stageType)
	m.m[stageType] = metric
	return metric
}

type metric struct {
	key      string
	stages   *expvar.Int
	elements *expvar.Int
	dropped  *expvar.Int
	latency  *duration
}

func newMetric(stageType string) metric {
	m := metric{
		key:      stageType,
		stages:   expvar.NewInt(key(stageType, StageCounter)),
		elements: expvar.NewInt(key(stageType, ElementCounter)),
		dropped:  expvar.NewInt(key(stageType, DroppedCounter)),
		latency:  &duration{},
	}
	expvar.Publish(key(stageType, LatencyCounter), m.latency)
	return m
}

func key(stageType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", stagesLabel, stageType, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%v", time.Duration(atomic.LoadInt64(&v.d)))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}
