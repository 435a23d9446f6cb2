package skein

import (
	"context"
	"sync"

	"skein.dev/skein/event"
	"skein.dev/skein/internal/runtime"
)

// Run is the completion handle of a started pipeline.
type Run struct {
	p      *Pipeline
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start brings the pipeline to life: one goroutine per stage, linked by
// the bounded channels the constructors opened. The returned handle awaits
// or stops the run. Construction errors and unconsumed outlets are
// reported here, before anything runs. A pipeline starts at most once.
func (p *Pipeline) Start(ctx context.Context) (*Run, error) {
	if p.started {
		return nil, ErrAlreadyStarted
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.started = true

	m, cancel := p.spawn(ctx)
	r := &Run{p: p, cancel: cancel, done: make(chan struct{})}
	p.log.Debugf("pipeline %s: started %d stages", p, len(p.stages))
	p.publish(event.Event{Kind: event.PipelineStarted})
	go r.watch(m)
	return r, nil
}

// watch records the first stage error, winds the remaining stages down and
// completes the handle once all of them returned.
func (r *Run) watch(m *runtime.Merger) {
	for err := range m.Errors() {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
		r.cancel()
	}
	r.cancel()

	if err := r.Err(); err != nil {
		r.p.log.Debugf("pipeline %s: failed: %v", r.p, err)
		r.p.publish(event.Event{Kind: event.PipelineFailed, Cause: err})
	} else {
		r.p.log.Debugf("pipeline %s: completed", r.p)
		r.p.publish(event.Event{Kind: event.PipelineCompleted})
	}
	close(r.done)
}

// Wait blocks until every stage returned. It reports nil when the stream
// drained completely and the original failure cause otherwise.
func (r *Run) Wait() error {
	<-r.done
	return r.Err()
}

// Done is closed once every stage returned.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the run error recorded so far. It is final once Done is
// closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels the run and waits for every stage to return. Stages parked
// in channel operations wake through the context; stopping before the
// natural end of the stream is not a failure.
func (r *Run) Stop() error {
	r.cancel()
	return r.Wait()
}
