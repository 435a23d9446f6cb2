package skein

import (
	"context"
	"fmt"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"skein.dev/skein/channel"
	"skein.dev/skein/event"
	"skein.dev/skein/internal/runtime"
	"skein.dev/skein/log"
)

const (
	// DefaultCapacity is the capacity of stage links unless configured
	// otherwise.
	DefaultCapacity = 1
)

type (
	// Directive tells a stage what to do with a failed element.
	Directive int

	// Decider resolves an element failure to a directive. A nil decider
	// stops the stage on the first failure.
	Decider func(error) Directive
)

const (
	// Resume drops the failed element and continues with the next one.
	Resume Directive = iota
	// Stop fails the stage with the element's error.
	Stop
)

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// Pipeline assembles stages before a run. Stage constructors register
// themselves and their links here; Start validates the layout and brings
// it to life.
type Pipeline struct {
	uid      string
	name     string
	capacity int
	policy   channel.Policy
	broker   *event.Broker
	log      *logrus.Logger

	stages  []stage
	outlets int
	err     error
	started bool
}

type stage struct {
	id   string
	kind string
	exec runtime.Executor
}

// Option provides a way to set functional parameters to a pipeline.
type Option func(p *Pipeline)

// New creates an empty pipeline and applies provided options.
func New(options ...Option) *Pipeline {
	p := &Pipeline{
		uid:      newUID(),
		capacity: DefaultCapacity,
		policy:   channel.Backpressure,
		log:      log.Discard(),
	}
	for _, option := range options {
		option(p)
	}
	if p.capacity < 1 {
		p.capacity = DefaultCapacity
	}
	return p
}

// WithName sets name to the pipeline.
func WithName(n string) Option {
	return func(p *Pipeline) {
		p.name = n
	}
}

// WithCapacity sets the default link capacity.
func WithCapacity(n int) Option {
	return func(p *Pipeline) {
		p.capacity = n
	}
}

// WithPolicy sets the default link overflow policy.
func WithPolicy(policy channel.Policy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithEvents makes the pipeline publish lifecycle events to the broker.
func WithEvents(b *event.Broker) Option {
	return func(p *Pipeline) {
		p.broker = b
	}
}

// WithLogger sets logger to the pipeline. If this option is not provided,
// a silent logger is used.
func WithLogger(l *logrus.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// String returns the pipeline name. The uid serves when no name was set.
func (p *Pipeline) String() string {
	if p.name == "" {
		return p.uid
	}
	return p.name
}

// fail records the first construction error. Start reports it.
func (p *Pipeline) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// register appends a built stage under the next ordinal id.
func (p *Pipeline) register(kind string, exec runtime.Executor) {
	p.stages = append(p.stages, stage{
		id:   fmt.Sprintf("%s-%d", kind, len(p.stages)+1),
		kind: kind,
		exec: exec,
	})
}

// nextStageID returns the id the next registered stage will get.
func (p *Pipeline) nextStageID(kind string) string {
	return fmt.Sprintf("%s-%d", kind, len(p.stages)+1)
}

// validate reports construction errors and unconsumed outlets.
func (p *Pipeline) validate() error {
	if p.err != nil {
		return p.err
	}
	if len(p.stages) == 0 {
		return ErrNoStages
	}
	if p.outlets > 0 {
		return fmt.Errorf("%w: %d of them", ErrOutletOpen, p.outlets)
	}
	return nil
}

// spawn starts one goroutine per stage and returns the merged error
// stream with its cancel. Callers own both: the merged stream must be
// drained and the cancel called.
func (p *Pipeline) spawn(ctx context.Context) (*runtime.Merger, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	m := runtime.NewMerger()
	for i := range p.stages {
		m.Add(runtime.Run(runCtx, p.stages[i].exec))
	}
	go m.Wait()
	return m, cancel
}

// publish sends the event when a broker is configured.
func (p *Pipeline) publish(e event.Event) {
	if p.broker == nil {
		return
	}
	e.Pipeline = p.String()
	p.broker.Publish(e)
}

// stageEvents publishes per-stage lifecycle events.
type stageEvents struct {
	p  *Pipeline
	id string
}

func (e stageEvents) completed() {
	e.p.publish(event.Event{Kind: event.StageCompleted, Stage: e.id})
}

func (e stageEvents) failed(cause error) {
	e.p.log.Debugf("stage %s failed: %v", e.id, cause)
	e.p.publish(event.Event{Kind: event.StageFailed, Stage: e.id, Cause: cause})
}

// Outlet is the loose end of a stage link: elements of type T come out of
// it and exactly one downstream stage must consume it before Start.
type Outlet[T any] struct {
	p        *Pipeline
	ch       *channel.Chan[T]
	consumed *bool
}

// newOutlet opens a link with the pipeline's default capacity and policy.
func newOutlet[T any](p *Pipeline) Outlet[T] {
	return newOutletWith[T](p, p.capacity, p.policy)
}

func newOutletWith[T any](p *Pipeline, capacity int, policy channel.Policy) Outlet[T] {
	p.outlets++
	return Outlet[T]{
		p:        p,
		ch:       channel.New[T](capacity, policy),
		consumed: new(bool),
	}
}

// pipeline returns the owner, guarding against zero-value outlets.
func (o Outlet[T]) pipeline() *Pipeline {
	if o.p == nil {
		panic("skein: outlet was not created by a pipeline stage")
	}
	return o.p
}

// consume claims the outlet for the named stage and hands its channel
// over. Claiming an outlet twice is a construction error.
func (o Outlet[T]) consume(kind string) *channel.Chan[T] {
	p := o.pipeline()
	if *o.consumed {
		p.fail(fmt.Errorf("%w: by %s", ErrOutletConsumed, kind))
		return o.ch
	}
	*o.consumed = true
	p.outlets--
	return o.ch
}
