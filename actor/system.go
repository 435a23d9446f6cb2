package actor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"skein.dev/skein/event"
	"skein.dev/skein/log"
)

// RootPath is the path of the hierarchy root.
const RootPath = "/"

// System owns one actor hierarchy: the arena of live cells keyed by
// path, the root above them and the lifecycle of everything beneath it.
// Stopping the root stops the system; a failure that escalates past the
// root stops it fatally.
type System struct {
	ctx     context.Context
	cancel  context.CancelFunc
	broker  *event.Broker
	log     *logrus.Logger
	mailbox int

	mu    sync.RWMutex
	cells map[string]*cell

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// SystemOption provides a way to set functional parameters to a system.
type SystemOption func(s *System)

// WithSystemEvents makes the system publish lifecycle events to the
// broker.
func WithSystemEvents(b *event.Broker) SystemOption {
	return func(s *System) {
		s.broker = b
	}
}

// WithSystemLogger sets logger to the system. If this option is not
// provided, a silent logger is used.
func WithSystemLogger(l *logrus.Logger) SystemOption {
	return func(s *System) {
		s.log = l
	}
}

// WithMailboxCapacity sets the default mailbox capacity of spawned
// cells.
func WithMailboxCapacity(n int) SystemOption {
	return func(s *System) {
		s.mailbox = n
	}
}

// NewSystem creates a hierarchy with its root cell running. Canceling
// ctx stops every cell, as if Shutdown were called.
func NewSystem(ctx context.Context, options ...SystemOption) (*System, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &System{
		cells:   make(map[string]*cell),
		mailbox: DefaultMailboxCapacity,
		log:     log.Discard(),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, option := range options {
		option(s)
	}

	root := s.newCell("", RootPath, RootPath, rootBehavior())
	s.cells[RootPath] = root
	go root.run()
	go s.monitor(root)
	return s, nil
}

// rootBehavior drops stray messages and escalates every failure, so a
// failure no ancestor ruled on leaves the hierarchy through the root.
func rootBehavior() Behavior {
	return Behavior{
		Receive: func(_ *Context, state any, _ Envelope) (any, error) {
			return state, nil
		},
		Decider: func(error) Directive { return Escalate },
	}
}

// monitor finalizes the system once the root teardown finished.
func (s *System) monitor(root *cell) {
	<-root.done
	s.cancel()
	s.closeOnce.Do(func() { close(s.done) })
}

// Root returns the ref of the hierarchy root.
func (s *System) Root() Ref {
	return Ref{sys: s, path: RootPath}
}

// Spawn creates a top-level cell under the root.
func (s *System) Spawn(name string, b Behavior) (Ref, error) {
	return s.spawn(RootPath, name, b)
}

// Resolve evaluates a path expression from the root.
func (s *System) Resolve(path string) (Ref, error) {
	return s.resolve(RootPath, path)
}

// Stop stops the subtree below r and waits for it to finish.
func (s *System) Stop(r Ref) {
	done := s.doneOf(r.path)
	s.initiateStop(r.path)
	<-done
}

// Shutdown stops the whole hierarchy, waits for every cell to finish
// and reports the fatal error of the system, if any. Idempotent.
func (s *System) Shutdown() error {
	s.initiateStop(RootPath)
	<-s.done
	return s.Err()
}

// Done returns a channel closed once every cell stopped, whether by
// Shutdown, by context cancellation or by a fatal escalation.
func (s *System) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error of the system, nil after a clean
// shutdown.
func (s *System) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *System) newCell(parentPath, name, path string, b Behavior) *cell {
	capacity := b.MailboxCapacity
	if capacity == 0 {
		capacity = s.mailbox
	}
	c := &cell{
		sys:      s,
		path:     path,
		name:     name,
		parent:   parentPath,
		behavior: b,
		mailbox:  NewMailbox(capacity),
		done:     make(chan struct{}),
		children: make(map[string]string),
		watchers: make(map[string]struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(s.ctx)
	c.cx = &Context{sys: s, cell: c}
	return c
}

func (s *System) spawn(parentPath, name string, b Behavior) (Ref, error) {
	if err := validName(name); err != nil {
		return Ref{}, err
	}
	if b.Receive == nil {
		return Ref{}, errors.New("actor: behavior needs a receive function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if root, ok := s.cells[RootPath]; !ok || root.stopping() {
		return Ref{}, ErrSystemStopped
	}
	parent, ok := s.cells[parentPath]
	if !ok || parent.stopping() {
		return Ref{}, fmt.Errorf("%w: %s", ErrPathNotFound, parentPath)
	}
	if _, taken := parent.children[name]; taken {
		return Ref{}, fmt.Errorf("%w: %q under %s", ErrNameTaken, name, parentPath)
	}

	path := childPath(parentPath, name)
	c := s.newCell(parentPath, name, path, b)
	parent.children[name] = path
	s.cells[path] = c
	go c.run()
	return Ref{sys: s, path: path}, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("actor: invalid name %q", name)
	}
	return nil
}

func childPath(parent, name string) string {
	if parent == RootPath {
		return RootPath + name
	}
	return parent + "/" + name
}

// resolve evaluates a path expression from base. Absolute expressions
// ignore base; "." stays, ".." climbs, climbing above the root fails.
func (s *System) resolve(base, expr string) (Ref, error) {
	path, err := evalPath(base, expr)
	if err != nil {
		return Ref{}, err
	}
	s.mu.RLock()
	_, ok := s.cells[path]
	s.mu.RUnlock()
	if !ok {
		return Ref{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return Ref{sys: s, path: path}, nil
}

func evalPath(base, expr string) (string, error) {
	if strings.HasPrefix(expr, "/") {
		base = RootPath
	}
	cur := splitPath(base)
	for _, seg := range strings.Split(expr, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(cur) == 0 {
				return "", fmt.Errorf("%w: %q climbs above the root", ErrPathNotFound, expr)
			}
			cur = cur[:len(cur)-1]
		default:
			cur = append(cur, seg)
		}
	}
	return RootPath + strings.Join(cur, "/"), nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// deliver enqueues the envelope into the cell at path. Undeliverable
// envelopes go to dead letters and report why.
func (s *System) deliver(path string, env Envelope) error {
	s.mu.RLock()
	c, ok := s.cells[path]
	s.mu.RUnlock()
	if !ok || c.stopping() {
		s.deadLetter(path, env)
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err := c.mailbox.Enqueue(s.ctx, env); err != nil {
		s.deadLetter(path, env)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ErrSystemStopped
		}
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return nil
}

// deadLetter records an undeliverable envelope. A pending ask exchange
// resolves with the drop instead of hanging until its context expires.
func (s *System) deadLetter(path string, env Envelope) {
	if env.reply != nil {
		env.reply.complete(nil, fmt.Errorf("%w: %s", ErrActorStopped, path))
	}
	s.log.Debugf("dead letter for %s: %T", path, env.Value)
	s.publish(event.Event{Kind: event.DeadLetter, Path: path})
}

// publish sends the event when a broker is configured.
func (s *System) publish(e event.Event) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(e)
}

// initiateStop marks the subtree rooted at path as stopping and wakes
// every cell in it. The marked cells tear themselves down; join through
// Ref.Done. Already stopping subtrees are left alone.
func (s *System) initiateStop(path string) {
	s.mu.Lock()
	marked := s.markStopping(path)
	s.mu.Unlock()
	for _, c := range marked {
		c.cancel()
	}
}

// markStopping walks the subtree iteratively and marks every live cell.
// The mark is set top-down before any cancel fires, so no descendant
// starts a new message after its ancestor entered stopping. Callers
// hold mu.
func (s *System) markStopping(path string) []*cell {
	var marked []*cell
	stack := []string{path}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c, ok := s.cells[p]
		if !ok || c.stopping() {
			continue
		}
		c.state.Store(cellStopping)
		marked = append(marked, c)
		for _, child := range c.children {
			stack = append(stack, child)
		}
	}
	return marked
}

// resolveDirective applies deciders up the ancestry until one rules.
// The verdict acts on the failing cell; escalation past the root is
// fatal to the hierarchy.
func (s *System) resolveDirective(c *cell, cause error) Directive {
	d := decide(c, cause)
	cur := c
	for d == Escalate {
		if cur.parent == "" {
			s.fatal(cause)
			return Stop
		}
		s.mu.RLock()
		parent := s.cells[cur.parent]
		s.mu.RUnlock()
		if parent == nil {
			// The ancestry is collapsing already.
			return Stop
		}
		d = decide(parent, cause)
		cur = parent
	}
	return d
}

func decide(c *cell, err error) Directive {
	if c.behavior.Decider == nil {
		return DefaultDecider(err)
	}
	return c.behavior.Decider(err)
}

// fatal records the hierarchy-fatal failure and tears everything down.
// The first fatal cause wins.
func (s *System) fatal(cause error) {
	err := fmt.Errorf("%w: %w", ErrSupervisionExhausted, cause)
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.log.Errorf("%v", err)
	s.publish(event.Event{Kind: event.SystemFailed, Cause: err})
	s.initiateStop(RootPath)
}

// watch registers watcher for target's termination. A target that is
// already gone notifies immediately.
func (s *System) watch(watcher, target string) {
	s.mu.Lock()
	if t, ok := s.cells[target]; ok && !t.stopping() {
		t.watchers[watcher] = struct{}{}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notifyWatcher(watcher, Terminated{Ref: Ref{sys: s, path: target}})
}

func (s *System) unwatch(watcher, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.cells[target]; ok {
		delete(t.watchers, watcher)
	}
}

// notifyWatcher delivers a termination notice without suspending: a
// teardown must never block on a full watcher mailbox.
func (s *System) notifyWatcher(path string, term Terminated) {
	s.mu.RLock()
	w, ok := s.cells[path]
	s.mu.RUnlock()
	if !ok || w.stopping() {
		return
	}
	if !w.mailbox.tryEnqueue(Envelope{Value: term}) {
		s.deadLetter(path, Envelope{Value: term})
	}
}

// childCells snapshots the live children of path.
func (s *System) childCells(path string) []*cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cells[path]
	if !ok {
		return nil
	}
	out := make([]*cell, 0, len(c.children))
	for _, p := range c.children {
		if child, ok := s.cells[p]; ok {
			out = append(out, child)
		}
	}
	return out
}

func (s *System) doneOf(path string) <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cells[path]; ok {
		return c.done
	}
	return closedChan
}

// unregister removes the cell from the arena, releases its name for
// reuse and notifies watchers. Called by the cell itself at the end of
// its teardown, after the whole subtree finished.
func (s *System) unregister(c *cell) {
	s.mu.Lock()
	delete(s.cells, c.path)
	if parent, ok := s.cells[c.parent]; ok {
		delete(parent.children, c.name)
	}
	watchers := make([]string, 0, len(c.watchers))
	for w := range c.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	s.publish(event.Event{Kind: event.CellStopped, Path: c.path})
	s.log.Debugf("cell %s stopped", c.path)

	term := Terminated{Ref: Ref{sys: s, path: c.path}}
	for _, w := range watchers {
		s.notifyWatcher(w, term)
	}
}
