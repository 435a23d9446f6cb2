package actor

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"skein.dev/skein/event"
)

// Cell lifecycle. Stopping and Stopped are one-way: once a cell is
// marked stopping it never advances to a live state again.
const (
	cellStarting int32 = iota
	cellRunning
	cellRestarting
	cellStopping
	cellStopped
)

// cell is one actor: a mailbox, private state and the goroutine that
// weds them. Cells address relatives by path through the system arena,
// never by pointer, so a stopped relative is an absent map entry rather
// than a dangling reference.
type cell struct {
	sys      *System
	path     string
	name     string
	parent   string
	behavior Behavior
	mailbox  *Mailbox

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	cx       *Context
	restarts []time.Time

	// children and watchers are guarded by sys.mu.
	children map[string]string
	watchers map[string]struct{}
}

func (c *cell) stopping() bool {
	s := c.state.Load()
	return s == cellStopping || s == cellStopped
}

// advance moves the lifecycle forward unless the cell is already
// stopping. The stop mark set by an arena walk must never be undone by
// a concurrent restart.
func (c *cell) advance(to int32) bool {
	for {
		cur := c.state.Load()
		if cur == cellStopping || cur == cellStopped {
			return false
		}
		if c.state.CompareAndSwap(cur, to) {
			return true
		}
	}
}

// run is the cell goroutine: init, process envelopes until stopped,
// tear down the subtree.
func (c *cell) run() {
	state, ok := c.start()
	for ok {
		env, err := c.mailbox.Dequeue(c.ctx)
		if err != nil {
			break
		}
		if c.stopping() {
			c.sys.deadLetter(c.path, env)
			break
		}
		next, rerr := c.invoke(state, env)
		if rerr == nil {
			state = next
			continue
		}
		if env.reply != nil {
			env.reply.complete(nil, rerr)
		}
		state, ok = c.failed(state, rerr, false)
	}
	c.teardown()
}

// start runs Init under supervision. ok=false goes straight to
// teardown.
func (c *cell) start() (any, bool) {
	state, err := c.init()
	if err != nil {
		return c.failed(nil, err, true)
	}
	if !c.advance(cellRunning) {
		return nil, false
	}
	c.sys.publish(event.Event{Kind: event.CellStarted, Path: c.path})
	c.sys.log.Debugf("cell %s started", c.path)
	return state, true
}

// init builds fresh state, converting panics into failures.
func (c *cell) init() (state any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	if c.behavior.Init == nil {
		return nil, nil
	}
	return c.behavior.Init()
}

// invoke handles one envelope, converting panics into failures.
func (c *cell) invoke(state any, env Envelope) (next any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	c.cx.env = env
	return c.behavior.Receive(c.cx, state, env)
}

// failed resolves a failure into the cell's next move: state to
// continue with, or ok=false to stop. The deciders of the ancestry rule
// on escalation; their verdict is applied to this cell.
func (c *cell) failed(state any, cause error, init bool) (any, bool) {
	for {
		d := c.sys.resolveDirective(c, cause)
		c.sys.publish(event.Event{Kind: event.CellFailed, Path: c.path, Cause: cause, Directive: d.String()})
		c.sys.log.Debugf("cell %s failed: %v, directive %s", c.path, cause, d)
		if d == Resume && init {
			// A cell that never initialized has no state to resume into.
			d = Restart
		}
		switch d {
		case Resume:
			return state, true
		case Restart:
			if c.noteRestart() {
				c.sys.log.Debugf("cell %s exceeded restart intensity", c.path)
				c.sys.initiateStop(c.path)
				return nil, false
			}
			if !c.advance(cellRestarting) {
				return nil, false
			}
			c.sys.publish(event.Event{Kind: event.CellRestarting, Path: c.path})
			fresh, err := c.init()
			if err != nil {
				cause, init = err, true
				continue
			}
			if !c.advance(cellRunning) {
				return nil, false
			}
			return fresh, true
		default:
			c.sys.initiateStop(c.path)
			return nil, false
		}
	}
}

// noteRestart records a restart and reports whether intensity is
// exhausted: more than MaxRestarts restarts within RestartWindow.
func (c *cell) noteRestart() bool {
	max := c.behavior.MaxRestarts
	if max < 1 {
		return false
	}
	now := time.Now()
	if w := c.behavior.RestartWindow; w > 0 {
		keep := c.restarts[:0]
		for _, ts := range c.restarts {
			if now.Sub(ts) < w {
				keep = append(keep, ts)
			}
		}
		c.restarts = keep
	}
	c.restarts = append(c.restarts, now)
	return len(c.restarts) > max
}

// teardown stops the subtree: close intake first so suspended senders
// wake, join the children, then drain leftovers to dead letters. Only
// after the whole subtree finished is the cell marked stopped, its name
// released and its watchers notified.
func (c *cell) teardown() {
	c.sys.initiateStop(c.path)
	c.mailbox.Close()

	g := new(errgroup.Group)
	for _, child := range c.sys.childCells(c.path) {
		child := child
		g.Go(func() error {
			<-child.done
			return nil
		})
	}
	_ = g.Wait()

	for {
		env, ok := c.mailbox.tryDequeue()
		if !ok {
			break
		}
		c.sys.deadLetter(c.path, env)
	}

	c.state.Store(cellStopped)
	c.sys.unregister(c)
	close(c.done)
}
