package actor

// Context is the cell's view of the runtime while it handles one
// envelope. It is only valid on the cell's own goroutine for the
// duration of the Receive call.
type Context struct {
	sys  *System
	cell *cell
	env  Envelope
}

// Self returns the ref of the handling cell.
func (c *Context) Self() Ref {
	return Ref{sys: c.sys, path: c.cell.path}
}

// Sender returns who sent the current envelope, Nobody when unknown.
func (c *Context) Sender() Ref {
	return c.env.Sender
}

// System returns the owning system.
func (c *Context) System() *System {
	return c.sys
}

// Spawn creates a child of this cell.
func (c *Context) Spawn(name string, b Behavior) (Ref, error) {
	return c.sys.spawn(c.cell.path, name, b)
}

// Watch registers interest in r's termination: once r stops, a
// Terminated message is delivered here. Watching an already stopped
// cell delivers the notice immediately.
func (c *Context) Watch(r Ref) {
	c.sys.watch(c.cell.path, r.path)
}

// Unwatch removes a prior Watch registration.
func (c *Context) Unwatch(r Ref) {
	c.sys.unwatch(c.cell.path, r.path)
}

// Stop initiates the stop of r's subtree and returns without waiting.
// Stopping Self is allowed: the current message finishes first.
func (c *Context) Stop(r Ref) {
	c.sys.initiateStop(r.path)
}

// Select resolves a path expression relative to this cell. Absolute
// expressions start at the root; "." and ".." walk the hierarchy.
func (c *Context) Select(path string) (Ref, error) {
	return c.sys.resolve(c.cell.path, path)
}

// Reply answers the current ask exchange. Outside an ask it is a no-op.
func (c *Context) Reply(v any) {
	if c.env.reply != nil {
		c.env.reply.complete(v, nil)
	}
}
