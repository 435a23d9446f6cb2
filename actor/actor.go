// Package actor is a minimal supervised actor runtime. Cells own a
// bounded mailbox and private state, process one message at a time and
// are arranged in a hierarchy: a failing cell is resolved by supervision
// directives, walking up the ancestry when a decider escalates. The
// mailbox is backed by the same bounded channel that links pipeline
// stages, so senders are paced by backpressure instead of silent loss.
package actor

import "time"

type (
	// Directive tells the runtime what to do with a failing cell.
	Directive int

	// Decider resolves a failure to a directive. A nil decider stops
	// the cell on the first failure.
	Decider func(error) Directive

	// Rule pairs a failure predicate with a directive for DeciderOf.
	Rule struct {
		Match     func(error) bool
		Directive Directive
	}
)

const (
	// Resume drops the failure and continues with unmodified state.
	Resume Directive = iota
	// Restart discards the state, reinitializes the cell and continues.
	Restart
	// Stop stops the cell and its whole subtree.
	Stop
	// Escalate hands the failure to the parent's decider.
	Escalate
)

func (d Directive) String() string {
	switch d {
	case Resume:
		return "resume"
	case Restart:
		return "restart"
	case Stop:
		return "stop"
	case Escalate:
		return "escalate"
	}
	return "unknown"
}

// DefaultDecider stops the failing cell, whatever the failure.
func DefaultDecider(error) Directive {
	return Stop
}

// Match builds a rule for DeciderOf.
func Match(pred func(error) bool, d Directive) Rule {
	return Rule{Match: pred, Directive: d}
}

// DeciderOf builds a first-match-wins decider from rules. A failure no
// rule matches stops the cell.
func DeciderOf(rules ...Rule) Decider {
	return func(err error) Directive {
		for _, r := range rules {
			if r.Match != nil && r.Match(err) {
				return r.Directive
			}
		}
		return Stop
	}
}

// Behavior specifies a cell: how it builds fresh state, how it handles
// a message and how its failures are supervised.
type Behavior struct {
	// Init produces the fresh private state: once at spawn and again on
	// every restart. Nil means no state.
	Init func() (any, error)

	// Receive handles one envelope against the current state and
	// returns the state to commit. It runs on the cell's own goroutine
	// only. Required.
	Receive func(*Context, any, Envelope) (any, error)

	// Decider resolves processing failures. Nil stops on the first one.
	Decider Decider

	// MailboxCapacity overrides the system default for this cell. Zero
	// keeps the default, negative means unbounded.
	MailboxCapacity int

	// MaxRestarts and RestartWindow bound restart intensity: more than
	// MaxRestarts restarts within the window turn the next restart into
	// a stop. Zero MaxRestarts means unlimited; a zero window never
	// expires earlier restarts.
	MaxRestarts   int
	RestartWindow time.Duration
}

// Terminated is delivered to watching cells when the watched cell
// stopped.
type Terminated struct {
	Ref Ref
}
