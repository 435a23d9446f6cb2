/*
Package skein builds and runs backpressured streaming pipelines.

Concept

A pipeline is a chain of stages linked by bounded channels. Every stage
runs in its own goroutine; the channel between two neighbours is their
only shared state. When a channel is full the overflow policy of the
link decides what happens to the arriving element:

	Backpressure - suspend the producer until the consumer makes room;
	DropHead     - evict the oldest buffered element;
	DropTail     - discard the arriving element;
	DropNew      - alias of DropTail;
	DropBuffer   - clear the buffer and admit the arriving element;
	Fail         - fail the pipeline with channel.ErrOverflow.

Backpressure is the default, so a slow consumer paces the whole chain
instead of losing data.

Stages

Stages are built from the outlet of their upstream. Sources produce
elements into the pipeline: Emit plays out a fixed set, SourceFunc pulls
from a function until it returns io.EOF. Transforms reshape the flow:
Map, Filter, Take, Buffer, AsyncBoundary and MapAsync, which applies a
fallible function with bounded parallelism, in order or unordered.
Sinks terminate it: Collect, ForEach, Discard. Junctions split and join
flows: Broadcast, Balance, Merge, MergePreferred and MergeSorted.
Recover and RecoverWithRetries wrap an upstream and replace its failure
with a fallback element or a freshly built replacement stream.

	p := skein.New(skein.WithCapacity(16))
	src := skein.Emit(p, 1, 2, 3)
	doubled := skein.Map(src, func(v int) int { return v * 2 })
	sum := skein.Collect(doubled)

Execution

Start validates the assembled layout, spawns every stage and returns a
run handle:

	r, err := p.Start(ctx)
	if err != nil {
		return err
	}
	if err := r.Wait(); err != nil {
		return err
	}

The run ends when every source drained, when a stage fails, when ctx is
done or when Stop is called. The first failure cancels the rest of the
pipeline and becomes the error of the run; cancellation is not an
error.

Actors

Package actor builds a minimal supervised actor runtime on the same
bounded channel: cells with backpressured mailboxes, arranged in a
hierarchy with restart and escalation semantics.
*/
package skein
