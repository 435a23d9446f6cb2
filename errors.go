package skein

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSortViolation fails a sorted merge whose input emitted elements
	// out of order.
	ErrSortViolation = errors.New("skein: sorted merge input out of order")

	// ErrTimeout fails an async invocation that exceeded the stage
	// timeout. It matches context.DeadlineExceeded in errors.Is checks.
	ErrTimeout = fmt.Errorf("skein: async invocation timed out: %w", context.DeadlineExceeded)

	// ErrAlreadyStarted is returned by Start on a pipeline that was
	// started before. A pipeline materializes once.
	ErrAlreadyStarted = errors.New("skein: pipeline already started")

	// ErrNoStages is returned by Start on an empty pipeline.
	ErrNoStages = errors.New("skein: pipeline has no stages")

	// ErrOutletConsumed reports an outlet wired into two stages.
	ErrOutletConsumed = errors.New("skein: outlet already consumed")

	// ErrOutletOpen reports outlets without a consuming stage at Start.
	ErrOutletOpen = errors.New("skein: outlet left open")
)
