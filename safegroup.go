package watchtracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	restartBackoffMin = 200 * time.Millisecond
	restartBackoffMax = 30 * time.Second
)

// SafeGroup supervises the long-running parts of the tracker (scan loop,
// status API) on top of errgroup.WithContext.
type SafeGroup struct {
	group *errgroup.Group
	// ctx is canceled on parent cancellation or the first worker error.
	ctx context.Context
	// parent is what WaitOrInterrupt watches, usually signal.NotifyContext.
	parent context.Context
}

// NewSafeGroup derives a group context from ctx.
func NewSafeGroup(ctx context.Context) *SafeGroup {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	return &SafeGroup{group: group, ctx: groupCtx, parent: ctx}
}

// Context returns the group-derived context.
func (sg *SafeGroup) Context() context.Context {
	return sg.ctx
}

// GoSafe runs fn in the group. A panic is printed to stderr and fn is
// restarted with exponential backoff; a returned error cancels the group.
func (sg *SafeGroup) GoSafe(name string, fn func(context.Context) error) {
	if sg == nil || sg.group == nil || fn == nil {
		return
	}
	sg.group.Go(func() error {
		backoff := restartBackoffMin
		for {
			if sg.ctx.Err() != nil {
				return nil
			}
			err, recovered := runRecovering(sg.ctx, fn)
			if recovered == nil {
				return err
			}
			// stderr on purpose: the panic may come from the logger.
			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())
			select {
			case <-sg.ctx.Done():
				return nil
			case <-time.After(backoff + jitter(backoff/2)):
			}
			backoff = min(backoff*2, restartBackoffMax)
		}
	})
}

func runRecovering(ctx context.Context, fn func(context.Context) error) (err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	return fn(ctx), nil
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % int64(limit))
}

// WaitOrInterrupt waits for all workers. Once the parent context is done it
// waits at most gracePeriod more and then returns the parent's error.
func (sg *SafeGroup) WaitOrInterrupt(gracePeriod time.Duration) error {
	if sg == nil || sg.group == nil {
		return nil
	}
	waitCh := make(chan error, 1)
	go func() {
		waitCh <- sg.group.Wait()
	}()

	select {
	case err := <-waitCh:
		return normalizeInterruptError(sg.parent, err)
	case <-sg.parent.Done():
	}
	if gracePeriod <= 0 {
		return sg.parent.Err()
	}
	select {
	case err := <-waitCh:
		return normalizeInterruptError(sg.parent, err)
	case <-time.After(gracePeriod):
		return sg.parent.Err()
	}
}

// normalizeInterruptError reports the parent's error whenever the parent is
// done, even if the workers exited cleanly before noticing it.
func normalizeInterruptError(ctx context.Context, err error) error {
	if err == nil {
		return ctx.Err()
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return err
}
