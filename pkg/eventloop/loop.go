// Package eventloop runs every document access on one goroutine, the way a
// browser runs page scripts on its UI thread. Work that may block (network
// calls) runs elsewhere and posts its continuation back with Post.
package eventloop

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/menta2k/image-annotator/internal/queue"
)

var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	tasks   *queue.Queue[func()]
	running atomic.Bool
	stopped chan struct{}
}

func New() *Loop {
	return &Loop{
		tasks:   queue.New[func()](),
		stopped: make(chan struct{}),
	}
}

// Post schedules fn. It never blocks and returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	return l.tasks.Push(fn)
}

// Do schedules fn and waits for it to finish. Calling Do from inside a
// task deadlocks; call the function directly instead.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks in order until ctx is cancelled and the queue is empty.
// Tasks queued before the cancellation still run, so posted completions are
// never lost; Post fails once Run has returned.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer func() {
		l.tasks.Close()
		close(l.stopped)
	}()
	for {
		fn, err := l.tasks.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		fn()
	}
}

// Stopped is closed when Run returns
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}
