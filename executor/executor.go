// Package executor provides the serialized execution context onto which the
// dispatcher marshals handler bodies and the client marshals editor-originated
// operations. Tasks submitted to a Serial executor run one at a time, in
// submission order, on a single goroutine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when submitting to an executor that has been closed.
var ErrClosed = errors.New("executor closed")

// Executor runs tasks on an execution context chosen by the implementation.
type Executor interface {
	// Submit enqueues task. It must not block on the task itself.
	Submit(task func()) error
}

// Serial is an unbounded FIFO executor backed by one goroutine.
type Serial struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// Option configures a Serial executor.
type Option func(*Serial)

// WithLogger sets the logger used to report task panics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Serial) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSerial starts a Serial executor.
func NewSerial(opts ...Option) *Serial {
	s := &Serial{
		log:     slog.Default(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	go s.loop()
	return s
}

// Submit enqueues task behind every previously submitted task.
func (s *Serial) Submit(task func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run submits fn and waits for it to finish or for ctx to end. fn receives
// ctx bound to s, so a nested Run with that context runs inline. If ctx is
// already bound to s, Run calls fn directly on the caller's goroutine.
//
// When ctx ends before fn has started, fn is skipped and ctx.Err() returned.
// Once fn has started, Run waits for it and returns its result.
func (s *Serial) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if Running(ctx, s) {
		return call(ctx, fn)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var claimed atomic.Bool
	errCh := make(chan error, 1)
	if err := s.Submit(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		bctx, release := Bind(ctx, s)
		defer release()
		errCh <- call(bctx, fn)
	}); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-errCh
	}
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Close stops accepting tasks. Tasks already queued still run. Close blocks
// until the queue has drained.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.stopped
}

func (s *Serial) loop() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.exec(task)
	}
}

func (s *Serial) exec(task func()) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("executor.task.panic", slog.String("err", fmt.Sprint(p)))
		}
	}()
	task()
}
