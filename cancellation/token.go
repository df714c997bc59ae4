// Package cancellation provides a one-shot completion signal that
// distinguishes cancellation from disposal.
//
// A Token starts pending and resolves exactly once, either as cancelled
// (Abort) or as disposed (Dispose). The first resolution wins; later calls are
// no-ops. Callbacks registered with OnFinished run exactly once for either
// outcome and receive whether the token was cancelled. Callbacks registered
// with OnCancellationRequested run only on cancellation.
//
// Cancellation is advisory: it tells registered parties to stop, it does not
// interrupt work that is already running.
package cancellation

import (
	"fmt"
	"log/slog"
	"sync"
)

type state uint8

const (
	statePending state = iota
	stateCancelled
	stateDisposed
)

// Token is a disposable one-shot signal. The zero value is not usable; call New.
type Token struct {
	log *slog.Logger

	mu    sync.Mutex
	state state
	regs  []*Registration
	done  chan struct{}
}

// Option configures a Token.
type Option func(*Token)

// WithLogger sets the logger used to report callback failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Token) {
		if l != nil {
			t.log = l
		}
	}
}

// New returns a pending Token.
func New(opts ...Option) *Token {
	t := &Token{log: slog.Default(), done: make(chan struct{})}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Registration is the handle returned when a callback is registered.
type Registration struct {
	token      *Token
	fn         func(wasCancelled bool)
	cancelOnly bool
	done       chan struct{}
	once       sync.Once
}

// Done is closed once the callback has run, or once the registration was
// stopped before the token resolved.
func (r *Registration) Done() <-chan struct{} { return r.done }

// Stop removes the callback if the token has not resolved yet. It reports
// whether the callback was removed before it could run.
func (r *Registration) Stop() bool {
	t := r.token
	t.mu.Lock()
	if t.state != statePending {
		t.mu.Unlock()
		return false
	}
	for i, reg := range t.regs {
		if reg == r {
			t.regs = append(t.regs[:i], t.regs[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	r.finish()
	return true
}

func (r *Registration) finish() { r.once.Do(func() { close(r.done) }) }

// IsDone reports whether the token has resolved in either terminal state.
func (t *Token) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != statePending
}

// IsCancelled reports whether the token resolved as cancelled. It returns
// false while pending and after disposal.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateCancelled
}

// Done returns a channel closed when the token resolves.
func (t *Token) Done() <-chan struct{} { return t.done }

// OnFinished registers fn to run exactly once when the token resolves, with
// wasCancelled set to true for Abort and false for Dispose. If the token has
// already resolved, fn runs immediately on the calling goroutine.
func (t *Token) OnFinished(fn func(wasCancelled bool)) *Registration {
	return t.register(&Registration{token: t, fn: fn, done: make(chan struct{})})
}

// OnCancellationRequested registers fn to run only if the token resolves as
// cancelled. On disposal the returned registration completes without running fn.
func (t *Token) OnCancellationRequested(fn func()) *Registration {
	return t.register(&Registration{
		token:      t,
		fn:         func(bool) { fn() },
		cancelOnly: true,
		done:       make(chan struct{}),
	})
}

func (t *Token) register(r *Registration) *Registration {
	t.mu.Lock()
	if t.state == statePending {
		t.regs = append(t.regs, r)
		t.mu.Unlock()
		return r
	}
	cancelled := t.state == stateCancelled
	t.mu.Unlock()

	t.run(r, cancelled)
	return r
}

// Abort resolves the token as cancelled. It is a no-op if already resolved.
func (t *Token) Abort() { t.resolve(stateCancelled) }

// Dispose resolves the token as disposed. It is a no-op if already resolved.
func (t *Token) Dispose() { t.resolve(stateDisposed) }

func (t *Token) resolve(to state) {
	t.mu.Lock()
	if t.state != statePending {
		t.mu.Unlock()
		return
	}
	t.state = to
	regs := t.regs
	t.regs = nil
	close(t.done)
	t.mu.Unlock()

	cancelled := to == stateCancelled
	for _, r := range regs {
		t.run(r, cancelled)
	}
}

// run invokes a single callback, containing any panic so that the remaining
// callbacks still run and the token's state is unaffected.
func (t *Token) run(r *Registration, cancelled bool) {
	defer r.finish()
	if r.cancelOnly && !cancelled {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			t.log.Error("cancellation.callback.panic",
				slog.Bool("cancelled", cancelled),
				slog.String("err", fmt.Sprint(p)))
		}
	}()
	r.fn(cancelled)
}
