package dispatcher

import (
	"fmt"
	"sync"
)

// Future is a result that settles once, later. Request handlers return a
// *Future to complete after yielding the execution context.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture returns an unsettled Future.
func NewFuture() *Future { return &Future{done: make(chan struct{})} }

// Resolve settles f with v. It reports false if f was already settled.
func (f *Future) Resolve(v any) bool { return f.settle(v, nil) }

// Reject settles f with err. It reports false if f was already settled.
func (f *Future) Reject(err error) bool { return f.settle(nil, err) }

func (f *Future) settle(v any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed when f settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the settled value. It blocks until f settles.
func (f *Future) Result() (any, error) {
	<-f.done
	return f.value, f.err
}

// Go runs fn on a new goroutine and returns a Future for its result. A panic
// in fn rejects the future.
func Go(fn func() (any, error)) *Future {
	f := NewFuture()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				f.Reject(fmt.Errorf("panic: %v", p))
			}
		}()
		f.settle(fn())
	}()
	return f
}
