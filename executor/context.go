package executor

import (
	"context"
	"sync/atomic"
)

type boundKey struct{}

type binding struct {
	e      Executor
	active atomic.Bool
}

// Bind marks ctx as belonging to a task that is running on e right now. While
// the binding is active, Serial.Run called with ctx (or a context derived from
// it) calls fn inline instead of queueing it behind the running task. Call the
// returned func when the task returns.
func Bind(ctx context.Context, e Executor) (context.Context, func()) {
	b := &binding{e: e}
	b.active.Store(true)
	return context.WithValue(ctx, boundKey{}, b), func() { b.active.Store(false) }
}

// Detach strips any binding from ctx. Use it for work that leaves the
// execution context, such as a goroutine started from a handler.
func Detach(ctx context.Context) context.Context {
	if ctx.Value(boundKey{}) == nil {
		return ctx
	}
	return context.WithValue(ctx, boundKey{}, (*binding)(nil))
}

// Running reports whether ctx carries an active binding to e.
func Running(ctx context.Context, e Executor) bool {
	b, _ := ctx.Value(boundKey{}).(*binding)
	return b != nil && b.e == e && b.active.Load()
}
