package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/agentbridge/executor"
	"github.com/ggoodman/agentbridge/internal/jsonrpc"
	"github.com/ggoodman/agentbridge/internal/logctx"
)

// ResponseWriter sends a response frame back over the transport.
type ResponseWriter interface {
	WriteResponse(ctx context.Context, res *jsonrpc.Response) error
}

// ResponseWriterFunc adapts a function to a ResponseWriter.
type ResponseWriterFunc func(ctx context.Context, res *jsonrpc.Response) error

func (f ResponseWriterFunc) WriteResponse(ctx context.Context, res *jsonrpc.Response) error {
	return f(ctx, res)
}

// RequestHandler answers an agent-initiated request. The returned value is
// marshalled as the result, unless it is a *Future, in which case the
// response is sent once the future settles.
type RequestHandler interface {
	HandleRequest(ctx context.Context, params json.RawMessage) (any, error)
}

// RequestHandlerFunc adapts a function to a RequestHandler.
type RequestHandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f RequestHandlerFunc) HandleRequest(ctx context.Context, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

// NotificationHandler handles an agent-initiated notification. A returned
// error is logged; the agent never sees it.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, params json.RawMessage) error
}

// NotificationHandlerFunc adapts a function to a NotificationHandler.
type NotificationHandlerFunc func(ctx context.Context, params json.RawMessage) error

func (f NotificationHandlerFunc) HandleNotification(ctx context.Context, params json.RawMessage) error {
	return f(ctx, params)
}

type handlerKind uint8

const (
	requestKind handlerKind = iota + 1
	notificationKind
)

func (k handlerKind) String() string {
	if k == requestKind {
		return "request"
	}
	return "notification"
}

// registration is the single handler bound to a method.
type registration struct {
	kind         handlerKind
	request      RequestHandler
	notification NotificationHandler
}

// Dispatcher binds method names to handlers and executes inbound frames.
// Construct one per connection.
type Dispatcher struct {
	exec executor.Executor
	log  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]registration

	// Requests awaiting a response. A plain counter under a mutex so that
	// Wait may race with Dispatch.
	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New returns a Dispatcher that runs handlers on exec.
func New(exec executor.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{exec: exec, log: slog.Default(), handlers: make(map[string]registration)}
	d.idle = sync.NewCond(&d.pendingMu)
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// RegisterRequestHandler binds h to method, replacing any handler of either
// kind previously bound to it. A nil h unregisters the method.
func (d *Dispatcher) RegisterRequestHandler(method string, h RequestHandler) {
	if h == nil {
		d.Unregister(method)
		return
	}
	d.bind(method, registration{kind: requestKind, request: h})
}

// RegisterNotificationHandler binds h to method, replacing any handler of
// either kind previously bound to it. A nil h unregisters the method.
func (d *Dispatcher) RegisterNotificationHandler(method string, h NotificationHandler) {
	if h == nil {
		d.Unregister(method)
		return
	}
	d.bind(method, registration{kind: notificationKind, notification: h})
}

// Unregister removes any handler bound to method.
func (d *Dispatcher) Unregister(method string) {
	d.mu.Lock()
	delete(d.handlers, method)
	d.mu.Unlock()
}

// Methods returns the number of bound methods.
func (d *Dispatcher) Methods() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func (d *Dispatcher) bind(method string, reg registration) {
	d.mu.Lock()
	prev, replaced := d.handlers[method]
	d.handlers[method] = reg
	d.mu.Unlock()

	if replaced {
		d.log.Debug("dispatcher.handler.replaced",
			slog.String("method", method),
			slog.String("prev_kind", prev.kind.String()),
			slog.String("kind", reg.kind.String()))
	}
}

func (d *Dispatcher) lookup(method string) (registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.handlers[method]
	return reg, ok
}

// Dispatch executes one inbound request or notification. It returns once the
// frame is queued on the execution context; w receives the response, if any,
// from another goroutine. Responses are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *jsonrpc.AnyMessage, w ResponseWriter) {
	req := msg.AsRequest()
	if req == nil {
		d.log.WarnContext(ctx, "dispatcher.dispatch.not_inbound", slog.String("type", msg.Type()))
		return
	}

	typ := msg.Type()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: typ})

	if typ == "notification" {
		if err := d.exec.Submit(func() { d.runNotification(ctx, req) }); err != nil {
			d.log.WarnContext(ctx, "dispatcher.notification.dropped", slog.String("err", err.Error()))
		}
		return
	}

	d.track()
	if err := d.exec.Submit(func() { d.runRequest(ctx, req, w) }); err != nil {
		go d.respond(ctx, w, errorResponse(req.ID, req.Method, fmt.Errorf("%w: %v", ErrClosed, err)), time.Now())
	}
}

// Wait blocks until every request dispatched so far has been answered. It may
// be called while frames are still being dispatched.
func (d *Dispatcher) Wait() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	for d.pending > 0 {
		d.idle.Wait()
	}
}

func (d *Dispatcher) track() {
	d.pendingMu.Lock()
	d.pending++
	d.pendingMu.Unlock()
}

func (d *Dispatcher) untrack() {
	d.pendingMu.Lock()
	d.pending--
	if d.pending == 0 {
		d.idle.Broadcast()
	}
	d.pendingMu.Unlock()
}

func (d *Dispatcher) runRequest(ctx context.Context, req *jsonrpc.Request, w ResponseWriter) {
	start := time.Now()

	reg, ok := d.lookup(req.Method)
	if !ok || reg.kind != requestKind {
		go d.respond(ctx, w, errorResponse(req.ID, req.Method, ErrNoHandler), start)
		return
	}

	hctx, release := executor.Bind(ctx, d.exec)
	v, err := d.invokeRequest(hctx, reg.request, req.Params)
	release()
	if f, isFuture := v.(*Future); isFuture && err == nil && f != nil {
		go func() {
			v, err := f.Result()
			d.respond(ctx, w, d.buildResponse(req, v, err), start)
		}()
		return
	}
	go d.respond(ctx, w, d.buildResponse(req, v, err), start)
}

func (d *Dispatcher) invokeRequest(ctx context.Context, h RequestHandler, params json.RawMessage) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return h.HandleRequest(ctx, params)
}

func (d *Dispatcher) buildResponse(req *jsonrpc.Request, v any, err error) *jsonrpc.Response {
	if err != nil {
		return errorResponse(req.ID, req.Method, err)
	}
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		return errorResponse(req.ID, req.Method, err)
	}
	return res
}

func (d *Dispatcher) respond(ctx context.Context, w ResponseWriter, res *jsonrpc.Response, start time.Time) {
	defer d.untrack()

	log := d.log.With(slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	if res.Error != nil {
		log.WarnContext(ctx, "dispatcher.request.fail",
			slog.Int("code", int(res.Error.Code)),
			slog.String("err", res.Error.Message))
	} else {
		log.DebugContext(ctx, "dispatcher.request.ok")
	}

	if err := w.WriteResponse(ctx, res); err != nil {
		log.ErrorContext(ctx, "dispatcher.response.write_fail", slog.String("err", err.Error()))
	}
}

func (d *Dispatcher) runNotification(ctx context.Context, req *jsonrpc.Request) {
	reg, ok := d.lookup(req.Method)
	if !ok {
		d.log.WarnContext(ctx, "dispatcher.notification.dropped", slog.String("reason", "no handler registered"))
		return
	}
	if reg.kind != notificationKind {
		d.log.WarnContext(ctx, "dispatcher.notification.dropped", slog.String("reason", "method is bound to a request handler"))
		return
	}

	hctx, release := executor.Bind(ctx, d.exec)
	defer release()
	if err := d.invokeNotification(hctx, reg.notification, req.Params); err != nil {
		d.log.ErrorContext(ctx, "dispatcher.notification.fail", slog.String("err", err.Error()))
		return
	}
	d.log.DebugContext(ctx, "dispatcher.notification.ok")
}

func (d *Dispatcher) invokeNotification(ctx context.Context, h NotificationHandler, params json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.HandleNotification(ctx, params)
}
