// Package outbound correlates requests the client sends to the agent with the
// responses the agent returns.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/agentbridge/internal/jsonrpc"
)

// Transport emits frames to the agent.
type Transport interface {
	// SendRequest writes req, which carries the pre-allocated id.
	SendRequest(ctx context.Context, req *jsonrpc.Request) error
}

// TransportFunc adapts a function to a Transport.
type TransportFunc func(ctx context.Context, req *jsonrpc.Request) error

func (f TransportFunc) SendRequest(ctx context.Context, req *jsonrpc.Request) error { return f(ctx, req) }

var (
	// ErrDispatcherClosed indicates the dispatcher is closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrServerUnavailable is returned when the agent does not answer before
	// the call's deadline.
	ErrServerUnavailable = errors.New("agent unavailable")
	// ErrRemoteCancelled indicates the agent answered with a request
	// cancelled error.
	ErrRemoteCancelled = errors.New("remote cancelled")
)

type pendingCall struct {
	method string
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Dispatcher coordinates client-initiated JSON-RPC requests with response
// routing. It is transport-agnostic.
type Dispatcher struct {
	t Transport

	mu      sync.Mutex
	pending map[string]*pendingCall // id.String() -> call

	nextID atomic.Int64

	closed   atomic.Bool
	closeErr error
}

// New constructs a Dispatcher using the provided transport.
func New(t Transport) *Dispatcher {
	return &Dispatcher{t: t, pending: make(map[string]*pendingCall)}
}

// Call sends a request and waits for its response. If ctx reaches its
// deadline first, Call returns an error wrapping ErrServerUnavailable; no
// cancellation is sent to the agent. A JSON-RPC error response is returned
// as a *jsonrpc.Error.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	if err := d.closedErr(); err != nil {
		return nil, err
	}

	id := jsonrpc.NewRequestID(d.nextID.Add(1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{method: method, respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, d.closedErr()
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.t.SendRequest(ctx, req); err != nil {
		d.forget(key)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-pc.respCh:
		if resp.Error != nil {
			if resp.Error.Code == jsonrpc.ErrorCodeRequestCancelled {
				return resp, fmt.Errorf("%w: %w", ErrRemoteCancelled, resp.Error)
			}
			return resp, resp.Error
		}
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		d.forget(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, ErrServerUnavailable)
		}
		return nil, ctx.Err()
	}
}

// Pending returns the number of calls awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// OnResponse delivers an incoming response to a waiting call. It reports
// whether a call was waiting; late and unknown responses are ignored.
func (d *Dispatcher) OnResponse(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID.IsNil() {
		return false
	}
	key := resp.ID.String()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
	return ok
}

// Close fails all pending calls with err and prevents new calls.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return
	}
	d.closeErr = err
	d.closed.Store(true)
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}

func (d *Dispatcher) closedErr() error {
	if !d.closed.Load() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

func (d *Dispatcher) forget(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}
