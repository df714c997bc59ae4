package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ggoodman/agentbridge/executor"
	"github.com/ggoodman/agentbridge/internal/schema"
)

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// paramsDecoder validates params against the schema of P and decodes them.
// Params of type json.RawMessage or of an interface type skip validation.
type paramsDecoder[P any] struct {
	schema *schema.Schema
}

func newParamsDecoder[P any]() (paramsDecoder[P], error) {
	t := reflect.TypeOf((*P)(nil)).Elem()
	if t == rawMessageType || t.Kind() == reflect.Interface {
		return paramsDecoder[P]{}, nil
	}
	s, err := schema.ForType(t)
	if err != nil {
		return paramsDecoder[P]{}, err
	}
	return paramsDecoder[P]{schema: s}, nil
}

func (pd paramsDecoder[P]) decode(raw json.RawMessage) (P, error) {
	var p P
	if pd.schema != nil {
		if err := pd.schema.Validate(raw); err != nil {
			return p, err
		}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

// HandleRequest registers a typed request handler. Params are validated
// against the JSON schema reflected from P; invalid params are answered with
// an InvalidParams error without calling fn.
func HandleRequest[P, R any](d *Dispatcher, method string, fn func(ctx context.Context, params P) (R, error)) error {
	pd, err := newParamsDecoder[P]()
	if err != nil {
		return fmt.Errorf("register %s: %w", method, err)
	}
	d.RegisterRequestHandler(method, RequestHandlerFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := pd.decode(raw)
		if err != nil {
			return nil, InvalidParams(err)
		}
		return fn(ctx, p)
	}))
	return nil
}

// HandleRequestAsync registers a typed request handler whose body runs off
// the execution context. Validation still happens on the execution context.
func HandleRequestAsync[P, R any](d *Dispatcher, method string, fn func(ctx context.Context, params P) (R, error)) error {
	pd, err := newParamsDecoder[P]()
	if err != nil {
		return fmt.Errorf("register %s: %w", method, err)
	}
	d.RegisterRequestHandler(method, RequestHandlerFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := pd.decode(raw)
		if err != nil {
			return nil, InvalidParams(err)
		}
		ctx = executor.Detach(ctx)
		return Go(func() (any, error) { return fn(ctx, p) }), nil
	}))
	return nil
}

// HandleRequestOn registers a typed request handler whose body is submitted to
// e. Requests are submitted in arrival order, so an ordered executor answers
// them in that order without holding the execution context.
func HandleRequestOn[P, R any](d *Dispatcher, e executor.Executor, method string, fn func(ctx context.Context, params P) (R, error)) error {
	pd, err := newParamsDecoder[P]()
	if err != nil {
		return fmt.Errorf("register %s: %w", method, err)
	}
	d.RegisterRequestHandler(method, RequestHandlerFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := pd.decode(raw)
		if err != nil {
			return nil, InvalidParams(err)
		}
		ctx = executor.Detach(ctx)
		f := NewFuture()
		if err := e.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					f.Reject(fmt.Errorf("panic: %v", r))
				}
			}()
			f.settle(fn(ctx, p))
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return f, nil
	}))
	return nil
}

// HandleNotification registers a typed notification handler. Notifications
// with invalid params are logged and dropped.
func HandleNotification[P any](d *Dispatcher, method string, fn func(ctx context.Context, params P) error) error {
	pd, err := newParamsDecoder[P]()
	if err != nil {
		return fmt.Errorf("register %s: %w", method, err)
	}
	d.RegisterNotificationHandler(method, NotificationHandlerFunc(func(ctx context.Context, raw json.RawMessage) error {
		p, err := pd.decode(raw)
		if err != nil {
			return InvalidParams(err)
		}
		return fn(ctx, p)
	}))
	return nil
}
