// Package dispatcher routes inbound JSON-RPC frames from the agent to handlers
// registered by method name.
//
// Handlers run on a single serialized execution context supplied at
// construction (see package executor), so no two handler bodies run at the
// same time and none races with editor operations marshaled onto the same
// context. Frames may arrive concurrently; only their execution is ordered.
//
// Every request receives exactly one response:
//
//	no handler registered   -> error -32601, data.kind "NoHandlerRegistered"
//	handler error or panic  -> error -32603, data.kind "HandlerFailed", message preserved
//	handler result          -> result
//
// Notifications never produce a response. Unknown methods and failing
// notification handlers are logged and dropped.
//
// The ctx handed to a handler is bound to the execution context (see
// executor.Bind) until the handler returns, so a handler may call editor
// operations that marshal onto the same context without waiting on itself.
//
// A request handler that needs to wait on I/O returns a *Future instead of a
// value. The dispatcher releases the execution context and responds once the
// future settles. Go starts such work on its own goroutine:
//
//	d.RegisterRequestHandler("secrets/get", dispatcher.RequestHandlerFunc(
//	    func(ctx context.Context, params json.RawMessage) (any, error) {
//	        ctx = executor.Detach(ctx)
//	        return dispatcher.Go(func() (any, error) { return lookup(ctx, params) }), nil
//	    }))
//
// HandleRequest, HandleRequestAsync, HandleRequestOn and HandleNotification
// wrap typed functions, validating params against the JSON schema of their Go type.
package dispatcher
