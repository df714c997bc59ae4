package dispatcher

import (
	"errors"
	"fmt"

	"github.com/ggoodman/agentbridge/internal/jsonrpc"
)

// Error kinds reported in the data member of error responses.
const (
	KindNoHandlerRegistered = "NoHandlerRegistered"
	KindHandlerFailed       = "HandlerFailed"
	KindInvalidParams       = "InvalidParams"
)

var (
	// ErrNoHandler is reported when no handler is registered for a method.
	ErrNoHandler = errors.New("no handler registered")
	// ErrClosed is reported when a frame arrives after the execution context closed.
	ErrClosed = errors.New("dispatcher closed")
)

// ErrorData is the data member attached to error responses.
type ErrorData struct {
	Kind   string `json:"kind"`
	Method string `json:"method"`
	Cause  string `json:"cause,omitempty"`
}

// HandlerError lets a handler choose the JSON-RPC error code of its response.
// Any other error returned by a handler is reported as HandlerFailed.
type HandlerError struct {
	Code    jsonrpc.ErrorCode
	Kind    string
	Message string
	Err     error
}

func (e *HandlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HandlerError) Unwrap() error { return e.Err }

// InvalidParams wraps err as an invalid params error.
func InvalidParams(err error) error {
	return &HandlerError{Code: jsonrpc.ErrorCodeInvalidParams, Kind: KindInvalidParams, Message: "invalid params", Err: err}
}

func errorResponse(id *jsonrpc.RequestID, method string, err error) *jsonrpc.Response {
	if errors.Is(err, ErrNoHandler) {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("no handler registered for method %q", method),
			ErrorData{Kind: KindNoHandlerRegistered, Method: method})
	}

	var herr *HandlerError
	if errors.As(err, &herr) {
		kind := herr.Kind
		if kind == "" {
			kind = KindHandlerFailed
		}
		data := ErrorData{Kind: kind, Method: method}
		if herr.Err != nil {
			data.Cause = herr.Err.Error()
		}
		return jsonrpc.NewErrorResponse(id, herr.Code, herr.Error(), data)
	}

	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(),
		ErrorData{Kind: KindHandlerFailed, Method: method, Cause: err.Error()})
}
