package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates no handler is registered for the method.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates the handler failed while producing a result.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeRequestCancelled indicates the peer abandoned the request.
	ErrorCodeRequestCancelled ErrorCode = -32800
)

// String returns the symbolic name of well-known codes.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "parse_error"
	case ErrorCodeInvalidRequest:
		return "invalid_request"
	case ErrorCodeMethodNotFound:
		return "method_not_found"
	case ErrorCodeInvalidParams:
		return "invalid_params"
	case ErrorCodeInternalError:
		return "internal_error"
	case ErrorCodeRequestCancelled:
		return "request_cancelled"
	}
	return fmt.Sprintf("code(%d)", int(c))
}
