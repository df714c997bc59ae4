package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the value of the jsonrpc member on every frame.
const Version = "2.0"

// AnyMessage is one decoded frame from the peer before it is known whether it
// is a request, a notification or a response.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request is an outbound or inbound call. Without an ID it is a notification.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response answers a Request. The id member is always written, as null when
// the request id could not be read.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// Error is the error member of a response. Outbound calls return it as is.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", int(e.Code), e.Message)
}

// NewRequest encodes params and builds a frame. A nil id makes a notification.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: Version, Method: method, ID: id}
	if params == nil {
		return req, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	req.Params = b
	return req, nil
}

// NewResultResponse encodes result. A nil result is written as null so the
// result member is still present.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: Version, Result: b, ID: id}, nil
}

func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: Version,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

var (
	errBadVersion      = errors.New("jsonrpc member must be \"2.0\"")
	errRequestWithBody = errors.New("a frame with a method cannot carry result or error")
	errAmbiguous       = errors.New("a response carries exactly one of result or error")
)

// UnmarshalJSON decodes a frame and rejects shapes that are neither a
// request nor a response.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type plain AnyMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if p.JSONRPCVersion != Version {
		return fmt.Errorf("%w, got %q", errBadVersion, p.JSONRPCVersion)
	}

	hasResult, hasError := len(p.Result) > 0, p.Error != nil
	switch {
	case p.Method != "" && (hasResult || hasError):
		return errRequestWithBody
	case p.Method == "" && hasResult == hasError:
		return errAmbiguous
	}

	*m = AnyMessage(p)
	return nil
}

// Type is "request", "notification" or "response".
func (m *AnyMessage) Type() string {
	switch {
	case m.Method == "":
		return "response"
	case m.ID.IsNil():
		return "notification"
	default:
		return "request"
	}
}

// AsRequest returns nil for responses.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns nil for requests and notifications.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
