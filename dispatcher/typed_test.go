package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/agentbridge/executor"
	"github.com/ggoodman/agentbridge/internal/jsonrpc"
)

type greetParams struct {
	Name  string `json:"name"`
	Times int    `json:"times,omitempty"`
}

type greetResult struct {
	Greeting string `json:"greeting"`
}

func TestHandleRequest_DecodesParams(t *testing.T) {
	h := newHarness(t)
	err := HandleRequest(h.d, "greet", func(ctx context.Context, p greetParams) (greetResult, error) {
		return greetResult{Greeting: "hello " + p.Name}, nil
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	h.dispatch(`{"jsonrpc":"2.0","id":1,"method":"greet","params":{"name":"ada"}}`)
	h.settle()

	got := h.w.responses()
	if len(got) != 1 {
		t.Fatalf("got %d responses, want 1", len(got))
	}
	var res greetResult
	if err := json.Unmarshal(got[0].Result, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.Greeting != "hello ada" {
		t.Fatalf("greeting = %q", res.Greeting)
	}
}

func TestHandleRequest_InvalidParams(t *testing.T) {
	h := newHarness(t)
	called := false
	err := HandleRequest(h.d, "greet", func(ctx context.Context, p greetParams) (greetResult, error) {
		called = true
		return greetResult{}, nil
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	h.dispatch(`{"jsonrpc":"2.0","id":1,"method":"greet","params":{"times":2}}`)
	h.dispatch(`{"jsonrpc":"2.0","id":2,"method":"greet","params":{"name":42}}`)
	h.settle()

	if called {
		t.Fatalf("handler ran with invalid params")
	}
	for _, res := range h.w.responses() {
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("unexpected response: %+v", res)
		}
		if data := errorData(t, res); data.Kind != KindInvalidParams || data.Method != "greet" {
			t.Fatalf("unexpected error data: %+v", data)
		}
	}
}

func TestHandleRequestAsync_RunsOffContext(t *testing.T) {
	h := newHarness(t)
	err := HandleRequestAsync(h.d, "greet", func(ctx context.Context, p greetParams) (greetResult, error) {
		return greetResult{Greeting: "hi " + p.Name}, nil
	})
	if err != nil {
		t.Fatalf("HandleRequestAsync: %v", err)
	}
	h.dispatch(`{"jsonrpc":"2.0","id":"x","method":"greet","params":{"name":"bob"}}`)
	h.settle()

	got := h.w.responses()
	if len(got) != 1 || string(got[0].Result) != `{"greeting":"hi bob"}` {
		t.Fatalf("unexpected responses: %+v", got)
	}
}

func TestHandleNotification_DropsInvalidParams(t *testing.T) {
	h := newHarness(t)
	var names []string
	err := HandleNotification(h.d, "hello", func(ctx context.Context, p greetParams) error {
		names = append(names, p.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}

	h.dispatch(`{"jsonrpc":"2.0","method":"hello","params":{"name":1}}`)
	h.dispatch(`{"jsonrpc":"2.0","method":"hello","params":{"name":"eve"}}`)
	h.settle()

	if len(names) != 1 || names[0] != "eve" {
		t.Fatalf("names = %v, want [eve]", names)
	}
	if n := len(h.w.responses()); n != 0 {
		t.Fatalf("notifications produced %d responses", n)
	}
}

func TestHandleRequest_RawParamsSkipValidation(t *testing.T) {
	h := newHarness(t)
	err := HandleRequest(h.d, "echo", func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		return p, nil
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	h.dispatch(`{"jsonrpc":"2.0","id":1,"method":"echo","params":[1,2,3]}`)
	h.settle()

	got := h.w.responses()
	if len(got) != 1 || string(got[0].Result) != "[1,2,3]" {
		t.Fatalf("unexpected responses: %+v", got)
	}
}

func TestHandleRequestOn_AnswersInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	worker := executor.NewSerial()
	t.Cleanup(worker.Close)

	var mu sync.Mutex
	var order []string
	err := HandleRequestOn(h.d, worker, "greet", func(ctx context.Context, p greetParams) (greetResult, error) {
		if p.Name == "slow" {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, p.Name)
		mu.Unlock()
		return greetResult{Greeting: p.Name}, nil
	})
	if err != nil {
		t.Fatalf("HandleRequestOn: %v", err)
	}

	h.dispatch(`{"jsonrpc":"2.0","id":1,"method":"greet","params":{"name":"slow"}}`)
	h.dispatch(`{"jsonrpc":"2.0","id":2,"method":"greet","params":{"name":"fast"}}`)
	h.settle()

	got := h.w.responses()
	if len(got) != 2 {
		t.Fatalf("got %d responses, want 2", len(got))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "slow" || order[1] != "fast" {
		t.Fatalf("bodies ran in order %v", order)
	}
}

func TestHandleRequestOn_ClosedWorker(t *testing.T) {
	h := newHarness(t)
	worker := executor.NewSerial()
	worker.Close()

	if err := HandleRequestOn(h.d, worker, "greet", func(ctx context.Context, p greetParams) (greetResult, error) {
		return greetResult{}, nil
	}); err != nil {
		t.Fatalf("HandleRequestOn: %v", err)
	}
	h.dispatch(`{"jsonrpc":"2.0","id":1,"method":"greet","params":{"name":"ada"}}`)
	h.settle()

	got := h.w.responses()
	if len(got) != 1 || got[0].Error == nil || got[0].Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("responses = %+v", got)
	}
}
