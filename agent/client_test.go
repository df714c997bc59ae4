package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/agentbridge/dispatcher"
	"github.com/ggoodman/agentbridge/executor"
	"github.com/ggoodman/agentbridge/features"
	"github.com/ggoodman/agentbridge/internal/jsonrpc"
	"github.com/ggoodman/agentbridge/protocol"
	"github.com/ggoodman/agentbridge/secrets/memory"
	"github.com/ggoodman/agentbridge/stdio"
)

type note struct {
	method string
	params json.RawMessage
}

// fakeAgent is the agent end of the connection, built from the same
// transport and dispatcher the client uses.
type fakeAgent struct {
	t     *testing.T
	conn  *stdio.Conn
	d     *dispatcher.Dispatcher
	notes chan note
}

type pipeCloser []io.Closer

func (p pipeCloser) Close() error {
	for _, c := range p {
		_ = c.Close()
	}
	return nil
}

func newHarness(t *testing.T, opts ...Option) (*Client, *fakeAgent) {
	t.Helper()
	a2cR, a2cW := io.Pipe()
	c2aR, c2aW := io.Pipe()

	clientConn := stdio.NewConn(stdio.WithIO(a2cR, c2aW), stdio.WithCloser(pipeCloser{a2cR, c2aW}))
	agentConn := stdio.NewConn(stdio.WithIO(c2aR, a2cW), stdio.WithCloser(pipeCloser{c2aR, a2cW}))

	exec := executor.NewSerial()
	t.Cleanup(exec.Close)
	a := &fakeAgent{t: t, conn: agentConn, d: dispatcher.New(exec), notes: make(chan note, 32)}

	a.d.RegisterRequestHandler("initialize", dispatcher.RequestHandlerFunc(func(ctx context.Context, params json.RawMessage) (any, error) {
		a.notes <- note{method: "initialize", params: params}
		return protocol.ServerInfo{Name: "fake-agent"}, nil
	}))
	a.d.RegisterRequestHandler("shutdown", dispatcher.RequestHandlerFunc(func(ctx context.Context, _ json.RawMessage) (any, error) {
		a.notes <- note{method: "shutdown"}
		return nil, nil
	}))
	for _, m := range []protocol.Method{
		protocol.InitializedMethod,
		protocol.ExitMethod,
		protocol.TextDocumentDidOpenMethod,
		protocol.TextDocumentDidFocusMethod,
		protocol.TextDocumentDidChangeMethod,
		protocol.TextDocumentDidSaveMethod,
		protocol.TextDocumentDidCloseMethod,
		protocol.ExtensionConfigurationDidChangeMethod,
	} {
		method := string(m)
		a.d.RegisterNotificationHandler(method, dispatcher.NotificationHandlerFunc(func(ctx context.Context, params json.RawMessage) error {
			a.notes <- note{method: method, params: params}
			return nil
		}))
	}

	go func() { _ = agentConn.Serve(context.Background(), a.d) }()

	c := New(clientConn, opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		c.Lifetime().Dispose()
		_ = agentConn.Close()
		c.Wait()
	})
	return c, a
}

func (a *fakeAgent) next() note {
	a.t.Helper()
	select {
	case n := <-a.notes:
		return n
	case <-time.After(2 * time.Second):
		a.t.Fatalf("timed out waiting for agent to receive a frame")
		return note{}
	}
}

func (a *fakeAgent) nextDocument(method protocol.Method) protocol.TextDocument {
	a.t.Helper()
	n := a.next()
	if n.method != string(method) {
		a.t.Fatalf("agent received %s, want %s", n.method, method)
	}
	var doc protocol.TextDocument
	if err := json.Unmarshal(n.params, &doc); err != nil {
		a.t.Fatalf("decode %s params: %v", method, err)
	}
	return doc
}

func (a *fakeAgent) call(method string, params, result any) error {
	a.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.conn.Call(ctx, method, params, result)
}

func str(s string) *string { return &s }

func content(doc protocol.TextDocument) string {
	if doc.Content == nil {
		return "<nil>"
	}
	return *doc.Content
}

func TestClient_InitializeHandshake(t *testing.T) {
	c, a := newHarness(t, WithSecrets(memory.New()))

	info, err := c.Initialize(context.Background(), protocol.ClientInfo{Name: "editor", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if info.Name != "fake-agent" || c.ServerInfo().Name != "fake-agent" {
		t.Fatalf("server info = %+v", info)
	}

	first := a.next()
	if first.method != "initialize" {
		t.Fatalf("first frame = %s, want initialize", first.method)
	}
	var ci protocol.ClientInfo
	if err := json.Unmarshal(first.params, &ci); err != nil {
		t.Fatalf("decode initialize params: %v", err)
	}
	if ci.Capabilities == nil || ci.Capabilities.Secrets != "client-managed" {
		t.Fatalf("capabilities = %+v", ci.Capabilities)
	}
	if n := a.next(); n.method != string(protocol.InitializedMethod) {
		t.Fatalf("second frame = %s, want initialized", n.method)
	}
}

func TestClient_DocumentEventsAreMergedAndDeduplicated(t *testing.T) {
	c, a := newHarness(t)
	ctx := context.Background()
	uri := "file:///a.go"

	if err := c.DidOpen(ctx, protocol.TextDocument{URI: uri, Content: str("package a")}); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	if doc := a.nextDocument(protocol.TextDocumentDidOpenMethod); content(doc) != "package a" {
		t.Fatalf("didOpen content = %q", content(doc))
	}

	if err := c.DidFocus(ctx, protocol.TextDocument{URI: uri}); err != nil {
		t.Fatalf("DidFocus: %v", err)
	}
	if doc := a.nextDocument(protocol.TextDocumentDidFocusMethod); content(doc) != "package a" {
		t.Fatalf("didFocus content = %q, want cached content", content(doc))
	}

	// Refocusing the focused document sends nothing.
	if err := c.DidFocus(ctx, protocol.TextDocument{URI: uri}); err != nil {
		t.Fatalf("DidFocus: %v", err)
	}
	sel := &protocol.Range{End: protocol.Position{Line: 1}}
	if err := c.DidChange(ctx, protocol.TextDocument{URI: uri, Selection: sel}); err != nil {
		t.Fatalf("DidChange: %v", err)
	}
	doc := a.nextDocument(protocol.TextDocumentDidChangeMethod)
	if content(doc) != "package a" || doc.Selection == nil || doc.Selection.End.Line != 1 {
		t.Fatalf("didChange = %+v", doc)
	}

	if err := c.DidSave(ctx, protocol.TextDocument{URI: uri, Content: str("package b")}); err != nil {
		t.Fatalf("DidSave: %v", err)
	}
	if doc := a.nextDocument(protocol.TextDocumentDidSaveMethod); content(doc) != "package b" {
		t.Fatalf("didSave content = %q", content(doc))
	}

	if err := c.DidClose(ctx, protocol.TextDocument{URI: uri}); err != nil {
		t.Fatalf("DidClose: %v", err)
	}
	a.nextDocument(protocol.TextDocumentDidCloseMethod)

	if err := c.DidFocus(ctx, protocol.TextDocument{URI: uri}); err != nil {
		t.Fatalf("DidFocus: %v", err)
	}
	if doc := a.nextDocument(protocol.TextDocumentDidFocusMethod); content(doc) != "" {
		t.Fatalf("focus after close content = %q, want empty", content(doc))
	}
}

func TestClient_ConfigFeaturesPushReachesObservers(t *testing.T) {
	c, a := newHarness(t)

	got := make(chan features.ConfigFeatures, 1)
	tok := c.Features().Attach(func(f features.ConfigFeatures) { got <- f })
	defer tok.Dispose()

	if err := a.conn.Notify(context.Background(), string(protocol.ConfigFeaturesDidChangeMethod), map[string]any{"chat": true}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case f := <-got:
		if !f.Chat || f.AutoComplete {
			t.Fatalf("observer got %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("observer not notified")
	}
	if !c.Features().Get().Chat {
		t.Fatalf("hub snapshot not updated")
	}
}

func TestClient_SecretsHandlers(t *testing.T) {
	_, a := newHarness(t, WithSecrets(memory.New()))

	if err := a.call("secrets/store", protocol.SecretsStoreParams{Key: "token", Value: "abc"}, nil); err != nil {
		t.Fatalf("secrets/store: %v", err)
	}
	var v *string
	if err := a.call("secrets/get", protocol.SecretsGetParams{Key: "token"}, &v); err != nil {
		t.Fatalf("secrets/get: %v", err)
	}
	if v == nil || *v != "abc" {
		t.Fatalf("secrets/get = %v, want abc", v)
	}
	if err := a.call("secrets/delete", protocol.SecretsDeleteParams{Key: "token"}, nil); err != nil {
		t.Fatalf("secrets/delete: %v", err)
	}
	v = nil
	if err := a.call("secrets/get", protocol.SecretsGetParams{Key: "token"}, &v); err != nil {
		t.Fatalf("secrets/get: %v", err)
	}
	if v != nil {
		t.Fatalf("secrets/get after delete = %q, want null", *v)
	}

	var rpcErr *jsonrpc.Error
	if err := a.call("secrets/get", map[string]any{}, nil); !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("secrets/get without key: %v", err)
	}
}

func TestClient_SecretsWithoutStoreAreUnhandled(t *testing.T) {
	_, a := newHarness(t)

	var rpcErr *jsonrpc.Error
	err := a.call("secrets/get", protocol.SecretsGetParams{Key: "token"}, nil)
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %v", err)
	}
}

type slowStore struct {
	*memory.Store
	delay time.Duration
}

func (s slowStore) Set(ctx context.Context, key, value string) error {
	time.Sleep(s.delay)
	return s.Store.Set(ctx, key, value)
}

func TestClient_SecretsAnsweredInArrivalOrder(t *testing.T) {
	_, a := newHarness(t, WithSecrets(slowStore{Store: memory.New(), delay: 150 * time.Millisecond}))

	stored := make(chan error, 1)
	go func() {
		stored <- a.call("secrets/store", protocol.SecretsStoreParams{Key: "token", Value: "abc"}, nil)
	}()
	time.Sleep(20 * time.Millisecond)

	var v *string
	if err := a.call("secrets/get", protocol.SecretsGetParams{Key: "token"}, &v); err != nil {
		t.Fatalf("secrets/get: %v", err)
	}
	if err := <-stored; err != nil {
		t.Fatalf("secrets/store: %v", err)
	}
	if v == nil || *v != "abc" {
		t.Fatalf("secrets/get overtook secrets/store: got %v", v)
	}
}

func TestClient_OpenUntitledDocument(t *testing.T) {
	c, a := newHarness(t)

	var opened protocol.TextDocument
	if err := a.call("textDocument/openUntitledDocument", protocol.UntitledTextDocument{Content: str("draft")}, &opened); err != nil {
		t.Fatalf("openUntitledDocument: %v", err)
	}
	if !strings.HasPrefix(opened.URI, "untitled:") || len(opened.URI) == len("untitled:") {
		t.Fatalf("returned uri = %q, want generated untitled URI", opened.URI)
	}
	if content(opened) != "draft" {
		t.Fatalf("returned content = %q", content(opened))
	}
	doc := a.nextDocument(protocol.TextDocumentDidOpenMethod)
	if doc.URI != opened.URI || content(doc) != "draft" {
		t.Fatalf("didOpen = %+v, want %s", doc, opened.URI)
	}
	if _, cached := c.Documents().Get(doc.URI); !cached {
		t.Fatalf("untitled document not cached")
	}
}

func TestClient_OpenUntitledDocumentKeepsGivenURI(t *testing.T) {
	_, a := newHarness(t)

	var opened protocol.TextDocument
	if err := a.call("textDocument/openUntitledDocument", protocol.UntitledTextDocument{URI: "untitled:notes"}, &opened); err != nil {
		t.Fatalf("openUntitledDocument: %v", err)
	}
	if opened.URI != "untitled:notes" || content(opened) != "" {
		t.Fatalf("opened = %+v", opened)
	}
	a.nextDocument(protocol.TextDocumentDidOpenMethod)
}

func TestClient_HandlerMayForwardEditorEvents(t *testing.T) {
	c, a := newHarness(t)
	uri := "file:///shown.go"
	if err := c.DidOpen(context.Background(), protocol.TextDocument{URI: uri, Content: str("package shown")}); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	a.nextDocument(protocol.TextDocumentDidOpenMethod)

	handlerErr := make(chan error, 1)
	err := dispatcher.HandleRequest(c.Dispatcher(), string(protocol.TextDocumentShowMethod),
		func(ctx context.Context, p protocol.TextDocumentShowParams) (bool, error) {
			ctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			err := c.DidFocus(ctx, protocol.TextDocument{URI: p.URI})
			handlerErr <- err
			return err == nil, err
		})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	var shown bool
	if err := a.call(string(protocol.TextDocumentShowMethod), protocol.TextDocumentShowParams{URI: uri}, &shown); err != nil {
		t.Fatalf("textDocument/show: %v", err)
	}
	if err := <-handlerErr; err != nil {
		t.Fatalf("DidFocus from handler: %v", err)
	}
	if !shown {
		t.Fatalf("textDocument/show returned false")
	}
	if doc := a.nextDocument(protocol.TextDocumentDidFocusMethod); doc.URI != uri {
		t.Fatalf("didFocus uri = %q", doc.URI)
	}

	// The execution context is still usable afterwards.
	if err := c.DidSave(context.Background(), protocol.TextDocument{URI: uri}); err != nil {
		t.Fatalf("DidSave: %v", err)
	}
	a.nextDocument(protocol.TextDocumentDidSaveMethod)
}

func TestClient_EditorEventDroppedWhenCallerGivesUp(t *testing.T) {
	c, a := newHarness(t)

	entered := make(chan struct{})
	gate := make(chan struct{})
	c.Dispatcher().RegisterRequestHandler("test/block", dispatcher.RequestHandlerFunc(
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			close(entered)
			<-gate
			return true, nil
		}))
	blockDone := make(chan error, 1)
	go func() { blockDone <- a.call("test/block", nil, nil) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.DidFocus(ctx, protocol.TextDocument{URI: "file:///late.go"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("DidFocus = %v, want deadline exceeded", err)
	}

	close(gate)
	if err := <-blockDone; err != nil {
		t.Fatalf("test/block: %v", err)
	}
	if err := c.DidOpen(context.Background(), protocol.TextDocument{URI: "file:///next.go"}); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	if doc := a.nextDocument(protocol.TextDocumentDidOpenMethod); doc.URI != "file:///next.go" {
		t.Fatalf("didOpen uri = %q", doc.URI)
	}
	if got := c.Documents().Focused(); got != "" {
		t.Fatalf("abandoned focus reached the cache: %q", got)
	}
}

func TestClient_ShowFocusesKnownDocument(t *testing.T) {
	c, a := newHarness(t)
	uri := "file:///known.go"
	if err := c.DidOpen(context.Background(), protocol.TextDocument{URI: uri, Content: str("package known")}); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	a.nextDocument(protocol.TextDocumentDidOpenMethod)

	var shown bool
	sel := &protocol.Range{Start: protocol.Position{Line: 2}, End: protocol.Position{Line: 2, Character: 4}}
	params := protocol.TextDocumentShowParams{URI: uri, Options: &protocol.TextDocumentShowOptions{Selection: sel}}
	if err := a.call(string(protocol.TextDocumentShowMethod), params, &shown); err != nil || !shown {
		t.Fatalf("textDocument/show = %v, %v", shown, err)
	}
	doc := a.nextDocument(protocol.TextDocumentDidFocusMethod)
	if content(doc) != "package known" || doc.Selection == nil || doc.Selection.Start.Line != 2 {
		t.Fatalf("didFocus = %+v", doc)
	}

	if err := a.call(string(protocol.TextDocumentShowMethod), protocol.TextDocumentShowParams{URI: "file:///missing.go"}, &shown); err != nil {
		t.Fatalf("textDocument/show: %v", err)
	}
	if shown {
		t.Fatalf("unknown document reported as shown")
	}
}

func TestClient_AuthStatusAndIgnoreNotifications(t *testing.T) {
	c, a := newHarness(t)
	ctx := context.Background()

	if _, ok := c.AuthStatus(); ok {
		t.Fatalf("auth status present before any push")
	}
	status := protocol.AuthStatus{Endpoint: "https://example.test", Authenticated: true, Username: "ada"}
	if err := a.conn.Notify(ctx, string(protocol.AuthStatusDidUpdateMethod), status); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := a.conn.Notify(ctx, string(protocol.IgnoreDidChangeMethod), nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.IgnoreGeneration() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IgnoreGeneration() != 1 {
		t.Fatalf("ignore generation = %d, want 1", c.IgnoreGeneration())
	}
	got, ok := c.AuthStatus()
	if !ok || got.Username != "ada" || !got.Authenticated || got.Endpoint != status.Endpoint {
		t.Fatalf("auth status = %+v, %v", got, ok)
	}
}

func TestClient_ReplacedHandlerWins(t *testing.T) {
	c, a := newHarness(t)
	c.Dispatcher().RegisterRequestHandler("textDocument/openUntitledDocument", dispatcher.RequestHandlerFunc(
		func(ctx context.Context, _ json.RawMessage) (any, error) { return false, nil }))

	var ok bool
	if err := a.call("textDocument/openUntitledDocument", protocol.UntitledTextDocument{}, &ok); err != nil {
		t.Fatalf("openUntitledDocument: %v", err)
	}
	if ok {
		t.Fatalf("built-in handler ran after replacement")
	}
}

func TestClient_ShutdownDisposesLifetime(t *testing.T) {
	c, a := newHarness(t)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := a.next(); n.method != "shutdown" {
		t.Fatalf("first frame = %s, want shutdown", n.method)
	}
	if n := a.next(); n.method != string(protocol.ExitMethod) {
		t.Fatalf("second frame = %s, want exit", n.method)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("lifetime not resolved after Shutdown")
	}
	if c.Lifetime().IsCancelled() {
		t.Fatalf("clean shutdown reported as cancelled")
	}
	c.Wait()
	if err := c.DidOpen(context.Background(), protocol.TextDocument{URI: "file:///late"}); err == nil {
		t.Fatalf("expected error after shutdown")
	}
}

func TestClient_ShutdownTimeout(t *testing.T) {
	c, a := newHarness(t, WithShutdownTimeout(50*time.Millisecond))
	a.d.RegisterRequestHandler("shutdown", dispatcher.RequestHandlerFunc(func(ctx context.Context, _ json.RawMessage) (any, error) {
		return dispatcher.NewFuture(), nil
	}))

	err := c.Shutdown(context.Background())
	if !errors.Is(err, stdio.ErrServerUnavailable) {
		t.Fatalf("expected ErrServerUnavailable, got %v", err)
	}
	if n := a.next(); n.method != string(protocol.ExitMethod) {
		t.Fatalf("frame after timeout = %s, want exit", n.method)
	}
}

func TestClient_AgentExitAbortsLifetime(t *testing.T) {
	c, a := newHarness(t)

	_ = a.conn.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("lifetime not resolved after agent exit")
	}
	if !c.Lifetime().IsCancelled() {
		t.Fatalf("agent exit should abort the lifetime")
	}
}
