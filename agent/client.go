// Package agent is the editor-side client of one agent connection. It owns the
// serialized execution context and wires the transport, dispatcher, feature
// hub and document cache around it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/agentbridge/cancellation"
	"github.com/ggoodman/agentbridge/dispatcher"
	"github.com/ggoodman/agentbridge/docsync"
	"github.com/ggoodman/agentbridge/executor"
	"github.com/ggoodman/agentbridge/features"
	"github.com/ggoodman/agentbridge/internal/logctx"
	"github.com/ggoodman/agentbridge/protocol"
	"github.com/ggoodman/agentbridge/secrets"
	"github.com/ggoodman/agentbridge/stdio"
	"github.com/google/uuid"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// ErrNotStarted is returned by operations that need a running connection.
var ErrNotStarted = errors.New("agent client not started")

// Client is a single connection to an agent.
type Client struct {
	id   string
	log  *slog.Logger
	conn *stdio.Conn

	exec        *executor.Serial
	secretsExec *executor.Serial
	d           *dispatcher.Dispatcher
	hub  *features.Hub
	docs *docsync.Cache

	secrets         secrets.Store
	featuresFile    string
	initialFeatures features.ConfigFeatures
	requestTimeout  time.Duration
	shutdownTimeout time.Duration

	lifetime  *cancellation.Token
	runCtx    context.Context
	cancelRun context.CancelFunc
	released  chan struct{}

	ignoreGen atomic.Uint64

	mu      sync.Mutex
	started bool
	info    protocol.ServerInfo
	auth    *protocol.AuthStatus
	serveWG sync.WaitGroup
}

// New wires a client around conn and registers the built-in handlers. Call
// Start to begin reading from the agent.
func New(conn *stdio.Conn, opts ...Option) *Client {
	c := &Client{
		id:              uuid.NewString(),
		log:             slog.Default(),
		conn:            conn,
		requestTimeout:  defaultRequestTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		initialFeatures: features.Disabled,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.With(slog.String("conn_id", c.id))

	c.exec = executor.NewSerial(executor.WithLogger(c.log))
	if c.secrets != nil {
		c.secretsExec = executor.NewSerial(executor.WithLogger(c.log))
	}
	c.d = dispatcher.New(c.exec, dispatcher.WithLogger(c.log))
	c.hub = features.NewHub(
		features.WithLogger(c.log),
		features.WithExecutor(c.exec),
		features.WithInitial(c.initialFeatures),
	)
	c.docs = docsync.New(conn, docsync.WithLogger(c.log))
	c.lifetime = cancellation.New(cancellation.WithLogger(c.log))
	c.runCtx, c.cancelRun = context.WithCancel(context.Background())
	c.released = make(chan struct{})
	c.lifetime.OnFinished(c.release)

	c.registerBuiltins()
	return c
}

// ID identifies the connection in logs.
func (c *Client) ID() string { return c.id }

// Dispatcher returns the dispatcher so the host can register or replace
// handlers for agent-initiated methods.
func (c *Client) Dispatcher() *dispatcher.Dispatcher { return c.d }

// Features returns the hub carrying agent-pushed feature flags.
func (c *Client) Features() *features.Hub { return c.hub }

// Documents returns the document synchronization cache.
func (c *Client) Documents() *docsync.Cache { return c.docs }

// Lifetime is resolved when the connection ends: aborted if the agent went
// away, disposed after a clean Shutdown.
func (c *Client) Lifetime() *cancellation.Token { return c.lifetime }

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.lifetime.Done() }

// AuthStatus returns the last status pushed with authStatus/didUpdate.
func (c *Client) AuthStatus() (protocol.AuthStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth == nil {
		return protocol.AuthStatus{}, false
	}
	return *c.auth, true
}

// IgnoreGeneration counts ignore/didChange notifications. Hosts caching
// ignore decisions drop them when it moves.
func (c *Client) IgnoreGeneration() uint64 { return c.ignoreGen.Load() }

// ServerInfo returns what the agent reported from initialize.
func (c *Client) ServerInfo() protocol.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Start begins reading from the agent. The read loop ends when the agent
// closes its output, Shutdown completes or ctx ends; the lifetime token is
// then aborted unless Shutdown already disposed it.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("agent client already started")
	}
	c.started = true
	c.mu.Unlock()

	ctx = c.withConn(ctx)
	if c.featuresFile != "" {
		src := features.NewFileSource(c.featuresFile, c.submitFeatures, features.WithFileLogger(c.log))
		c.serveWG.Add(1)
		go func() {
			defer c.serveWG.Done()
			if err := src.Run(c.runCtx); err != nil {
				c.log.WarnContext(ctx, "agent.features_file.fail", slog.String("err", err.Error()))
			}
		}()
	}

	c.serveWG.Add(1)
	go func() {
		defer c.serveWG.Done()
		err := c.conn.Serve(ctx, c.d)
		if err != nil {
			c.log.ErrorContext(ctx, "agent.conn.lost", slog.String("err", err.Error()))
		} else {
			c.log.InfoContext(ctx, "agent.conn.closed")
		}
		c.lifetime.Abort()
	}()

	c.log.InfoContext(ctx, "agent.client.start")
	return nil
}

// Wait blocks until the read loop and the features watcher have stopped and,
// if the client was started, its resources have been released.
func (c *Client) Wait() {
	c.serveWG.Wait()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.released
	}
}

func (c *Client) release(wasCancelled bool) {
	ctx := c.withConn(context.Background())
	c.cancelRun()
	_ = c.conn.Close()
	// Closing drains the queues; never block a task that may have resolved
	// the lifetime from the execution context.
	go func() {
		defer close(c.released)
		c.exec.Close()
		if c.secretsExec != nil {
			c.secretsExec.Close()
		}
		if c.secrets != nil {
			if err := c.secrets.Close(); err != nil {
				c.log.WarnContext(ctx, "agent.secrets.close_fail", slog.String("err", err.Error()))
			}
		}
	}()
	c.log.InfoContext(ctx, "agent.client.released", slog.Bool("aborted", wasCancelled))
}

func (c *Client) submitFeatures(f features.ConfigFeatures) {
	if err := c.exec.Submit(func() { c.hub.Update(f) }); err != nil {
		c.log.Warn("agent.features.update_dropped", slog.String("err", err.Error()))
	}
}

func (c *Client) withConn(ctx context.Context) context.Context {
	return logctx.WithConnData(ctx, &logctx.ConnData{ConnID: c.id, AgentName: c.ServerInfo().Name})
}

// Initialize performs the initialize handshake and then sends initialized.
// Capabilities for the built-in handlers are filled in when info leaves them
// unset.
func (c *Client) Initialize(ctx context.Context, info protocol.ClientInfo) (protocol.ServerInfo, error) {
	if info.Capabilities == nil {
		info.Capabilities = &protocol.ClientCapabilities{UntitledDocuments: "enabled"}
		if c.secrets != nil {
			info.Capabilities.Secrets = "client-managed"
		}
	}

	var server protocol.ServerInfo
	if err := c.Call(ctx, string(protocol.InitializeMethod), info, &server); err != nil {
		return protocol.ServerInfo{}, fmt.Errorf("initialize: %w", err)
	}
	c.mu.Lock()
	c.info = server
	c.mu.Unlock()

	if err := c.Notify(ctx, string(protocol.InitializedMethod), struct{}{}); err != nil {
		return server, fmt.Errorf("initialized: %w", err)
	}
	c.log.InfoContext(c.withConn(ctx), "agent.initialize.ok", slog.String("agent", server.Name))
	return server, nil
}

// Call sends a request to the agent, bounded by the request timeout. A
// timeout yields an error wrapping stdio.ErrServerUnavailable.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.callWithin(ctx, c.requestTimeout, method, params, result)
}

func (c *Client) callWithin(ctx context.Context, d time.Duration, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return c.conn.Call(ctx, method, params, result)
}

// DidChangeExtensionConfiguration pushes new host settings to the agent.
func (c *Client) DidChangeExtensionConfiguration(ctx context.Context, cfg protocol.ExtensionConfiguration) error {
	return c.Notify(ctx, string(protocol.ExtensionConfigurationDidChangeMethod), cfg)
}

// Notify sends a notification to the agent.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.conn.Notify(ctx, method, params)
}

// DidOpen forwards an editor open event through the document cache.
func (c *Client) DidOpen(ctx context.Context, doc protocol.TextDocument) error {
	return c.onContext(ctx, func(ctx context.Context) error { return c.docs.DidOpen(ctx, doc) })
}

// DidFocus forwards an editor focus event through the document cache.
func (c *Client) DidFocus(ctx context.Context, doc protocol.TextDocument) error {
	return c.onContext(ctx, func(ctx context.Context) error { return c.docs.DidFocus(ctx, doc) })
}

// DidChange forwards an editor change event through the document cache.
func (c *Client) DidChange(ctx context.Context, doc protocol.TextDocument) error {
	return c.onContext(ctx, func(ctx context.Context) error { return c.docs.DidChange(ctx, doc) })
}

// DidSave forwards an editor save event through the document cache.
func (c *Client) DidSave(ctx context.Context, doc protocol.TextDocument) error {
	return c.onContext(ctx, func(ctx context.Context) error { return c.docs.DidSave(ctx, doc) })
}

// DidClose forwards an editor close event through the document cache.
func (c *Client) DidClose(ctx context.Context, doc protocol.TextDocument) error {
	return c.onContext(ctx, func(ctx context.Context) error { return c.docs.DidClose(ctx, doc) })
}

// onContext runs fn on the serialized execution context so editor events are
// ordered with handler bodies. Called from a handler with its ctx, fn runs
// inline. An event whose ctx ends before it reaches the context is dropped.
func (c *Client) onContext(ctx context.Context, fn func(context.Context) error) error {
	err := c.exec.Run(c.withConn(ctx), fn)
	if errors.Is(err, executor.ErrClosed) {
		return fmt.Errorf("%w: %w", stdio.ErrConnClosed, err)
	}
	return err
}

// Shutdown asks the agent to shut down, then sends exit and releases the
// connection. The shutdown request is bounded by the shutdown timeout; exit
// is sent even if it fails.
func (c *Client) Shutdown(ctx context.Context) error {
	ctx = c.withConn(ctx)
	err := c.callWithin(ctx, c.shutdownTimeout, string(protocol.ShutdownMethod), nil, nil)
	if err != nil {
		c.log.WarnContext(ctx, "agent.shutdown.fail", slog.String("err", err.Error()))
	}
	if nerr := c.Notify(ctx, string(protocol.ExitMethod), nil); nerr != nil {
		c.log.WarnContext(ctx, "agent.exit.fail", slog.String("err", nerr.Error()))
	}
	c.lifetime.Dispose()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
