package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/agentbridge/dispatcher"
	"github.com/ggoodman/agentbridge/internal/jsonrpc"
	"github.com/ggoodman/agentbridge/internal/outbound"
	"github.com/tidwall/gjson"
)

// Re-exported so callers need not import internal packages.
var (
	ErrServerUnavailable = outbound.ErrServerUnavailable
	ErrRemoteCancelled   = outbound.ErrRemoteCancelled
	// ErrConnClosed is returned by calls made after the read loop ended.
	ErrConnClosed = errors.New("connection closed")
)

// Inbound receives requests and notifications read from the peer.
type Inbound interface {
	Dispatch(ctx context.Context, msg *jsonrpc.AnyMessage, w dispatcher.ResponseWriter)
}

// Conn is a single JSON-RPC connection to an agent. By default it reads from
// os.Stdin and writes to os.Stdout.
type Conn struct {
	r        io.Reader
	w        io.Writer
	closer   io.Closer
	log      *slog.Logger
	maxFrame int

	wmu sync.Mutex
	bw  *bufio.Writer

	out *outbound.Dispatcher

	serveOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewConn constructs a Conn with defaults and applies options.
func NewConn(opts ...Option) *Conn {
	c := &Conn{
		r:        os.Stdin,
		w:        os.Stdout,
		log:      slog.Default(),
		maxFrame: defaultMaxFrameSize,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.bw = bufio.NewWriter(c.w)
	c.out = outbound.New(outbound.TransportFunc(func(ctx context.Context, req *jsonrpc.Request) error {
		return c.writeJSON(req)
	}))
	return c
}

// Serve runs the read loop until the peer closes its stream, a fatal framing
// error occurs, Close is called or ctx is done. Inbound requests and
// notifications go to in; responses complete pending calls. Serve may be
// called at most once.
func (c *Conn) Serve(ctx context.Context, in Inbound) error {
	err := errors.New("stdio: Serve called more than once")
	c.serveOnce.Do(func() { err = c.serve(ctx, in) })
	return err
}

func (c *Conn) serve(ctx context.Context, in Inbound) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	c.log.InfoContext(ctx, "stdio.serve.start")
	br := bufio.NewReader(c.r)
	var err error
	for {
		var body []byte
		body, err = readFrame(br, c.maxFrame)
		if err != nil {
			var ferr *frameError
			if errors.As(err, &ferr) {
				c.log.WarnContext(ctx, "stdio.frame.skipped", slog.String("err", err.Error()))
				continue
			}
			break
		}
		c.handleFrame(ctx, in, body)
	}

	if errors.Is(err, io.EOF) || c.isClosed() {
		err = nil
	}
	c.finish(err)

	if err != nil {
		c.log.ErrorContext(ctx, "stdio.serve.fail", slog.String("err", err.Error()))
		return err
	}
	c.log.InfoContext(ctx, "stdio.serve.eof")
	return nil
}

func (c *Conn) handleFrame(ctx context.Context, in Inbound, body []byte) {
	if !gjson.ValidBytes(body) {
		c.log.WarnContext(ctx, "stdio.frame.invalid_json", slog.Int("bytes", len(body)))
		c.writeResponse(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
		return
	}

	fields := gjson.GetManyBytes(body, "method", "id")
	method, id := fields[0], fields[1]

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.WarnContext(ctx, "stdio.frame.invalid_message",
			slog.String("method", method.String()),
			slog.String("err", err.Error()))
		if method.Exists() && id.Exists() && id.Type != gjson.Null {
			c.writeResponse(ctx, jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(idValue(id)),
				jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil))
		}
		return
	}

	if !method.Exists() {
		if !c.out.OnResponse(msg.AsResponse()) {
			c.log.WarnContext(ctx, "stdio.response.unmatched", slog.String("id", id.String()))
		}
		return
	}

	in.Dispatch(ctx, &msg, c)
}

func idValue(r gjson.Result) any {
	if r.Type == gjson.Number {
		return r.Int()
	}
	return r.String()
}

// Call sends a request to the agent and decodes its result into result, which
// may be nil. A JSON-RPC error response is returned as a *jsonrpc.Error. If
// ctx reaches its deadline first the error wraps ErrServerUnavailable.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	resp, err := c.out.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification to the agent.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return c.writeJSON(req)
}

// WriteResponse sends res to the agent. It implements
// dispatcher.ResponseWriter.
func (c *Conn) WriteResponse(ctx context.Context, res *jsonrpc.Response) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	return c.writeJSON(res)
}

func (c *Conn) writeResponse(ctx context.Context, res *jsonrpc.Response) {
	if err := c.WriteResponse(ctx, res); err != nil {
		c.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

func (c *Conn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return writeFrame(c.bw, b)
}

// Close releases the underlying streams and fails pending calls. It is safe
// to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.finish(nil)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}

// Done is closed once the connection stops reading.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) finish(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	if err == nil {
		err = ErrConnClosed
	}
	c.out.Close(err)
	close(c.done)
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
