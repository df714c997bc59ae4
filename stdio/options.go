package stdio

import (
	"io"
	"log/slog"
)

// Option customizes a Conn.
type Option func(*Conn)

// WithIO sets the reader and writer for the connection.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(c *Conn) {
		if r != nil {
			c.r = r
		}
		if w != nil {
			c.w = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(c *Conn) {
		if r != nil {
			c.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(c *Conn) {
		if w != nil {
			c.w = w
		}
	}
}

// WithCloser sets what Close releases, typically the pipes of a child
// process. Closing it must unblock a pending read.
func WithCloser(cl io.Closer) Option {
	return func(c *Conn) {
		if cl != nil {
			c.closer = cl
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxFrameSize bounds the Content-Length accepted from the peer.
func WithMaxFrameSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}
