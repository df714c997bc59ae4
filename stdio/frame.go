package stdio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/elnormous/contenttype"
)

const (
	headerContentLength = "content-length"
	headerContentType   = "content-type"

	defaultMaxFrameSize = 32 << 20
)

var (
	// ErrFrameTooLarge is returned when the peer announces a body larger than
	// the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")

	errMissingContentLength = errors.New("missing Content-Length header")
)

var jsonMediaTypes = []contenttype.MediaType{
	contenttype.NewMediaType("application/vscode-jsonrpc"),
	contenttype.NewMediaType("application/json"),
}

// frameError reports a frame whose body was consumed but must be skipped.
type frameError struct{ err error }

func (e *frameError) Error() string { return e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }

// readFrame reads one header block and its body. A *frameError means the
// stream is still in sync and reading may continue.
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	length := -1
	var ctype string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" && length < 0 && ctype == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 && ctype == "" {
				// Stray blank line between frames.
				continue
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case headerContentLength:
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
			}
			length = n
		case headerContentType:
			ctype = strings.TrimSpace(value)
		}
	}

	if length < 0 {
		return nil, errMissingContentLength
	}
	if length > max {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if ctype != "" {
		if err := checkContentType(ctype); err != nil {
			return nil, &frameError{err: err}
		}
	}
	return body, nil
}

func checkContentType(value string) error {
	mt, err := contenttype.ParseMediaType(value)
	if err != nil {
		return fmt.Errorf("content-type %q: %w", value, err)
	}
	matched := false
	for _, want := range jsonMediaTypes {
		if mt.Matches(want) {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("unsupported content-type %q", value)
	}
	if cs, ok := mt.Parameters["charset"]; ok {
		switch strings.ToLower(cs) {
		case "utf-8", "utf8":
		default:
			return fmt.Errorf("unsupported charset %q", cs)
		}
	}
	return nil
}

// writeFrame writes body with its Content-Length header and flushes.
func writeFrame(w *bufio.Writer, body []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return w.Flush()
}
