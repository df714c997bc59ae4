// Package docsync reconstructs complete document state from partial editor
// events before it is sent to the agent.
//
// Editors fire frequent events that carry only part of a document (a cursor
// move has a selection but no content, a refocus may have neither). The Cache
// remembers the last known state per URI, fills the missing fields from it,
// and suppresses focus notifications for the document that already has focus.
package docsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/agentbridge/internal/logctx"
	"github.com/ggoodman/agentbridge/protocol"
)

// Sink receives the outbound notifications produced by the Cache.
type Sink interface {
	Notify(ctx context.Context, method string, params any) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, method string, params any) error

func (f SinkFunc) Notify(ctx context.Context, method string, params any) error {
	return f(ctx, method, params)
}

// State is the cached view of one document.
type State struct {
	URI       string
	Content   string
	Selection *protocol.Range
	IsFocused bool
}

func (s State) document() protocol.TextDocument {
	content := s.Content
	doc := protocol.TextDocument{URI: s.URI, Content: &content}
	if s.Selection != nil {
		sel := *s.Selection
		doc.Selection = &sel
	}
	return doc
}

// Cache is the per-URI document memo. It is intended to be driven from the
// serialized execution context; the mutex only protects readers on other
// goroutines.
type Cache struct {
	sink Sink
	log  *slog.Logger

	mu      sync.RWMutex
	docs    map[string]State
	focused string
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the Cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns an empty Cache forwarding to sink.
func New(sink Sink, opts ...Option) *Cache {
	c := &Cache{sink: sink, log: slog.Default(), docs: make(map[string]State)}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached state for uri.
func (c *Cache) Get(uri string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.docs[uri]
	return s, ok
}

// Focused returns the URI of the focused document, or "" if none.
func (c *Cache) Focused() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focused
}

// DidOpen stores doc as the full state for its URI, replacing anything cached,
// and forwards textDocument/didOpen. A missing content is sent as empty.
func (c *Cache) DidOpen(ctx context.Context, doc protocol.TextDocument) error {
	ctx = logctx.WithDocument(ctx, &logctx.DocumentData{URI: doc.URI, Event: "open"})

	c.mu.Lock()
	s := State{URI: doc.URI, Selection: copyRange(doc.Selection)}
	if doc.Content != nil {
		s.Content = *doc.Content
	}
	s.IsFocused = c.focused == doc.URI
	c.docs[doc.URI] = s
	c.mu.Unlock()

	return c.send(ctx, protocol.TextDocumentDidOpenMethod, s.document())
}

// DidFocus forwards textDocument/didFocus with the merged state of doc unless
// doc.URI already has focus, in which case nothing is sent.
func (c *Cache) DidFocus(ctx context.Context, doc protocol.TextDocument) error {
	ctx = logctx.WithDocument(ctx, &logctx.DocumentData{URI: doc.URI, Event: "focus"})

	c.mu.Lock()
	if c.focused == doc.URI {
		c.mu.Unlock()
		c.log.DebugContext(ctx, "docsync.focus.suppressed")
		return nil
	}
	prevFocused := c.focused
	prevState, hadPrev := c.docs[prevFocused]
	merged := c.mergeLocked(doc)
	merged.IsFocused = true
	c.docs[doc.URI] = merged
	if hadPrev {
		prevState.IsFocused = false
		c.docs[prevFocused] = prevState
	}
	c.focused = doc.URI
	c.mu.Unlock()

	if err := c.send(ctx, protocol.TextDocumentDidFocusMethod, merged.document()); err != nil {
		// The agent never saw this focus change; let the next refocus through.
		c.mu.Lock()
		if c.focused == doc.URI {
			c.focused = prevFocused
			if s, ok := c.docs[doc.URI]; ok {
				s.IsFocused = false
				c.docs[doc.URI] = s
			}
			if hadPrev {
				if s, ok := c.docs[prevFocused]; ok {
					s.IsFocused = true
					c.docs[prevFocused] = s
				}
			}
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// DidChange merges doc into the cache and forwards textDocument/didChange.
func (c *Cache) DidChange(ctx context.Context, doc protocol.TextDocument) error {
	return c.mergeAndSend(ctx, "change", protocol.TextDocumentDidChangeMethod, doc)
}

// DidSave merges doc into the cache and forwards textDocument/didSave.
func (c *Cache) DidSave(ctx context.Context, doc protocol.TextDocument) error {
	return c.mergeAndSend(ctx, "save", protocol.TextDocumentDidSaveMethod, doc)
}

// DidClose evicts the cached state for doc.URI, clears focus tracking if it
// pointed at that URI, and forwards textDocument/didClose with the last known
// state merged with doc.
func (c *Cache) DidClose(ctx context.Context, doc protocol.TextDocument) error {
	ctx = logctx.WithDocument(ctx, &logctx.DocumentData{URI: doc.URI, Event: "close"})

	c.mu.Lock()
	merged := c.mergeLocked(doc)
	merged.IsFocused = false
	delete(c.docs, doc.URI)
	if c.focused == doc.URI {
		c.focused = ""
	}
	c.mu.Unlock()

	return c.send(ctx, protocol.TextDocumentDidCloseMethod, merged.document())
}

func (c *Cache) mergeAndSend(ctx context.Context, event string, method protocol.Method, doc protocol.TextDocument) error {
	ctx = logctx.WithDocument(ctx, &logctx.DocumentData{URI: doc.URI, Event: event})

	c.mu.Lock()
	merged := c.mergeLocked(doc)
	c.docs[doc.URI] = merged
	c.mu.Unlock()

	return c.send(ctx, method, merged.document())
}

// mergeLocked fills fields missing from doc with the cached state for its URI.
// An unseen URI merges against an empty document.
func (c *Cache) mergeLocked(doc protocol.TextDocument) State {
	prev, ok := c.docs[doc.URI]
	if !ok {
		prev = State{URI: doc.URI}
	}
	next := prev
	if doc.Content != nil {
		next.Content = *doc.Content
	}
	if doc.Selection != nil {
		next.Selection = copyRange(doc.Selection)
	}
	return next
}

func (c *Cache) send(ctx context.Context, method protocol.Method, doc protocol.TextDocument) error {
	if err := c.sink.Notify(ctx, string(method), doc); err != nil {
		c.log.WarnContext(ctx, "docsync.notify.fail", slog.String("method", string(method)), slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func copyRange(r *protocol.Range) *protocol.Range {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
