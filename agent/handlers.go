package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ggoodman/agentbridge/dispatcher"
	"github.com/ggoodman/agentbridge/features"
	"github.com/ggoodman/agentbridge/protocol"
	"github.com/google/uuid"
)

// registerBuiltins binds the agent-initiated methods the client serves out of
// the box. The host may replace any of them through Dispatcher().
func (c *Client) registerBuiltins() {
	must := func(method protocol.Method, err error) {
		if err != nil {
			// Only reachable if a params type cannot be reflected.
			panic("agent: register " + string(method) + ": " + err.Error())
		}
	}

	must(protocol.ConfigFeaturesDidChangeMethod, dispatcher.HandleNotification(c.d, string(protocol.ConfigFeaturesDidChangeMethod), c.handleConfigFeatures))
	must(protocol.WindowDidChangeContextMethod, dispatcher.HandleNotification(c.d, string(protocol.WindowDidChangeContextMethod), c.handleDidChangeContext))
	must(protocol.DebugMessageMethod, dispatcher.HandleNotification(c.d, string(protocol.DebugMessageMethod), c.handleDebugMessage))
	must(protocol.OpenUntitledDocumentMethod, dispatcher.HandleRequest(c.d, string(protocol.OpenUntitledDocumentMethod), c.handleOpenUntitled))
	must(protocol.TextDocumentShowMethod, dispatcher.HandleRequest(c.d, string(protocol.TextDocumentShowMethod), c.handleShow))
	must(protocol.AuthStatusDidUpdateMethod, dispatcher.HandleNotification(c.d, string(protocol.AuthStatusDidUpdateMethod), c.handleAuthStatus))
	must(protocol.IgnoreDidChangeMethod, dispatcher.HandleNotification(c.d, string(protocol.IgnoreDidChangeMethod), c.handleIgnoreDidChange))

	if c.secrets == nil {
		return
	}
	// Secrets calls share one ordered worker: a store followed by a get must
	// observe the store.
	must(protocol.SecretsGetMethod, dispatcher.HandleRequestOn(c.d, c.secretsExec, string(protocol.SecretsGetMethod), c.handleSecretsGet))
	must(protocol.SecretsStoreMethod, dispatcher.HandleRequestOn(c.d, c.secretsExec, string(protocol.SecretsStoreMethod), c.handleSecretsStore))
	must(protocol.SecretsDeleteMethod, dispatcher.HandleRequestOn(c.d, c.secretsExec, string(protocol.SecretsDeleteMethod), c.handleSecretsDelete))
}

func (c *Client) handleConfigFeatures(ctx context.Context, f features.ConfigFeatures) error {
	c.hub.Update(f)
	return nil
}

func (c *Client) handleDidChangeContext(ctx context.Context, p protocol.DidChangeContextParams) error {
	c.log.DebugContext(ctx, "agent.context.changed", slog.String("key", p.Key), slog.Any("value", p.Value))
	return nil
}

func (c *Client) handleDebugMessage(ctx context.Context, m protocol.DebugMessage) error {
	c.log.InfoContext(ctx, "agent.debug", slog.String("channel", m.Channel), slog.String("message", m.Message))
	return nil
}

// handleOpenUntitled opens the document in the cache, which forwards
// textDocument/didOpen to the agent, and answers with the opened document so
// the agent learns a generated URI.
func (c *Client) handleOpenUntitled(ctx context.Context, p protocol.UntitledTextDocument) (protocol.TextDocument, error) {
	uri := p.URI
	if uri == "" {
		uri = "untitled:" + uuid.NewString()
	}
	text := ""
	if p.Content != nil {
		text = *p.Content
	}
	doc := protocol.TextDocument{URI: uri, Content: &text}
	if err := c.docs.DidOpen(ctx, doc); err != nil {
		return protocol.TextDocument{}, err
	}
	return doc, nil
}

// handleShow focuses a document the cache knows about. Unknown URIs answer
// false; revealing them needs an editor.
func (c *Client) handleShow(ctx context.Context, p protocol.TextDocumentShowParams) (bool, error) {
	if _, ok := c.docs.Get(p.URI); !ok {
		c.log.DebugContext(ctx, "agent.show.unknown_document", slog.String("uri", p.URI))
		return false, nil
	}
	doc := protocol.TextDocument{URI: p.URI}
	if p.Options != nil {
		doc.Selection = p.Options.Selection
	}
	if err := c.docs.DidFocus(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) handleAuthStatus(ctx context.Context, s protocol.AuthStatus) error {
	c.mu.Lock()
	c.auth = &s
	c.mu.Unlock()
	c.log.InfoContext(ctx, "agent.auth.updated",
		slog.String("endpoint", s.Endpoint),
		slog.Bool("authenticated", s.Authenticated))
	return nil
}

func (c *Client) handleIgnoreDidChange(ctx context.Context, _ json.RawMessage) error {
	gen := c.ignoreGen.Add(1)
	c.log.InfoContext(ctx, "agent.ignore.changed", slog.Uint64("generation", gen))
	return nil
}

func (c *Client) handleSecretsGet(ctx context.Context, p protocol.SecretsGetParams) (*string, error) {
	v, ok, err := c.secrets.Get(ctx, p.Key)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (c *Client) handleSecretsStore(ctx context.Context, p protocol.SecretsStoreParams) (any, error) {
	return nil, c.secrets.Set(ctx, p.Key, p.Value)
}

func (c *Client) handleSecretsDelete(ctx context.Context, p protocol.SecretsDeleteParams) (any, error) {
	return nil, c.secrets.Delete(ctx, p.Key)
}
