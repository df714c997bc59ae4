// Package logctx enriches slog records with protocol context carried on a
// context.Context: the connection, the JSON-RPC frame being handled and the
// editor document an operation concerns.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("id", cd.ConnID),
			slog.String("agent", cd.AgentName),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if dd, ok := ctx.Value(documentDataKey{}).(*DocumentData); ok {
		r.AddAttrs(slog.Group("doc",
			slog.String("uri", dd.URI),
			slog.String("event", dd.Event),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type connDataKey struct{}

type ConnData struct {
	ConnID    string
	AgentName string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type documentDataKey struct{}

type DocumentData struct {
	URI   string
	Event string
}

func WithDocument(ctx context.Context, data *DocumentData) context.Context {
	return context.WithValue(ctx, documentDataKey{}, data)
}
