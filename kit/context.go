// Package kit carries request-scoped values shared by the HTTP and MCP
// surfaces, and the glue that exposes a typed handler as an MCP tool.
package kit

import "context"

type contextKey string

const (
	OwnerIDKey    contextKey = "kit_owner_id"
	OwnerLabelKey contextKey = "kit_owner_label"
	TransportKey  contextKey = "kit_transport" // "http", "mcp"
	TraceIDKey    contextKey = "kit_trace_id"
)

func WithOwner(ctx context.Context, id, label string) context.Context {
	ctx = context.WithValue(ctx, OwnerIDKey, id)
	return context.WithValue(ctx, OwnerLabelKey, label)
}

// GetOwner returns the owner id and display label. The label defaults to
// the id.
func GetOwner(ctx context.Context) (id, label string) {
	id, _ = ctx.Value(OwnerIDKey).(string)
	label, _ = ctx.Value(OwnerLabelKey).(string)
	if label == "" {
		label = id
	}
	return id, label
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
