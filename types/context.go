package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyAgentID   contextKey = "agent_id"
	keyBotID     contextKey = "bot_id"
)

// WithRequestID adds the root request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the root request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithAgentID adds the executing agent ID to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentID extracts the executing agent ID from context.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentID).(string)
	return v, ok && v != ""
}

// WithBotID adds bot ID to context.
func WithBotID(ctx context.Context, botID string) context.Context {
	return context.WithValue(ctx, keyBotID, botID)
}

// BotID extracts bot ID from context.
func BotID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyBotID).(string)
	return v, ok && v != ""
}
