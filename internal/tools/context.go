package tools

import "context"

// conversationIDKey is the context key for the conversation a tool call
// belongs to.
type conversationIDKey struct{}

// WithConversationID returns a context carrying the conversation id for
// tool handlers. The dispatcher sets this before executing a call.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, id)
}

// ConversationIDFromContext returns the conversation id set by the
// dispatcher, or "" when the handler runs outside a conversation turn.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey{}).(string)
	return id
}
