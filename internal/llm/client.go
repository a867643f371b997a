package llm

import "context"

// Client is the interface the orchestrator and history store use to talk
// to a completion service. tools is the advertised tool schema in the
// provider's wire format; pass nil for a plain completion.
type Client interface {
	// Chat sends a chat completion request and returns the first choice.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
