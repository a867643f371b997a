// Package llm provides the completion-service client boundary.
package llm

// Message represents a chat message on the completion wire.
//
// Role is one of "system", "user", "assistant", or "tool". Name carries
// the display name of the author for user messages in group chats.
// ToolCallID correlates a tool-role message with the assistant tool call
// it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool call issued by the model. Arguments is a
// JSON-encoded object string, exactly as the provider sent it.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall is the function half of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the single choice extracted from a completion response.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	// Token usage when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// HasToolCalls reports whether the response message carries tool calls.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.Message.ToolCalls) > 0
}
