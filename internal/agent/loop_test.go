package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/zjy1412/wechatyferry-bot/internal/history"
	"github.com/zjy1412/wechatyferry-bot/internal/llm"
	"github.com/zjy1412/wechatyferry-bot/internal/prompt"
	"github.com/zjy1412/wechatyferry-bot/internal/tools"
)

// chatCall records one completion request.
type chatCall struct {
	messages []llm.Message
	tools    []map[string]any
}

// scriptedLLM returns queued responses in order and records every call.
type scriptedLLM struct {
	calls     []chatCall
	responses []*llm.ChatResponse
	errs      []error
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	s.calls = append(s.calls, chatCall{messages: messages, tools: tools})
	i := len(s.calls) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "ok"}}, nil
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return nil }

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}}
}

func toolCallResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", ToolCalls: calls}}
}

func newTestAgent(t *testing.T, client llm.Client, reg *tools.Registry) (*Agent, *history.Store) {
	t.Helper()
	store := history.NewStore(20, nil, "", nil)
	sel, err := prompt.NewSelector("default", map[string]string{
		"default": "你是一个乐于助人的助手。",
		"catgirl": "你是一只猫娘。",
	}, store)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	if reg == nil {
		reg = tools.NewRegistry(nil)
	}
	return New(client, "test-model", reg, store, sel, nil), store
}

func TestRoutingCallIsMinimal(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		textResponse("no tool needed"),
		textResponse("回答"),
	}}
	reg := tools.NewRegistry(nil)
	reg.Register(&tools.Tool{
		Name:       "get_today_news",
		Parameters: map[string]any{"type": "object"},
		Handler:    func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil },
	})
	a, store := newTestAgent(t, client, reg)

	// Pre-existing history must not leak into the routing call.
	store.Append("room", "user", "earlier message", "alice")
	store.Append("room", "assistant", "earlier reply", "")

	a.Turn(context.Background(), "room", "你好", "alice")

	if len(client.calls) != 2 {
		t.Fatalf("made %d completion calls, want 2", len(client.calls))
	}

	routing := client.calls[0]
	if len(routing.messages) != 1 {
		t.Fatalf("routing call has %d messages, want exactly 1: %+v", len(routing.messages), routing.messages)
	}
	if routing.messages[0].Role != "user" || routing.messages[0].Content != "你好" {
		t.Errorf("routing message = %+v", routing.messages[0])
	}
	if len(routing.tools) != 1 {
		t.Errorf("routing call carried %d tool defs, want 1", len(routing.tools))
	}
}

func TestFinalCallCarriesSystemPromptAndContext(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		textResponse("routing"),
		textResponse("最终回答"),
	}}
	a, store := newTestAgent(t, client, nil)

	store.Append("room", "user", "earlier", "alice")
	got := a.Turn(context.Background(), "room", "现在的问题", "alice")

	if got != "最终回答" {
		t.Errorf("reply = %q", got)
	}

	final := client.calls[1]
	if final.tools != nil {
		t.Error("final call advertised tools")
	}
	if final.messages[0].Role != "system" {
		t.Fatalf("final call starts with %q, want system", final.messages[0].Role)
	}
	// History: earlier user message, then this turn's user message.
	if final.messages[1].Content != "earlier" || final.messages[2].Content != "现在的问题" {
		t.Errorf("final context = %+v", final.messages)
	}

	// The reply lands in history.
	ctx := store.Context("room")
	last := ctx[len(ctx)-1]
	if last.Role != "assistant" || last.Content != "最终回答" {
		t.Errorf("stored reply = %+v", last)
	}
}

func TestToolRoundTrip(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			ID:   "call_abc",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "get_today_news",
				Arguments: "{}",
			},
		}),
		textResponse("今天的主要新闻是……"),
	}}

	reg := tools.NewRegistry(nil)
	var dispatched int
	reg.Register(&tools.Tool{
		Name:       "get_today_news",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			dispatched++
			return "1. 新闻一\n2. 新闻二", nil
		},
	})
	a, _ := newTestAgent(t, client, reg)

	got := a.Turn(context.Background(), "room", "今天有什么新闻", "alice")

	if got != "今天的主要新闻是……" {
		t.Errorf("reply = %q", got)
	}
	if dispatched != 1 {
		t.Errorf("tool dispatched %d times, want 1", dispatched)
	}

	final := client.calls[1].messages
	n := len(final)
	toolMsg := final[n-1]
	assistantMsg := final[n-2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_abc" {
		t.Errorf("tool message = %+v, want tool role echoing call_abc", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "新闻一") {
		t.Errorf("tool result missing: %q", toolMsg.Content)
	}
	if assistantMsg.Role != "assistant" || len(assistantMsg.ToolCalls) != 1 {
		t.Errorf("assistant tool-call message = %+v", assistantMsg)
	}
}

func TestOnlyFirstToolCallDispatched(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCallResponse(
			llm.ToolCall{ID: "c1", Function: llm.FunctionCall{Name: "first_tool", Arguments: "{}"}},
			llm.ToolCall{ID: "c2", Function: llm.FunctionCall{Name: "second_tool", Arguments: "{}"}},
		),
		textResponse("done"),
	}}

	reg := tools.NewRegistry(nil)
	var firstCalls, secondCalls int
	reg.Register(&tools.Tool{
		Name:       "first_tool",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			firstCalls++
			return "r", nil
		},
	})
	reg.Register(&tools.Tool{
		Name:       "second_tool",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			secondCalls++
			return "r", nil
		},
	})
	a, _ := newTestAgent(t, client, reg)

	a.Turn(context.Background(), "room", "do both", "")

	if firstCalls != 1 || secondCalls != 0 {
		t.Errorf("dispatch counts = (%d, %d), want (1, 0)", firstCalls, secondCalls)
	}
}

func TestToolFailureSkipsFinalCall(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			ID:       "c1",
			Function: llm.FunctionCall{Name: "broken", Arguments: "{}"},
		}),
	}}

	reg := tools.NewRegistry(nil)
	reg.Register(&tools.Tool{
		Name:       "broken",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("backend down")
		},
	})
	a, store := newTestAgent(t, client, reg)

	got := a.Turn(context.Background(), "room", "trigger tool", "")

	if got != replyToolFailure {
		t.Errorf("reply = %q, want fixed tool-failure reply", got)
	}
	if len(client.calls) != 1 {
		t.Errorf("made %d completion calls, want 1 (final skipped)", len(client.calls))
	}
	// The turn still produced a reply and recorded it.
	ctx := store.Context("room")
	if ctx[len(ctx)-1].Content != replyToolFailure {
		t.Errorf("stored reply = %+v", ctx[len(ctx)-1])
	}
}

func TestUnknownToolStillReachesFinalCall(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			ID:       "c1",
			Function: llm.FunctionCall{Name: "not_registered", Arguments: "{}"},
		}),
		textResponse("换个说法再问问我吧。"),
	}}
	a, _ := newTestAgent(t, client, nil)

	got := a.Turn(context.Background(), "room", "hi", "")

	if got != "换个说法再问问我吧。" {
		t.Errorf("reply = %q", got)
	}
	if len(client.calls) != 2 {
		t.Fatalf("made %d completion calls, want 2", len(client.calls))
	}
	// The no-handler result is folded into the final call like any other
	// tool result.
	final := client.calls[1].messages
	toolMsg := final[len(final)-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "c1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "no handler") {
		t.Errorf("tool result = %q, want no-handler report", toolMsg.Content)
	}
}

func TestCompletionFailureProducesFixedReply(t *testing.T) {
	client := &scriptedLLM{errs: []error{errors.New("connection refused")}}
	a, _ := newTestAgent(t, client, nil)

	if got := a.Turn(context.Background(), "room", "hi", ""); got != replyUnavailable {
		t.Errorf("reply = %q, want fixed unavailable reply", got)
	}
}

func TestPromptSwitchShortCircuits(t *testing.T) {
	client := &scriptedLLM{}
	a, store := newTestAgent(t, client, nil)

	got := a.Turn(context.Background(), "room", "/prompt catgirl", "alice")

	if !strings.Contains(got, "catgirl") {
		t.Errorf("ack = %q", got)
	}
	if len(client.calls) != 0 {
		t.Errorf("switch command made %d completion calls, want 0", len(client.calls))
	}
	if store.Len("room") != 0 {
		t.Errorf("switch command wrote %d history entries, want 0", store.Len("room"))
	}

	// The switch takes effect on the next turn's final call.
	client.responses = []*llm.ChatResponse{textResponse("r"), textResponse("喵")}
	a.Turn(context.Background(), "room", "你好", "alice")
	if sys := client.calls[1].messages[0].Content; sys != "你是一只猫娘。" {
		t.Errorf("system prompt after switch = %q", sys)
	}
}

func TestPromptSwitchUnknownName(t *testing.T) {
	client := &scriptedLLM{}
	a, _ := newTestAgent(t, client, nil)

	got := a.Turn(context.Background(), "room", "/prompt nonsense", "")
	if !strings.Contains(got, "nonsense") || !strings.Contains(got, "catgirl") {
		t.Errorf("reply should name the bad prompt and list options: %q", got)
	}
	if len(client.calls) != 0 {
		t.Error("bad switch command reached the completion service")
	}
}

func TestPromptSwitchUsage(t *testing.T) {
	client := &scriptedLLM{}
	a, _ := newTestAgent(t, client, nil)

	got := a.Turn(context.Background(), "room", "/prompt", "")
	if !strings.Contains(got, "用法") {
		t.Errorf("bare /prompt reply = %q, want usage help", got)
	}
}
