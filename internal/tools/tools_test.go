package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zjy1412/wechatyferry-bot/internal/llm"
)

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name:        "echo",
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			return "echo: " + in.Text, nil
		},
	})

	got, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "echo: hi" {
		t.Errorf("result = %q", got)
	}
}

func TestExecuteUnknownToolYieldsNoHandlerResult(t *testing.T) {
	r := NewRegistry(nil)

	got, err := r.Execute(context.Background(), "does_not_exist", nil)
	if err != nil {
		t.Fatalf("Execute of unknown tool errored: %v", err)
	}
	if !strings.Contains(got, "no handler") || !strings.Contains(got, "does_not_exist") {
		t.Errorf("result should report the missing handler: %q", got)
	}
	if !json.Valid([]byte(got)) {
		t.Errorf("no-handler result is not valid JSON: %q", got)
	}
}

func TestExecuteContainsPanics(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name:       "boom",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("handler exploded")
		},
	})

	_, err := r.Execute(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("panicking handler did not produce an error")
	}
	if !strings.Contains(err.Error(), "handler exploded") {
		t.Errorf("error should carry the panic value: %v", err)
	}
}

func TestListSchemaFormat(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name:        "search_internet",
		Description: "search the web",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keywords": map[string]any{"type": "array"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil },
	})
	r.Register(&Tool{
		Name:       "read_url",
		Parameters: map[string]any{"type": "object"},
		Handler:    func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil },
	})

	defs := r.List()
	if len(defs) != 2 {
		t.Fatalf("List returned %d definitions, want 2", len(defs))
	}

	// Registration order must be stable.
	first, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("definition missing function object: %+v", defs[0])
	}
	if first["name"] != "search_internet" {
		t.Errorf("first definition = %v, want search_internet", first["name"])
	}
	if defs[0]["type"] != "function" {
		t.Errorf(`type = %v, want "function"`, defs[0]["type"])
	}
	if first["description"] != "search the web" {
		t.Errorf("description = %v", first["description"])
	}
}

func TestSelectCallFirstOnly(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "call_1", Function: llm.FunctionCall{Name: "search_internet"}},
		{ID: "call_2", Function: llm.FunctionCall{Name: "read_url"}},
		{ID: "call_3", Function: llm.FunctionCall{Name: "get_today_news"}},
	}

	got, ok := SelectCall(calls)
	if !ok {
		t.Fatal("SelectCall returned false for non-empty calls")
	}
	if got.ID != "call_1" || got.Function.Name != "search_internet" {
		t.Errorf("selected call = %+v, want the first", got)
	}

	if _, ok := SelectCall(nil); ok {
		t.Error("SelectCall returned true for empty calls")
	}
}
