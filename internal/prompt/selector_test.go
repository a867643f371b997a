package prompt

import (
	"strings"
	"testing"
)

// memStore is a minimal in-memory prompt-state store.
type memStore struct {
	prompts map[string]string
}

func newMemStore() *memStore {
	return &memStore{prompts: make(map[string]string)}
}

func (m *memStore) ActivePrompt(id string) string   { return m.prompts[id] }
func (m *memStore) SetActivePrompt(id, name string) { m.prompts[id] = name }

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	sel, err := NewSelector("default", map[string]string{
		"default": "你是一个乐于助人的助手。",
		"catgirl": "你是一只猫娘。",
	}, newMemStore())
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	return sel
}

func TestIsSwitchCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantOK   bool
	}{
		{"/prompt catgirl", "catgirl", true},
		{"  /prompt catgirl  ", "catgirl", true},
		{"/prompt", "", true},
		{"/prompt  ", "", true},
		{"/prompt catgirl extra words", "", false},
		{"tell me about /prompt", "", false},
		{"今天有什么新闻", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		name, ok := IsSwitchCommand(tt.in)
		if ok != tt.wantOK || name != tt.wantName {
			t.Errorf("IsSwitchCommand(%q) = (%q, %v), want (%q, %v)",
				tt.in, name, ok, tt.wantName, tt.wantOK)
		}
	}
}

func TestSwitchAndActive(t *testing.T) {
	sel := newTestSelector(t)

	if got := sel.Active("room"); got != "default" {
		t.Errorf("fresh conversation Active = %q, want default", got)
	}

	if err := sel.Switch("room", "catgirl"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if got := sel.Active("room"); got != "catgirl" {
		t.Errorf("Active after switch = %q, want catgirl", got)
	}
	if got := sel.SystemPrompt("room"); got != "你是一只猫娘。" {
		t.Errorf("SystemPrompt = %q", got)
	}

	// Other conversations keep the default.
	if got := sel.Active("other"); got != "default" {
		t.Errorf("other conversation Active = %q, want default", got)
	}
}

func TestSwitchUnknownTemplate(t *testing.T) {
	sel := newTestSelector(t)

	err := sel.Switch("room", "nonexistent")
	if err == nil {
		t.Fatal("Switch with unknown name succeeded")
	}
	if !strings.Contains(err.Error(), "catgirl") || !strings.Contains(err.Error(), "default") {
		t.Errorf("error should list available templates, got: %v", err)
	}
	// Selection must be unchanged.
	if got := sel.Active("room"); got != "default" {
		t.Errorf("Active after failed switch = %q, want default", got)
	}
}

func TestActiveFallsBackOnStaleSelection(t *testing.T) {
	store := newMemStore()
	sel, err := NewSelector("default", map[string]string{
		"default": "base",
	}, store)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	// Simulate a selection restored from disk for a template that was
	// since removed from the config.
	store.SetActivePrompt("room", "removed")

	if got := sel.Active("room"); got != "default" {
		t.Errorf("Active with stale selection = %q, want default", got)
	}
}

func TestNewSelectorValidation(t *testing.T) {
	if _, err := NewSelector("default", nil, newMemStore()); err == nil {
		t.Error("NewSelector with no templates succeeded")
	}
	if _, err := NewSelector("missing", map[string]string{"a": "x"}, newMemStore()); err == nil {
		t.Error("NewSelector with absent default succeeded")
	}
}
