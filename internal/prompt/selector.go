// Package prompt manages system-prompt templates and the per-conversation
// switch command.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// switchPattern matches a prompt switch command: "/prompt <name>". The
// name is a single token; surrounding whitespace is ignored.
var switchPattern = regexp.MustCompile(`^/prompt(?:\s+(\S+))?\s*$`)

// Store is the slice of the history store the selector needs: ownership
// of the per-conversation active prompt name.
type Store interface {
	ActivePrompt(conversationID string) string
	SetActivePrompt(conversationID, name string)
}

// Selector resolves which system prompt applies to a conversation and
// handles switch commands.
type Selector struct {
	defaultName string
	templates   map[string]string
	store       Store
}

// NewSelector creates a selector over the configured template set.
// defaultName must be a key of templates; conversations that never
// switched use it.
func NewSelector(defaultName string, templates map[string]string, store Store) (*Selector, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("prompt: no templates configured")
	}
	if _, ok := templates[defaultName]; !ok {
		return nil, fmt.Errorf("prompt: default template %q not in template set", defaultName)
	}
	return &Selector{
		defaultName: defaultName,
		templates:   templates,
		store:       store,
	}, nil
}

// IsSwitchCommand reports whether content is a prompt switch command and
// returns the requested template name. A bare "/prompt" with no name is
// still a switch command (with an empty name) so the caller can answer
// with usage help instead of forwarding it to the model.
func IsSwitchCommand(content string) (name string, ok bool) {
	m := switchPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Switch changes the conversation's active template. Unknown names leave
// the current selection untouched and return an error naming the
// available templates.
func (s *Selector) Switch(conversationID, name string) error {
	if _, ok := s.templates[name]; !ok {
		return fmt.Errorf("prompt: unknown template %q (available: %s)", name, strings.Join(s.Names(), ", "))
	}
	s.store.SetActivePrompt(conversationID, name)
	return nil
}

// Active returns the conversation's active template name, falling back
// to the default when nothing was selected or the stored selection no
// longer exists in the configured set.
func (s *Selector) Active(conversationID string) string {
	name := s.store.ActivePrompt(conversationID)
	if _, ok := s.templates[name]; !ok {
		return s.defaultName
	}
	return name
}

// SystemPrompt returns the system prompt text for the conversation.
func (s *Selector) SystemPrompt(conversationID string) string {
	return s.templates[s.Active(conversationID)]
}

// Names returns all configured template names, sorted.
func (s *Selector) Names() []string {
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
