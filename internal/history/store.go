// Package history provides per-conversation bounded message logs.
//
// The Store is the only owner of conversation state: the ordered message
// log (bounded FIFO) and the active system-prompt selection. Operations on
// the same conversation serialize on a per-conversation mutex so two
// concurrent turns for one chat cannot interleave their history writes;
// operations on different conversations proceed in parallel.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zjy1412/wechatyferry-bot/internal/llm"
)

// ErrEmptyConversation is returned by Summarize when the conversation has
// no stored messages.
var ErrEmptyConversation = errors.New("history: conversation is empty")

// summaryInstruction asks the completion service for a condensed summary
// of the transcript that follows.
const summaryInstruction = "请用简洁的中文总结以下聊天记录的要点，按发言内容归纳，不要逐条复述：\n\n"

// maxSummaryTranscriptBytes caps the transcript sent for summarization.
const maxSummaryTranscriptBytes = 8000

// conversation holds one chat's log and prompt selection. mu serializes
// all access to this conversation's state.
type conversation struct {
	mu       sync.Mutex
	messages []llm.Message
	prompt   string // active prompt template name; "" = default
	updated  time.Time
}

// Store manages conversation history for all chats.
type Store struct {
	mu            sync.Mutex // guards the conversations map only
	conversations map[string]*conversation

	maxMessages int
	llmClient   llm.Client
	model       string
	logger      *slog.Logger
}

// NewStore creates a history store. llmClient and model are used only by
// Summarize and may be nil/empty in contexts that never summarize.
func NewStore(maxMessages int, llmClient llm.Client, model string, logger *slog.Logger) *Store {
	if maxMessages <= 0 {
		maxMessages = 40
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conversations: make(map[string]*conversation),
		maxMessages:   maxMessages,
		llmClient:     llmClient,
		model:         model,
		logger:        logger,
	}
}

// get returns the conversation for id, creating it if needed.
func (s *Store) get(id string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		conv = &conversation{}
		s.conversations[id] = conv
	}
	return conv
}

// Append adds a message to a conversation, evicting the oldest entries
// when the log exceeds the configured maximum. A missing conversation is
// created implicitly. Append never fails.
func (s *Store) Append(conversationID, role, content, authorName string) {
	conv := s.get(conversationID)

	conv.mu.Lock()
	defer conv.mu.Unlock()

	conv.messages = append(conv.messages, llm.Message{
		Role:    role,
		Content: content,
		Name:    authorName,
	})
	if over := len(conv.messages) - s.maxMessages; over > 0 {
		conv.messages = append([]llm.Message(nil), conv.messages[over:]...)
	}
	conv.updated = time.Now()
}

// Context returns the conversation's log in insertion order. The system
// prompt is not included; the orchestrator prepends it separately. The
// returned slice is a copy.
func (s *Store) Context(conversationID string) []llm.Message {
	conv := s.get(conversationID)

	conv.mu.Lock()
	defer conv.mu.Unlock()

	msgs := make([]llm.Message, len(conv.messages))
	copy(msgs, conv.messages)
	return msgs
}

// Len returns the number of stored messages for a conversation.
func (s *Store) Len(conversationID string) int {
	conv := s.get(conversationID)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return len(conv.messages)
}

// ActivePrompt returns the conversation's active prompt template name,
// or "" when the process-wide default applies.
func (s *Store) ActivePrompt(conversationID string) string {
	conv := s.get(conversationID)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.prompt
}

// SetActivePrompt switches the conversation's prompt template.
func (s *Store) SetActivePrompt(conversationID, name string) {
	conv := s.get(conversationID)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.prompt = name
}

// Summarize produces a condensed natural-language summary of the stored
// log by delegating to the completion service. An empty log returns
// ErrEmptyConversation.
func (s *Store) Summarize(ctx context.Context, conversationID string) (string, error) {
	msgs := s.Context(conversationID)
	if len(msgs) == 0 {
		return "", ErrEmptyConversation
	}
	if s.llmClient == nil {
		return "", fmt.Errorf("history: no completion client configured")
	}

	transcript := buildTranscript(msgs)
	resp, err := s.llmClient.Chat(ctx, s.model, []llm.Message{
		{Role: "user", Content: summaryInstruction + transcript},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize conversation %s: %w", conversationID, err)
	}
	return resp.Message.Content, nil
}

// Conversations returns all known conversation ids, sorted for stable
// iteration.
func (s *Store) Conversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns store statistics for status reporting.
func (s *Store) Stats() map[string]any {
	s.mu.Lock()
	convs := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		convs = append(convs, c)
	}
	s.mu.Unlock()

	total := 0
	for _, c := range convs {
		c.mu.Lock()
		total += len(c.messages)
		c.mu.Unlock()
	}

	return map[string]any{
		"conversations": len(convs),
		"messages":      total,
		"max_per_conv":  s.maxMessages,
	}
}

// buildTranscript flattens messages into a compact "role: content" text,
// truncated at maxSummaryTranscriptBytes.
func buildTranscript(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		who := m.Role
		if m.Name != "" {
			who = m.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
		if b.Len() > maxSummaryTranscriptBytes {
			b.WriteString("...(截断)\n")
			break
		}
	}
	return b.String()
}
