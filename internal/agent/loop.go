// Package agent implements the conversation turn: the two-phase
// completion protocol that routes a message through the tool registry
// and produces exactly one reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/zjy1412/wechatyferry-bot/internal/history"
	"github.com/zjy1412/wechatyferry-bot/internal/llm"
	"github.com/zjy1412/wechatyferry-bot/internal/prompt"
	"github.com/zjy1412/wechatyferry-bot/internal/tools"
)

// Fixed user-facing replies. The bot speaks Chinese to its users; error
// detail stays in the logs.
const (
	replyUnavailable  = "我现在无法回答，请稍后再试。"
	replyToolFailure  = "工具调用失败了，请稍后再试。"
	replyPromptSwitch = "已切换提示词：%s"
	replyPromptUsage  = "用法：/prompt <名称>。可用提示词：%s"
	replyPromptBad    = "没有叫 %s 的提示词。可用提示词：%s"
)

// Agent runs conversation turns. All collaborators are injected; the
// agent itself holds no conversation state beyond a turn counter.
type Agent struct {
	llm      llm.Client
	model    string
	registry *tools.Registry
	store    *history.Store
	prompts  *prompt.Selector
	logger   *slog.Logger

	turns atomic.Int64
}

// New creates an agent.
func New(client llm.Client, model string, registry *tools.Registry, store *history.Store, prompts *prompt.Selector, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:      client,
		model:    model,
		registry: registry,
		store:    store,
		prompts:  prompts,
		logger:   logger,
	}
}

// TurnCount returns the number of turns processed since start.
func (a *Agent) TurnCount() int64 {
	return a.turns.Load()
}

// Turn processes one incoming message and returns the single reply for
// it. Turn never returns an empty reply and never propagates an error;
// failures inside the turn collapse to a fixed apology so the
// conversation always gets an answer.
func (a *Agent) Turn(ctx context.Context, conversationID, content, authorName string) string {
	a.turns.Add(1)

	// Prompt switch commands short-circuit the whole pipeline: no
	// completion call, no history write.
	if name, ok := prompt.IsSwitchCommand(content); ok {
		return a.switchPrompt(conversationID, name)
	}

	a.store.Append(conversationID, "user", content, authorName)

	reply := a.answer(ctx, conversationID, content)
	a.store.Append(conversationID, "assistant", reply, "")
	return reply
}

// switchPrompt handles the /prompt command.
func (a *Agent) switchPrompt(conversationID, name string) string {
	available := strings.Join(a.prompts.Names(), "、")
	if name == "" {
		return fmt.Sprintf(replyPromptUsage, available)
	}
	if err := a.prompts.Switch(conversationID, name); err != nil {
		a.logger.Debug("prompt switch rejected", "conversation", conversationID, "name", name)
		return fmt.Sprintf(replyPromptBad, name, available)
	}
	a.logger.Info("prompt switched", "conversation", conversationID, "name", name)
	return fmt.Sprintf(replyPromptSwitch, name)
}

// answer runs the two-phase completion protocol and returns the reply
// text. Phase one sends the bare user message with the tool schema so
// the model can decide whether a tool is needed; phase two sends the
// system prompt and the full stored context (plus the tool exchange, if
// any) to produce the final answer.
func (a *Agent) answer(ctx context.Context, conversationID, content string) string {
	routing, err := a.llm.Chat(ctx, a.model,
		[]llm.Message{{Role: "user", Content: content}},
		a.registry.List(),
	)
	if err != nil {
		a.logger.Error("routing completion failed", "conversation", conversationID, "error", err)
		return replyUnavailable
	}

	var toolExchange []llm.Message
	if call, ok := tools.SelectCall(routing.Message.ToolCalls); ok {
		if len(routing.Message.ToolCalls) > 1 {
			a.logger.Debug("extra tool calls discarded",
				"conversation", conversationID,
				"dispatched", call.Function.Name,
				"discarded", len(routing.Message.ToolCalls)-1,
			)
		}

		toolCtx := tools.WithConversationID(ctx, conversationID)
		result, err := a.registry.Execute(toolCtx, call.Function.Name, json.RawMessage(call.Function.Arguments))
		if err != nil {
			a.logger.Error("tool dispatch failed",
				"conversation", conversationID,
				"tool", call.Function.Name,
				"error", err,
			)
			return replyToolFailure
		}
		a.logger.Info("tool dispatched",
			"conversation", conversationID,
			"tool", call.Function.Name,
			"result_len", len(result),
		)

		toolExchange = []llm.Message{
			{Role: "assistant", ToolCalls: []llm.ToolCall{call}},
			{Role: "tool", Content: result, ToolCallID: call.ID},
		}
	}

	final, err := a.llm.Chat(ctx, a.model, a.finalMessages(conversationID, toolExchange), nil)
	if err != nil {
		a.logger.Error("final completion failed", "conversation", conversationID, "error", err)
		return replyUnavailable
	}

	reply := strings.TrimSpace(final.Message.Content)
	if reply == "" {
		return replyUnavailable
	}
	return reply
}

// finalMessages assembles the phase-two message list: system prompt,
// stored conversation context, then the tool exchange when a tool ran.
func (a *Agent) finalMessages(conversationID string, toolExchange []llm.Message) []llm.Message {
	stored := a.store.Context(conversationID)

	msgs := make([]llm.Message, 0, len(stored)+len(toolExchange)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: a.prompts.SystemPrompt(conversationID)})
	msgs = append(msgs, stored...)
	msgs = append(msgs, toolExchange...)
	return msgs
}
