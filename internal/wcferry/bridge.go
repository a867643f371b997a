package wcferry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zjy1412/wechatyferry-bot/internal/config"
	"github.com/zjy1412/wechatyferry-bot/internal/fetch"
	"github.com/zjy1412/wechatyferry-bot/internal/queue"
)

// Sender is the outgoing half of the gateway the bridge needs.
type Sender interface {
	SendText(receiver, content string) error
}

// Turner runs one conversation turn. Implemented by agent.Agent.
type Turner interface {
	Turn(ctx context.Context, conversationID, content, authorName string) string
}

// Bridge routes gateway messages into agent turns and replies back out.
// Group messages are only handled when the bot is @-mentioned; anything
// else in a group is ignored entirely, including for history.
type Bridge struct {
	botWxid string
	botName string
	agent   Turner
	queue   *queue.Queue
	logger  *slog.Logger
}

// NewBridge creates a bridge. botWxid and botName identify the logged-in
// account for mention detection.
func NewBridge(botWxid, botName string, agent Turner, q *queue.Queue, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		botWxid: botWxid,
		botName: botName,
		agent:   agent,
		queue:   q,
		logger:  logger,
	}
}

// SetIdentity updates the bot identity after login.
func (b *Bridge) SetIdentity(wxid, name string) {
	b.botWxid = wxid
	b.botName = name
}

// HandleMessage inspects one incoming message and, when it is addressed
// to the bot, enqueues a turn for its conversation. The reply is sent
// through sender when the turn completes.
func (b *Bridge) HandleMessage(ev *MessageEvent, sender Sender) {
	// Never answer ourselves.
	if ev.Sender == b.botWxid {
		return
	}

	content := ev.Content
	if ev.IsGroup() {
		if !b.mentioned(ev) {
			b.logger.Log(context.Background(), config.LevelTrace, "group message without mention ignored",
				"room", ev.RoomID)
			return
		}
		content = b.stripMention(content)
	}

	// Attachments only ride along in direct chats; a file posted to a
	// group stays out of the pipeline.
	if ev.Attachment != "" && !ev.IsGroup() {
		text, err := fetch.ExtractFile(ev.Attachment)
		if err != nil {
			b.logger.Warn("attachment skipped", "path", ev.Attachment, "error", err)
		} else {
			content = strings.TrimSpace(content + "\n\n[附件内容]\n" + text)
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	conv := ev.ConversationID()
	receiver := ev.Receiver()
	author := ev.SenderName
	if author == "" {
		author = ev.Sender
	}

	b.queue.Submit(conv, func(ctx context.Context) {
		reply := b.agent.Turn(ctx, conv, content, author)
		if err := sender.SendText(receiver, reply); err != nil {
			b.logger.Error("reply delivery failed", "conversation", conv, "error", err)
		}
	})
}

// mentioned reports whether the bot is addressed in a group message,
// either via the gateway's mention list or an inline @name.
func (b *Bridge) mentioned(ev *MessageEvent) bool {
	for _, wxid := range ev.Mentions {
		if wxid == b.botWxid {
			return true
		}
	}
	return b.botName != "" && strings.Contains(ev.Content, "@"+b.botName)
}

// stripMention removes @bot tokens so the model sees a clean question.
// WeChat terminates a mention with U+2005; a plain space also appears in
// practice.
func (b *Bridge) stripMention(content string) string {
	if b.botName == "" {
		return content
	}
	token := "@" + b.botName
	content = strings.ReplaceAll(content, token+"\u2005", "")
	content = strings.ReplaceAll(content, token+" ", "")
	content = strings.ReplaceAll(content, token, "")
	return strings.TrimSpace(content)
}
