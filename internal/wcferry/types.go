// Package wcferry is the WeChat gateway transport: a WebSocket client
// for a wcferry-style gateway, the session lifecycle around it, and the
// bridge that turns gateway messages into agent turns.
package wcferry

// EventType discriminates gateway events.
type EventType string

const (
	// EventScan carries a login QR challenge to render for the operator.
	EventScan EventType = "scan"

	// EventLogin signals a completed login.
	EventLogin EventType = "login"

	// EventLogout signals the account was logged out remotely.
	EventLogout EventType = "logout"

	// EventMessage carries an incoming chat message.
	EventMessage EventType = "message"
)

// Event is one frame from the gateway. Exactly one of the payload
// fields matching Type is set.
type Event struct {
	Type    EventType     `json:"type"`
	Scan    *ScanEvent    `json:"scan,omitempty"`
	Login   *LoginEvent   `json:"login,omitempty"`
	Message *MessageEvent `json:"message,omitempty"`
}

// ScanEvent is a login QR challenge.
type ScanEvent struct {
	// URL is the content to encode into the QR code.
	URL string `json:"url"`
}

// LoginEvent reports the logged-in account.
type LoginEvent struct {
	Wxid string `json:"wxid"`
	Name string `json:"name"`
}

// MessageEvent is an incoming chat message.
type MessageEvent struct {
	ID         string   `json:"id"`
	Sender     string   `json:"sender"`      // wxid of the author
	SenderName string   `json:"sender_name"` // display name of the author
	RoomID     string   `json:"room_id"`     // set for group messages
	Content    string   `json:"content"`
	Mentions   []string `json:"mentions,omitempty"` // wxids @-mentioned
	Attachment string   `json:"attachment,omitempty"` // local path of a received file
}

// IsGroup reports whether the message arrived in a group chat.
func (m *MessageEvent) IsGroup() bool { return m.RoomID != "" }

// ConversationID returns the history key for this message: the room for
// group chats, the sender for direct chats.
func (m *MessageEvent) ConversationID() string {
	if m.IsGroup() {
		return m.RoomID
	}
	return m.Sender
}

// Receiver returns where the reply should be sent.
func (m *MessageEvent) Receiver() string {
	return m.ConversationID()
}

// sendTextRequest is the outgoing frame for a text reply.
type sendTextRequest struct {
	Type     string `json:"type"` // always "send_text"
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}
