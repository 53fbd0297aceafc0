package models

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidThread      = errors.New("invalid thread id")
	ErrEmptyMessage       = errors.New("message has neither text nor attachment")
	ErrInvalidDestination = errors.New("invalid destination")
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	Presence    Presence   `json:"presence"`
	Status      UserStatus `json:"status"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Presence represents the online status of a user.
type Presence struct {
	UserID   string         `json:"userId,omitempty"`
	Status   PresenceStatus `json:"status"`
	LastSeen int64          `json:"lastSeen"` // Unix milliseconds
}

// Thread is a conversation with one counterparty or a room.
type Thread struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message represents a chat message.
// Mentions is fixed at creation, Text is editable and Reactions only change by toggling.
type Message struct {
	ID         string              `json:"id"`
	ThreadID   string              `json:"threadId"`
	Text       string              `json:"text"`
	HTML       string              `json:"html,omitempty"`
	AuthorID   string              `json:"authorId"`
	AuthorName string              `json:"authorName"`
	SentAt     int64               `json:"sentAt"` // Unix milliseconds, server assigned
	EditedAt   int64               `json:"editedAt,omitempty"`
	Mentions   map[string]string   `json:"mentions"`
	Reactions  map[string][]string `json:"reactions"`
	Attachment *Attachment         `json:"attachment,omitempty"`
	Direction  Direction           `json:"direction,omitempty"`
	Read       bool                `json:"read,omitempty"`

	// SentAtEstimated is set when the store had no timestamp and SentAt
	// holds the local clock at decode time.
	SentAtEstimated bool `json:"sentAtEstimated,omitempty"`
}

// IncomingFor reports whether the message counts as received by userID.
func (m Message) IncomingFor(userID string) bool {
	return m.Direction == DirectionIncoming || m.AuthorID != userID
}

// Attachment references a portal entity (property, order, document...).
// It is passed through untouched for rendering.
type Attachment struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ReadState is the per (user, thread) read bookkeeping.
// Every incoming message with SentAt <= Watermark is read; ReadIDs holds
// messages above the watermark that were marked individually.
type ReadState struct {
	UserID    string          `json:"userId"`
	ThreadID  string          `json:"threadId"`
	Watermark int64           `json:"watermark"`
	ReadIDs   map[string]bool `json:"readIds,omitempty"`
}

// Notification is raised once per newly arrived message mentioning the receiver.
type Notification struct {
	ThreadID   string `json:"threadId"`
	MessageID  string `json:"messageId"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// ClientMessage represents a message sent from the client to the server.
type ClientMessage struct {
	Type       ClientMessageType `json:"type"`
	Ref        string            `json:"ref,omitempty"`
	ThreadID   string            `json:"threadId,omitempty"`
	MessageID  string            `json:"messageId,omitempty"`
	MessageIDs []string          `json:"messageIds,omitempty"`
	Text       string            `json:"text,omitempty"`
	Emoji      string            `json:"emoji,omitempty"`
	Mentions   map[string]string `json:"mentions,omitempty"`
	Attachment *Attachment       `json:"attachment,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type         ServerMessageType `json:"type"`
	Ref          string            `json:"ref,omitempty"`
	ThreadID     string            `json:"threadId,omitempty"`
	MessageID    string            `json:"messageId,omitempty"`
	Messages     []Message         `json:"messages,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
	Unread       map[string]int    `json:"unread,omitempty"`
	Presence     *Presence         `json:"presence,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeJoin           ClientMessageType = "join"
	ClientMessageTypeLeave          ClientMessageType = "leave"
	ClientMessageTypeSend           ClientMessageType = "send"
	ClientMessageTypeEdit           ClientMessageType = "edit"
	ClientMessageTypeReact          ClientMessageType = "react"
	ClientMessageTypeMarkRead       ClientMessageType = "markRead"
	ClientMessageTypeMarkThreadRead ClientMessageType = "markThreadRead"
)

type ServerMessageType string

const (
	ServerMessageTypeSnapshot     ServerMessageType = "snapshot"
	ServerMessageTypeNotification ServerMessageType = "notification"
	ServerMessageTypeUnread       ServerMessageType = "unread"
	ServerMessageTypePresence     ServerMessageType = "presence"
	ServerMessageTypeSent         ServerMessageType = "sent"
	ServerMessageTypeError        ServerMessageType = "error"
)

// APIResponse is the generic JSON answer of HTTP handlers.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
