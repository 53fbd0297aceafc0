package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"portalchat/internal/chat"
	"portalchat/internal/content"
	"portalchat/internal/models"
	"portalchat/internal/storage"
)

const clientBuffer = 256

// Directory resolves users for author names and mention extraction.
type Directory interface {
	GetUsers() []models.User
	GetUser(id string) (models.User, error)
}

// Client is one live connection of a user.
type Client struct {
	userID  string
	out     chan models.ServerMessage
	done    chan struct{}
	once    sync.Once
	session *chat.Session
}

func newClient(userID string) *Client {
	return &Client{
		userID: userID,
		out:    make(chan models.ServerMessage, clientBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// Out carries messages for the websocket writer.
func (c *Client) Out() <-chan models.ServerMessage {
	return c.out
}

// send never blocks: subscription callbacks run on feed goroutines.
func (c *Client) send(msg models.ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		slog.Warn("dropping message for slow client", "user_id", c.userID, "type", msg.Type)
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

type Hub struct {
	feed      storage.Feed
	service   *chat.Service
	presence  *chat.PresenceReporter
	directory Directory

	// Map of userID -> live clients
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	// presenceMu serializes presence writes so the last one always
	// reflects the current connections.
	presenceMu sync.Mutex
}

func NewHub(feed storage.Feed, service *chat.Service, directory Directory) *Hub {
	h := &Hub{
		feed:      feed,
		service:   service,
		presence:  chat.NewPresenceReporter(feed),
		directory: directory,
		clients:   make(map[string]map[*Client]struct{}),
	}
	service.Online = h.Online
	return h
}

// Run broadcasts presence changes until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	dispose, err := h.presence.Watch(ctx, func(p models.Presence) {
		h.broadcast(models.ServerMessage{Type: models.ServerMessageTypePresence, Presence: &p})
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	dispose()
	return nil
}

// Join registers a new connection of userID. The first connection of a user
// reports them online.
func (h *Hub) Join(ctx context.Context, userID string) (*Client, error) {
	c := newClient(userID)
	session, err := chat.NewSession(ctx, h.feed, userID, chat.Handlers{
		OnSnapshot: func(s chat.ThreadSnapshot) {
			c.send(models.ServerMessage{
				Type:     models.ServerMessageTypeSnapshot,
				ThreadID: s.ThreadID,
				Messages: render(s.Messages),
			})
		},
		OnNotification: func(n models.Notification) {
			c.send(models.ServerMessage{
				Type:         models.ServerMessageTypeNotification,
				ThreadID:     n.ThreadID,
				MessageID:    n.MessageID,
				Notification: &n,
			})
		},
		OnUnread: func(counts map[string]int) {
			c.send(models.ServerMessage{Type: models.ServerMessageTypeUnread, Unread: counts})
		},
		OnError: func(threadID string, err error) {
			slog.Warn("thread subscription failed", "user_id", userID, "thread_id", threadID, "error", err)
			c.send(models.ServerMessage{Type: models.ServerMessageTypeError, ThreadID: threadID, Error: "subscription failed"})
		},
	})
	if err != nil {
		return nil, err
	}
	c.session = session

	h.mu.Lock()
	first := len(h.clients[userID]) == 0
	if first {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	if first {
		h.syncPresence(ctx, userID)
	}
	return c, nil
}

// Leave closes the session of c. The last connection of a user reports them
// offline.
func (h *Hub) Leave(c *Client) {
	c.close()
	if c.session != nil {
		c.session.Close()
	}

	h.mu.Lock()
	delete(h.clients[c.userID], c)
	last := len(h.clients[c.userID]) == 0
	if last {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	if last {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.syncPresence(ctx, c.userID)
	}
}

// syncPresence stores the status matching the live connections of userID at
// the time of the write, so a late write of an older Join or Leave cannot win.
func (h *Hub) syncPresence(ctx context.Context, userID string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	var err error
	if h.Online(userID) {
		err = h.presence.Online(ctx, userID)
	} else {
		err = h.presence.Offline(ctx, userID)
	}
	if err != nil {
		slog.Warn("failed to store presence", "user_id", userID, "error", err)
	}
}

// Online reports whether userID holds at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Dispatch executes a client message. Failures are answered with an error
// message carrying the client's ref.
func (h *Hub) Dispatch(ctx context.Context, c *Client, msg models.ClientMessage) {
	reply, err := h.dispatch(ctx, c, msg)
	if err != nil {
		slog.Debug("client message failed", "user_id", c.userID, "type", msg.Type, "error", err)
		c.send(models.ServerMessage{
			Type:     models.ServerMessageTypeError,
			Ref:      msg.Ref,
			ThreadID: msg.ThreadID,
			Error:    errorText(err),
		})
		return
	}
	if reply != nil {
		reply.Ref = msg.Ref
		c.send(*reply)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg models.ClientMessage) (*models.ServerMessage, error) {
	switch msg.Type {
	case models.ClientMessageTypeJoin:
		return nil, c.session.Watch(msg.ThreadID)

	case models.ClientMessageTypeLeave:
		c.session.Unwatch(msg.ThreadID)
		return nil, nil

	case models.ClientMessageTypeSend:
		author, err := h.directory.GetUser(c.userID)
		if err != nil {
			return nil, err
		}
		id, err := h.service.Send(ctx, chat.SendRequest{
			ThreadID:   msg.ThreadID,
			AuthorID:   c.userID,
			AuthorName: author.DisplayName,
			Text:       msg.Text,
			Mentions:   h.mentions(msg),
			Attachment: msg.Attachment,
		})
		if err != nil {
			return nil, err
		}
		return &models.ServerMessage{Type: models.ServerMessageTypeSent, ThreadID: msg.ThreadID, MessageID: id}, nil

	case models.ClientMessageTypeEdit:
		if err := h.service.Edit(ctx, msg.ThreadID, msg.MessageID, c.userID, msg.Text); err != nil {
			return nil, err
		}
		return &models.ServerMessage{Type: models.ServerMessageTypeSent, ThreadID: msg.ThreadID, MessageID: msg.MessageID}, nil

	case models.ClientMessageTypeReact:
		_, err := h.service.ToggleReaction(ctx, msg.ThreadID, msg.MessageID, msg.Emoji, c.userID)
		return nil, err

	case models.ClientMessageTypeMarkRead:
		_, err := c.session.MarkAsRead(ctx, msg.ThreadID, msg.MessageIDs)
		return nil, err

	case models.ClientMessageTypeMarkThreadRead:
		_, err := c.session.MarkThreadRead(ctx, msg.ThreadID)
		return nil, err
	}
	return nil, errUnknownMessage
}

// mentions resolves the mentions of an outgoing message. Client supplied ids
// must name known users and always carry the directory display name.
func (h *Hub) mentions(msg models.ClientMessage) map[string]string {
	if len(msg.Mentions) == 0 {
		return content.ExtractMentions(msg.Text, h.directory.GetUsers())
	}
	out := make(map[string]string, len(msg.Mentions))
	for id := range msg.Mentions {
		u, err := h.directory.GetUser(id)
		if err != nil {
			slog.Debug("dropping unknown mention", "user_id", id)
			continue
		}
		out[id] = u.DisplayName
	}
	return out
}

func (h *Hub) broadcast(msg models.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.clients {
		for c := range clients {
			c.send(msg)
		}
	}
}

var errUnknownMessage = errors.New("unknown message type")

// errorText maps domain errors to the messages shown to clients. Anything
// unexpected stays generic.
func errorText(err error) string {
	for _, known := range []error{
		models.ErrNotFound,
		models.ErrNotAuthenticated,
		models.ErrForbidden,
		models.ErrInvalidThread,
		models.ErrEmptyMessage,
		chat.ErrInvalidReaction,
		errUnknownMessage,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

func render(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		html, err := content.Render(m.Text)
		if err != nil {
			html = content.Escape(m.Text)
		}
		m.HTML = html
		out[i] = m
	}
	return out
}
