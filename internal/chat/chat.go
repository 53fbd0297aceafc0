package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"portalchat/internal/content"
	"portalchat/internal/models"
	"portalchat/internal/notify"
	"portalchat/internal/storage"
)

// Service holds the write operations on threads. Every write goes straight
// to the feed; callers see the result through their subscriptions.
type Service struct {
	feed storage.Feed

	// Offline receives mentions of users for which Online reports false.
	Offline notify.Notifier
	Online  func(userID string) bool

	now func() time.Time
}

func NewService(feed storage.Feed) *Service {
	return &Service{feed: feed, now: time.Now}
}

type SendRequest struct {
	ThreadID   string
	AuthorID   string
	AuthorName string
	Text       string
	Mentions   map[string]string
	Attachment *models.Attachment
	Direction  models.Direction
}

// Send validates the request and creates the message. The store assigns the
// id and the timestamp.
func (s *Service) Send(ctx context.Context, req SendRequest) (string, error) {
	if req.AuthorID == "" {
		return "", models.ErrNotAuthenticated
	}
	if err := ValidateThreadID(req.ThreadID); err != nil {
		return "", err
	}
	text := strings.TrimSpace(content.Sanitize(req.Text))
	if text == "" && req.Attachment == nil {
		return "", models.ErrEmptyMessage
	}

	if err := ensureThread(ctx, s.feed, req.ThreadID); err != nil {
		return "", err
	}

	mentions := make(map[string]any, len(req.Mentions))
	for id, name := range req.Mentions {
		mentions[id] = name
	}
	doc := storage.Fields{
		"text":       text,
		"authorId":   req.AuthorID,
		"authorName": req.AuthorName,
		"sentAt":     storage.ServerTimestamp,
		"mentions":   mentions,
		"reactions":  map[string]any{},
	}
	if req.Attachment != nil {
		doc["attachment"] = map[string]any{
			"type":     req.Attachment.Type,
			"id":       req.Attachment.ID,
			"title":    req.Attachment.Title,
			"subtitle": req.Attachment.Subtitle,
			"url":      req.Attachment.URL,
		}
	}
	if req.Direction != "" {
		doc["direction"] = string(req.Direction)
	}

	id, err := s.feed.Create(ctx, storage.MessagesPath(req.ThreadID), doc)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	s.notifyOffline(models.Message{
		ID:         id,
		ThreadID:   req.ThreadID,
		Text:       text,
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		Mentions:   req.Mentions,
	})
	return id, nil
}

func (s *Service) notifyOffline(m models.Message) {
	if s.Offline == nil || len(m.Mentions) == 0 {
		return
	}
	n := NewNotification(m, s.now())
	for userID := range m.Mentions {
		if userID == m.AuthorID || (s.Online != nil && s.Online(userID)) {
			continue
		}
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Offline.Notify(ctx, userID, n); err != nil {
				slog.Warn("offline mention notification failed", "user_id", userID, "message_id", m.ID, "error", err)
				return
			}
			notificationsTotal.WithLabelValues("offline").Inc()
		}(userID)
	}
}

// Edit replaces the text of a message. Only its author may edit it; mentions
// stay as captured at send time.
func (s *Service) Edit(ctx context.Context, threadID, messageID, userID, text string) error {
	if userID == "" {
		return models.ErrNotAuthenticated
	}
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	text = strings.TrimSpace(content.Sanitize(text))

	doc, err := s.readMessage(ctx, threadID, messageID)
	if err != nil {
		return err
	}
	if author, _ := doc.Data["authorId"].(string); author != userID {
		return fmt.Errorf("edit message %s: %w", messageID, models.ErrForbidden)
	}
	if text == "" && doc.Data["attachment"] == nil {
		return models.ErrEmptyMessage
	}

	return s.feed.Update(ctx, storage.MessagePath(threadID, messageID), storage.Fields{
		"text":     text,
		"editedAt": storage.ServerTimestamp,
	})
}

// ToggleReaction flips userID in the reactor list of emoji on a message and
// reports whether the user was added. This is a read-modify-write on shared
// state: concurrent toggles by different users resolve last-write-wins.
func (s *Service) ToggleReaction(ctx context.Context, threadID, messageID, emoji, userID string) (bool, error) {
	if userID == "" {
		return false, models.ErrNotAuthenticated
	}
	if err := ValidateThreadID(threadID); err != nil {
		return false, err
	}
	if err := validateEmoji(emoji); err != nil {
		return false, err
	}

	doc, err := s.readMessage(ctx, threadID, messageID)
	if err != nil {
		return false, err
	}

	var current []string
	if m, ok := toStringMap(doc.Data["reactions"]); ok {
		current, _ = NormalizeReactors(m[emoji])
	}
	reactors, added := toggle(current, userID)

	var value any = reactors
	if len(reactors) == 0 {
		value = storage.DeleteField
	}
	err = s.feed.Update(ctx, storage.MessagePath(threadID, messageID), storage.Fields{
		"reactions." + emoji: value,
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle reaction: %w", err)
	}
	return added, nil
}

func (s *Service) readMessage(ctx context.Context, threadID, messageID string) (storage.Document, error) {
	if messageID == "" || strings.Contains(messageID, "/") {
		return storage.Document{}, fmt.Errorf("message %q: %w", messageID, models.ErrNotFound)
	}
	snap, err := s.feed.ReadOnce(ctx, storage.MessagePath(threadID, messageID))
	if err != nil {
		return storage.Document{}, err
	}
	if !snap.Exists {
		return storage.Document{}, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	return snap.Docs[0], nil
}
