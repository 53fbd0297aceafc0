package chat

import (
	"sync"
	"time"

	"portalchat/internal/models"
)

// MentionDetector raises notifications for the messages mentioning one user.
// It only evaluates mentions of that user; other clients evaluate their own.
type MentionDetector struct {
	userID string
	now    func() time.Time

	mu       sync.Mutex
	notified map[string]struct{}
}

func NewMentionDetector(userID string) *MentionDetector {
	return &MentionDetector{
		userID:   userID,
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
}

// Detect expects newly arrived messages only. It returns one notification per
// message that mentions the user, skipping the user's own messages and any
// message already notified.
func (d *MentionDetector) Detect(batch []models.Message) []models.Notification {
	if d.userID == "" || len(batch) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []models.Notification
	for _, m := range batch {
		if m.AuthorID == d.userID {
			continue
		}
		if _, ok := m.Mentions[d.userID]; !ok {
			continue
		}
		key := m.ThreadID + "/" + m.ID
		if _, done := d.notified[key]; done {
			continue
		}
		d.notified[key] = struct{}{}
		out = append(out, NewNotification(m, d.now()))
	}
	return out
}

// Forget drops the notified ids of a thread once nothing watches it anymore.
func (d *MentionDetector) Forget(threadID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := threadID + "/"
	for key := range d.notified {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(d.notified, key)
		}
	}
}

func NewNotification(m models.Message, now time.Time) models.Notification {
	return models.Notification{
		ThreadID:   m.ThreadID,
		MessageID:  m.ID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Text:       m.Text,
		CreatedAt:  now.UnixMilli(),
	}
}
