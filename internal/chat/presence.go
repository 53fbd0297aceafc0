package chat

import (
	"context"
	"log/slog"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

// PresenceReporter publishes online/offline status. Presence is a soft
// signal: writes are best effort and nothing relies on them for correctness.
type PresenceReporter struct {
	feed storage.Feed
}

func NewPresenceReporter(feed storage.Feed) *PresenceReporter {
	return &PresenceReporter{feed: feed}
}

func (p *PresenceReporter) Online(ctx context.Context, userID string) error {
	return p.report(ctx, userID, models.PresenceOnline)
}

// Offline is called on logout and on disconnect. Failing here is expected
// when the connection died abruptly.
func (p *PresenceReporter) Offline(ctx context.Context, userID string) error {
	return p.report(ctx, userID, models.PresenceOffline)
}

func (p *PresenceReporter) report(ctx context.Context, userID string, status models.PresenceStatus) error {
	if userID == "" {
		return models.ErrNotAuthenticated
	}
	err := p.feed.Write(ctx, storage.PresencePath(userID), storage.Fields{
		"status":   string(status),
		"lastSeen": storage.ServerTimestamp,
	})
	if err != nil {
		presenceWrites.WithLabelValues(string(status), "error").Inc()
		slog.Warn("presence write failed", "user_id", userID, "status", status, "error", err)
		return err
	}
	presenceWrites.WithLabelValues(string(status), "ok").Inc()
	return nil
}

// Watch calls fn for every user whose presence changed since the previous
// snapshot of the presence collection.
func (p *PresenceReporter) Watch(ctx context.Context, fn func(models.Presence)) (storage.Disposer, error) {
	last := make(map[string]models.Presence)
	return p.feed.Subscribe(ctx, "presence",
		func(snap storage.Snapshot) {
			for _, doc := range snap.Docs {
				pr := DecodePresence(doc.ID, doc.Data)
				if prev, ok := last[doc.ID]; ok && prev == pr {
					continue
				}
				last[doc.ID] = pr
				fn(pr)
			}
		},
		func(err error) {
			slog.Warn("presence subscription failed", "error", err)
		},
	)
}

// DecodePresence treats anything but an explicit "online" as offline.
func DecodePresence(userID string, data storage.Fields) models.Presence {
	pr := models.Presence{UserID: userID, Status: models.PresenceOffline}
	if s, _ := data["status"].(string); models.PresenceStatus(s) == models.PresenceOnline {
		pr.Status = models.PresenceOnline
	}
	if ts, ok := toMillis(data["lastSeen"]); ok {
		pr.LastSeen = ts
	}
	return pr
}
