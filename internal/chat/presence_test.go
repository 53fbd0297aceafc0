package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

func TestPresenceReporter(t *testing.T) {
	ctx := context.Background()
	feed := newMemFeed()
	p := NewPresenceReporter(feed)

	var seen []models.Presence
	dispose, err := p.Watch(ctx, func(pr models.Presence) { seen = append(seen, pr) })
	require.NoError(t, err)
	defer dispose()

	require.NoError(t, p.Online(ctx, "alice"))
	snap, err := feed.ReadOnce(ctx, storage.PresencePath("alice"))
	require.NoError(t, err)
	require.Equal(t, "online", snap.Docs[0].Data["status"])

	require.NoError(t, p.Online(ctx, "bob"))
	require.NoError(t, p.Offline(ctx, "alice"))

	require.Len(t, seen, 3, "unchanged users are not reported again")
	require.Equal(t, models.PresenceOffline, seen[2].Status)
	require.Equal(t, "alice", seen[2].UserID)

	require.ErrorIs(t, p.Online(ctx, ""), models.ErrNotAuthenticated)

	feed.failWrites = errBoom
	require.ErrorIs(t, p.Offline(ctx, "bob"), errBoom)
}

func TestDecodePresence(t *testing.T) {
	pr := DecodePresence("u1", storage.Fields{"status": "away", "lastSeen": int64(10)})
	require.Equal(t, models.PresenceOffline, pr.Status)
	require.Equal(t, int64(10), pr.LastSeen)
}
