package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

func TestToggleReactors(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		start := map[string][]string{"🎉": {"carol"}}

		added, ok := ToggleReactors(start, "👍", "alice")
		require.True(t, ok)
		require.Equal(t, []string{"alice"}, added["👍"])

		removed, ok := ToggleReactors(added, "👍", "alice")
		require.False(t, ok)
		require.Equal(t, start, removed)
		_, present := removed["👍"]
		require.False(t, present, "empty reactor list must remove the key")
	})

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		in := map[string][]string{"👍": {"alice", "bob"}}
		out, _ := ToggleReactors(in, "👍", "alice")
		require.Equal(t, []string{"bob"}, out["👍"])
		require.Equal(t, []string{"alice", "bob"}, in["👍"])
	})

	t.Run("NilMap", func(t *testing.T) {
		out, added := ToggleReactors(nil, "👍", "alice")
		require.True(t, added)
		require.Equal(t, map[string][]string{"👍": {"alice"}}, out)
	})
}

func TestServiceToggleReaction(t *testing.T) {
	ctx := context.Background()
	feed := newMemFeed()
	svc := NewService(feed)
	feed.put(storage.MessagePath("t1", "m2"), msgDoc("bob", 1000, storage.Fields{
		"reactions": map[string]any{"🎉": "carol"},
	}))

	reactions := func() map[string]any {
		snap, err := feed.ReadOnce(ctx, storage.MessagePath("t1", "m2"))
		require.NoError(t, err)
		m, _ := snap.Docs[0].Data["reactions"].(map[string]any)
		return m
	}

	added, err := svc.ToggleReaction(ctx, "t1", "m2", "👍", "alice")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, []string{"alice"}, reactions()["👍"])

	added, err = svc.ToggleReaction(ctx, "t1", "m2", "👍", "alice")
	require.NoError(t, err)
	require.False(t, added)
	_, present := reactions()["👍"]
	require.False(t, present)
	require.Equal(t, "carol", reactions()["🎉"], "other emojis stay untouched")

	// Legacy single-string reactor list.
	added, err = svc.ToggleReaction(ctx, "t1", "m2", "🎉", "carol")
	require.NoError(t, err)
	require.False(t, added)
	require.Empty(t, reactions())

	t.Run("Errors", func(t *testing.T) {
		_, err := svc.ToggleReaction(ctx, "t1", "missing", "👍", "alice")
		require.ErrorIs(t, err, models.ErrNotFound)

		_, err = svc.ToggleReaction(ctx, "t1", "m2", "👍", "")
		require.ErrorIs(t, err, models.ErrNotAuthenticated)

		_, err = svc.ToggleReaction(ctx, "t1", "m2", "a.b", "alice")
		require.ErrorIs(t, err, ErrInvalidReaction)

		feed.failWrites = errBoom
		defer func() { feed.failWrites = nil }()
		_, err = svc.ToggleReaction(ctx, "t1", "m2", "👍", "alice")
		require.ErrorIs(t, err, errBoom)
	})
}
