package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

func TestMentionDetector(t *testing.T) {
	mention := func(id, author string, mentioned ...string) models.Message {
		m := models.Message{ID: id, ThreadID: "t1", AuthorID: author, AuthorName: author, Mentions: map[string]string{}}
		for _, u := range mentioned {
			m.Mentions[u] = u
		}
		return m
	}

	t.Run("NotifiesOncePerMessage", func(t *testing.T) {
		d := NewMentionDetector("bob")
		batch := []models.Message{mention("m1", "alice", "bob")}

		got := d.Detect(batch)
		require.Len(t, got, 1)
		require.Equal(t, "m1", got[0].MessageID)
		require.Equal(t, "alice", got[0].AuthorID)

		require.Empty(t, d.Detect(batch), "same message must not notify twice")
	})

	t.Run("SelfMention", func(t *testing.T) {
		d := NewMentionDetector("alice")
		require.Empty(t, d.Detect([]models.Message{mention("m1", "alice", "alice")}))
	})

	t.Run("NotMentioned", func(t *testing.T) {
		d := NewMentionDetector("carol")
		require.Empty(t, d.Detect([]models.Message{mention("m1", "alice", "bob")}))
	})

	t.Run("AnonymousDetector", func(t *testing.T) {
		d := NewMentionDetector("")
		require.Empty(t, d.Detect([]models.Message{mention("m1", "alice", "")}))
	})

	t.Run("ForgetAllowsRenotify", func(t *testing.T) {
		d := NewMentionDetector("bob")
		batch := []models.Message{mention("m1", "alice", "bob")}
		require.Len(t, d.Detect(batch), 1)
		d.Forget("t1")
		require.Len(t, d.Detect(batch), 1)
	})
}

// Alice sends "hi @bob" into a thread both watch: bob is notified exactly
// once, alice never.
func TestMentionScenario(t *testing.T) {
	ctx := context.Background()
	feed := newMemFeed()

	watch := func(userID string) *[]models.Notification {
		var got []models.Notification
		d := NewMentionDetector(userID)
		_, err := NewSubscriber(feed).Subscribe(ctx, "t1", func(s ThreadSnapshot) {
			got = append(got, d.Detect(s.NewArrivals)...)
		}, nil)
		require.NoError(t, err)
		return &got
	}
	alice := watch("alice")
	bob := watch("bob")

	_, err := NewService(feed).Send(ctx, SendRequest{
		ThreadID:   "t1",
		AuthorID:   "alice",
		AuthorName: "Alice",
		Text:       "hi @bob",
		Mentions:   map[string]string{"bob": "Bob"},
	})
	require.NoError(t, err)
	feed.redeliver(storage.MessagesPath("t1"))

	require.Len(t, *bob, 1)
	require.Equal(t, "hi @bob", (*bob)[0].Text)
	require.Empty(t, *alice)
}
