package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

func newSubscription(t *testing.T, endpoint string) webpush.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			Auth:   base64.RawURLEncoding.EncodeToString(secret),
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		},
	}
}

func newWebPush(t *testing.T) (*WebPush, storage.Feed) {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	wp, err := NewWebPush(WebPushConfig{
		PublicKey:  public,
		PrivateKey: private,
		Subject:    "mailto:ops@example.com",
	}, store.Feed())
	require.NoError(t, err)
	return wp, store.Feed()
}

func TestWebPush(t *testing.T) {
	ctx := context.Background()
	n := models.Notification{ThreadID: "t1", MessageID: "m1", AuthorName: "Alice", Text: "hi <b>@bob</b>"}

	t.Run("Delivers", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			if r.Header.Get("Content-Encoding") != "aes128gcm" {
				t.Errorf("unexpected encoding %q", r.Header.Get("Content-Encoding"))
			}
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		wp, _ := newWebPush(t)
		sub := newSubscription(t, srv.URL+"/push/1")
		require.NoError(t, wp.Register(ctx, "bob", sub))
		require.NoError(t, wp.Register(ctx, "bob", sub), "re-registering keeps one record")

		require.NoError(t, wp.Notify(ctx, "bob", n))
		require.Equal(t, int32(1), hits.Load())

		require.NoError(t, wp.Notify(ctx, "carol", n), "no subscriptions is not an error")
	})

	t.Run("DropsGoneSubscriptions", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer srv.Close()

		wp, feed := newWebPush(t)
		require.NoError(t, wp.Register(ctx, "bob", newSubscription(t, srv.URL)))
		require.NoError(t, wp.Notify(ctx, "bob", n))

		snap, err := feed.ReadOnce(ctx, storage.PushSubscriptionsPath("bob"))
		require.NoError(t, err)
		require.Empty(t, snap.Docs)
	})

	t.Run("ReportsRejections", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		wp, _ := newWebPush(t)
		require.NoError(t, wp.Register(ctx, "bob", newSubscription(t, srv.URL)))
		require.Error(t, wp.Notify(ctx, "bob", n))
	})

	t.Run("Register", func(t *testing.T) {
		wp, _ := newWebPush(t)
		require.ErrorIs(t, wp.Register(ctx, "", newSubscription(t, "https://x")), models.ErrNotAuthenticated)
		require.ErrorIs(t, wp.Register(ctx, "bob", webpush.Subscription{Endpoint: "https://x"}), ErrInvalidSubscription)
	})
}

func TestWebPushConfig(t *testing.T) {
	cfg := WebPushConfig{PublicKey: "a", PrivateKey: "b"}
	require.Error(t, cfg.Validate())
	cfg.Subject = "mailto:ops@example.com"
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3600, cfg.TTL)
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, string, models.Notification) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	errA := errors.New("a")
	ok, failing := &stubNotifier{}, &stubNotifier{err: errA}
	err := Multi{failing, ok}.Notify(context.Background(), "bob", models.Notification{})
	require.ErrorIs(t, err, errA)
	require.Equal(t, 1, ok.calls, "a failing notifier does not stop the others")
	require.NoError(t, Multi{ok}.Notify(context.Background(), "bob", models.Notification{}))
}

func TestPreview(t *testing.T) {
	long := make([]rune, previewLength+10)
	for i := range long {
		long[i] = 'я'
	}
	got := []rune(preview(string(long)))
	require.Len(t, got, previewLength+1)
	require.Equal(t, "short", preview("short"))
}
