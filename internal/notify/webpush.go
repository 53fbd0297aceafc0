package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"portalchat/internal/content"
	"portalchat/internal/models"
	"portalchat/internal/storage"

	"github.com/SherClockHolmes/webpush-go"
)

const previewLength = 120

var ErrInvalidSubscription = errors.New("invalid push subscription")

type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is a mailto: or https: contact sent with every push.
	Subject string
	TTL     int
}

func (c *WebPushConfig) Validate() error {
	if c.PublicKey == "" || c.PrivateKey == "" {
		return errors.New("VAPID keys are required for web push")
	}
	if c.Subject == "" {
		return errors.New("VAPID subject is required for web push")
	}
	if c.TTL <= 0 {
		c.TTL = 3600
	}
	return nil
}

// WebPush sends notifications to the browser subscriptions a user
// registered under push/{user}/subscriptions.
type WebPush struct {
	cfg    WebPushConfig
	feed   storage.Feed
	client webpush.HTTPClient
}

func NewWebPush(cfg WebPushConfig, feed storage.Feed) (*WebPush, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WebPush{cfg: cfg, feed: feed, client: http.DefaultClient}, nil
}

// Register stores a browser subscription for userID. The id is derived from
// the endpoint, so registering the same browser twice keeps one record.
func (w *WebPush) Register(ctx context.Context, userID string, sub webpush.Subscription) error {
	if userID == "" {
		return models.ErrNotAuthenticated
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		return ErrInvalidSubscription
	}
	return w.feed.Write(ctx, w.subscriptionPath(userID, sub.Endpoint), storage.Fields{
		"endpoint":  sub.Endpoint,
		"auth":      sub.Keys.Auth,
		"p256dh":    sub.Keys.P256dh,
		"createdAt": storage.ServerTimestamp,
	})
}

func (w *WebPush) Notify(ctx context.Context, userID string, n models.Notification) error {
	snap, err := w.feed.ReadOnce(ctx, storage.PushSubscriptionsPath(userID))
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	if len(snap.Docs) == 0 {
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		Title:     n.AuthorName,
		Body:      preview(content.StripTags(n.Text)),
		ThreadID:  n.ThreadID,
		MessageID: n.MessageID,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, doc := range snap.Docs {
		sub := webpush.Subscription{
			Endpoint: fieldString(doc.Data, "endpoint"),
			Keys: webpush.Keys{
				Auth:   fieldString(doc.Data, "auth"),
				P256dh: fieldString(doc.Data, "p256dh"),
			},
		}
		if err := w.send(ctx, userID, doc.Path, payload, &sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPush) send(ctx context.Context, userID, path string, payload []byte, sub *webpush.Subscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subject,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("web push failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The browser dropped the subscription.
		slog.Info("removing expired push subscription", "user_id", userID, "status", resp.StatusCode)
		if err := w.feed.Delete(ctx, path); err != nil {
			slog.Warn("failed to remove push subscription", "user_id", userID, "error", err)
		}
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("web push rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebPush) subscriptionPath(userID, endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return storage.PushSubscriptionsPath(userID) + "/" + hex.EncodeToString(sum[:16])
}

type pushPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "…"
}

func fieldString(data storage.Fields, key string) string {
	s, _ := data[key].(string)
	return s
}
