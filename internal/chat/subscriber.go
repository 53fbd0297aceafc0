package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

// ThreadSnapshot is the reconciled state of a thread after one change.
type ThreadSnapshot struct {
	ThreadID string
	// Messages is the complete list ordered by SentAt ascending.
	Messages []models.Message
	// NewArrivals holds messages not present in any earlier snapshot of
	// the same subscription.
	NewArrivals []models.Message
	// Initial marks the first snapshot of a subscription. It primes the
	// seen set, so history is never reported as new.
	Initial bool
}

// Subscriber maintains live ordered views of thread messages.
type Subscriber struct {
	feed storage.Feed
	now  func() time.Time
}

func NewSubscriber(feed storage.Feed) *Subscriber {
	return &Subscriber{feed: feed, now: time.Now}
}

// ValidateThreadID rejects ids that cannot be used as a path segment.
func ValidateThreadID(threadID string) error {
	if threadID == "" || strings.ContainsAny(threadID, "/.") {
		return fmt.Errorf("%w: %q", models.ErrInvalidThread, threadID)
	}
	return nil
}

// Subscribe starts a live view of threadID. onSnapshot receives the complete
// ordered message list after every change. Subscription errors go to onError
// and are followed by an empty snapshot so stale data is not kept on screen.
// Nothing is retried; the caller decides. The returned Disposer must be called
// when the view is no longer needed.
func (s *Subscriber) Subscribe(ctx context.Context, threadID string, onSnapshot func(ThreadSnapshot), onError func(error)) (storage.Disposer, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if err := ensureThread(ctx, s.feed, threadID); err != nil {
		return nil, err
	}

	r := newReconciler(threadID, s.now)
	return s.feed.Subscribe(ctx, storage.MessagesPath(threadID),
		func(snap storage.Snapshot) {
			onSnapshot(r.apply(snap))
		},
		func(err error) {
			subscriptionErrors.Inc()
			if onError != nil {
				onError(err)
			}
			onSnapshot(ThreadSnapshot{ThreadID: threadID, Messages: []models.Message{}})
		},
	)
}

// ensureThread writes an empty placeholder the first time a thread is used,
// so "no such thread" can be told apart from "not loaded yet".
func ensureThread(ctx context.Context, feed storage.Feed, threadID string) error {
	path := storage.ThreadPath(threadID)
	snap, err := feed.ReadOnce(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}
	if snap.Exists {
		return nil
	}
	if err := feed.Write(ctx, path, storage.Fields{"createdAt": storage.ServerTimestamp}); err != nil {
		return fmt.Errorf("failed to initialize thread %s: %w", threadID, err)
	}
	return nil
}

// reconciler turns raw snapshots of one subscription into ThreadSnapshots.
type reconciler struct {
	threadID string
	now      func() time.Time

	mu     sync.Mutex
	primed bool
	// seen maps every observed message id to the SentAt it was first
	// published with.
	seen map[string]int64
}

func newReconciler(threadID string, now func() time.Time) *reconciler {
	return &reconciler{
		threadID: threadID,
		now:      now,
		seen:     make(map[string]int64),
	}
}

func (r *reconciler) apply(snap storage.Snapshot) ThreadSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshotsTotal.Inc()
	now := r.now()
	messages := make([]models.Message, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		d := DecodeMessage(r.threadID, doc, now)
		if d.SentAtDefaulted {
			// The fallback must not reorder a message already shown.
			if prev, ok := r.seen[doc.ID]; ok {
				d.Message.SentAt = prev
			}
		}
		if !d.Valid() {
			decodeWarnings.Add(float64(len(d.Warnings)))
			slog.Warn("default-filled malformed message",
				"thread_id", r.threadID,
				"message_id", doc.ID,
				"warnings", fmt.Sprint(d.Warnings),
			)
		}
		messages = append(messages, d.Message)
	}

	SortMessages(messages)

	out := ThreadSnapshot{
		ThreadID: r.threadID,
		Messages: messages,
		Initial:  !r.primed,
	}
	for _, m := range messages {
		if _, ok := r.seen[m.ID]; ok {
			continue
		}
		r.seen[m.ID] = m.SentAt
		if r.primed {
			out.NewArrivals = append(out.NewArrivals, m)
		}
	}
	r.primed = true
	return out
}

// SortMessages orders by SentAt, then by id so equal timestamps are stable
// across snapshots.
func SortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SentAt != messages[j].SentAt {
			return messages[i].SentAt < messages[j].SentAt
		}
		return messages[i].ID < messages[j].ID
	})
}
