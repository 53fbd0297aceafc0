package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

// ReadTracker keeps unread counts for one user. Counts are always recomputed
// from the last observed message list and the read state, never adjusted by
// deltas.
type ReadTracker struct {
	feed   storage.Feed
	userID string

	mu      sync.Mutex
	threads map[string]*threadReads
}

type threadReads struct {
	messages []models.Message
	byID     map[string]int
	state    models.ReadState
	unread   int
}

func NewReadTracker(feed storage.Feed, userID string) *ReadTracker {
	return &ReadTracker{
		feed:    feed,
		userID:  userID,
		threads: make(map[string]*threadReads),
	}
}

func (rt *ReadTracker) thread(threadID string) *threadReads {
	t, ok := rt.threads[threadID]
	if !ok {
		t = &threadReads{
			byID: map[string]int{},
			state: models.ReadState{
				UserID:   rt.userID,
				ThreadID: threadID,
				ReadIDs:  map[string]bool{},
			},
		}
		rt.threads[threadID] = t
	}
	return t
}

// Load merges the persisted read state of threadID into the tracker.
func (rt *ReadTracker) Load(ctx context.Context, threadID string) error {
	if rt.userID == "" {
		return models.ErrNotAuthenticated
	}
	snap, err := rt.feed.ReadOnce(ctx, storage.ReadStatePath(rt.userID, threadID))
	if err != nil {
		return fmt.Errorf("failed to load read state: %w", err)
	}
	if !snap.Exists {
		return nil
	}
	stored := DecodeReadState(rt.userID, threadID, snap.Docs[0].Data)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	t := rt.thread(threadID)
	t.state = mergeReadState(t.state, stored)
	t.recount(rt.userID)
	return nil
}

// Observe replaces the message list of threadID and returns its unread count.
func (rt *ReadTracker) Observe(threadID string, messages []models.Message) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	t := rt.thread(threadID)
	t.messages = append(t.messages[:0], messages...)
	SortMessages(t.messages)
	t.byID = make(map[string]int, len(t.messages))
	for i, m := range t.messages {
		t.byID[m.ID] = i
	}
	t.recount(rt.userID)
	return t.unread
}

func (rt *ReadTracker) UnreadCount(threadID string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if t, ok := rt.threads[threadID]; ok {
		return t.unread
	}
	return 0
}

// Counts returns the unread count of every tracked thread.
func (rt *ReadTracker) Counts() map[string]int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make(map[string]int, len(rt.threads))
	for id, t := range rt.threads {
		out[id] = t.unread
	}
	return out
}

func (rt *ReadTracker) Total() int {
	total := 0
	for _, n := range rt.Counts() {
		total += n
	}
	return total
}

// Forget stops tracking threadID.
func (rt *ReadTracker) Forget(threadID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.threads, threadID)
}

// MarkAsRead marks the given messages read and returns how many actually
// went from unread to read. Ids that are unknown or already read are ignored,
// so repeating the call has no further effect.
func (rt *ReadTracker) MarkAsRead(ctx context.Context, threadID string, messageIDs []string) (int, error) {
	return rt.mark(ctx, threadID, func(t *threadReads) []string {
		var ids []string
		for _, id := range messageIDs {
			if i, ok := t.byID[id]; ok && isUnread(t.messages[i], rt.userID, t.state) {
				ids = append(ids, id)
			}
		}
		return ids
	})
}

// MarkThreadRead marks every observed message of threadID read.
func (rt *ReadTracker) MarkThreadRead(ctx context.Context, threadID string) (int, error) {
	return rt.mark(ctx, threadID, func(t *threadReads) []string {
		var ids []string
		for _, m := range t.messages {
			if isUnread(m, rt.userID, t.state) {
				ids = append(ids, m.ID)
			}
		}
		return ids
	})
}

func (rt *ReadTracker) mark(ctx context.Context, threadID string, pick func(t *threadReads) []string) (int, error) {
	if rt.userID == "" {
		return 0, models.ErrNotAuthenticated
	}
	if err := ValidateThreadID(threadID); err != nil {
		return 0, err
	}

	rt.mu.Lock()
	t, ok := rt.threads[threadID]
	if !ok {
		// Nothing observed, nothing to mark.
		rt.mu.Unlock()
		return 0, nil
	}
	ids := pick(t)
	if len(ids) == 0 {
		rt.mu.Unlock()
		return 0, nil
	}
	next := copyReadState(t.state)
	for _, id := range ids {
		next.ReadIDs[id] = true
	}
	next = compact(next, t.messages, rt.userID)
	rt.mu.Unlock()

	// The write is not optimistic: local state only changes once it succeeded.
	stored, err := rt.persist(ctx, next)
	if err != nil {
		return 0, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	t, ok = rt.threads[threadID]
	if !ok {
		// Forgotten while the write was in flight.
		return 0, nil
	}
	before := t.unread
	t.state = compact(mergeReadState(t.state, stored), t.messages, rt.userID)
	t.recount(rt.userID)
	if n := before - t.unread; n > 0 {
		return n, nil
	}
	return 0, nil
}

// persist writes st merged with the stored state and returns what was written.
func (rt *ReadTracker) persist(ctx context.Context, st models.ReadState) (models.ReadState, error) {
	path := storage.ReadStatePath(rt.userID, st.ThreadID)

	// Merge with what other devices of the same user stored, so the
	// watermark never moves backwards.
	snap, err := rt.feed.ReadOnce(ctx, path)
	if err != nil {
		return st, fmt.Errorf("failed to read read state: %w", err)
	}
	if snap.Exists {
		st = mergeReadState(DecodeReadState(rt.userID, st.ThreadID, snap.Docs[0].Data), st)
	}

	ids := make([]string, 0, len(st.ReadIDs))
	for id := range st.ReadIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err = rt.feed.Write(ctx, path, storage.Fields{
		"watermark": st.Watermark,
		"readIds":   ids,
		"updatedAt": storage.ServerTimestamp,
	})
	if err != nil {
		return st, fmt.Errorf("failed to store read state: %w", err)
	}
	return st, nil
}

func (t *threadReads) recount(userID string) {
	n := 0
	for _, m := range t.messages {
		if isUnread(m, userID, t.state) {
			n++
		}
	}
	t.unread = n
}

func isUnread(m models.Message, userID string, st models.ReadState) bool {
	if !m.IncomingFor(userID) || m.Read {
		return false
	}
	if st.ReadIDs[m.ID] {
		return false
	}
	// An estimated SentAt changes between sessions, only its id is stable.
	return m.SentAtEstimated || m.SentAt > st.Watermark
}

// compact advances the watermark over the longest prefix of messages in which
// nothing is unread, then drops read ids the watermark now covers. Messages
// with an estimated SentAt neither move nor stop the watermark and keep their
// id. messages must be sorted by SentAt.
func compact(st models.ReadState, messages []models.Message, userID string) models.ReadState {
	stamped := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if !m.SentAtEstimated {
			stamped = append(stamped, m)
		}
	}
	messages = stamped

	w := st.Watermark
	for i := 0; i < len(messages); {
		sentAt := messages[i].SentAt
		allRead := true
		j := i
		for ; j < len(messages) && messages[j].SentAt == sentAt; j++ {
			if isUnread(messages[j], userID, st) {
				allRead = false
			}
		}
		if sentAt > w {
			if !allRead {
				break
			}
			w = sentAt
		}
		i = j
	}
	st.Watermark = w

	for _, m := range messages {
		if m.SentAt <= st.Watermark {
			delete(st.ReadIDs, m.ID)
		}
	}
	return st
}

func mergeReadState(a, b models.ReadState) models.ReadState {
	out := copyReadState(a)
	if b.Watermark > out.Watermark {
		out.Watermark = b.Watermark
	}
	for id := range b.ReadIDs {
		out.ReadIDs[id] = true
	}
	return out
}

func copyReadState(st models.ReadState) models.ReadState {
	ids := make(map[string]bool, len(st.ReadIDs))
	for id, ok := range st.ReadIDs {
		if ok {
			ids[id] = true
		}
	}
	st.ReadIDs = ids
	return st
}

// DecodeReadState reads a stored read state, ignoring malformed fields.
func DecodeReadState(userID, threadID string, data storage.Fields) models.ReadState {
	st := models.ReadState{UserID: userID, ThreadID: threadID, ReadIDs: map[string]bool{}}
	if w, ok := toMillis(data["watermark"]); ok {
		st.Watermark = w
	}
	ids, _ := stringList(data["readIds"])
	for _, id := range ids {
		st.ReadIDs[id] = true
	}
	return st
}
