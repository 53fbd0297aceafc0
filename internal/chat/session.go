package chat

import (
	"context"
	"fmt"
	"sync"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

// Handlers receive the output of a Session. They are called from subscription
// goroutines and must not block.
type Handlers struct {
	OnSnapshot     func(snap ThreadSnapshot)
	OnNotification func(n models.Notification)
	OnUnread       func(counts map[string]int)
	OnError        func(threadID string, err error)
}

// Session is the per connection context: one user, the threads it watches,
// and the detector and tracker fed by those threads.
type Session struct {
	userID   string
	sub      *Subscriber
	detector *MentionDetector
	tracker  *ReadTracker
	handlers Handlers

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]storage.Disposer
	closed bool

	// liveMu orders snapshot handling against Unwatch, so a late snapshot
	// cannot bring back a forgotten thread.
	liveMu sync.Mutex
	live   map[string]bool
}

func NewSession(ctx context.Context, feed storage.Feed, userID string, h Handlers) (*Session, error) {
	if userID == "" {
		return nil, models.ErrNotAuthenticated
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		userID:   userID,
		sub:      NewSubscriber(feed),
		detector: NewMentionDetector(userID),
		tracker:  NewReadTracker(feed, userID),
		handlers: h,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]storage.Disposer),
		live:     make(map[string]bool),
	}, nil
}

func (s *Session) UserID() string {
	return s.userID
}

// Watch starts following threadID. Watching a thread twice keeps the first
// subscription.
func (s *Session) Watch(threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("watch %s: session closed", threadID)
	}
	if _, ok := s.subs[threadID]; ok {
		return nil
	}

	if err := s.tracker.Load(s.ctx, threadID); err != nil {
		return err
	}
	s.setLive(threadID)
	dispose, err := s.sub.Subscribe(s.ctx, threadID,
		s.handleSnapshot,
		func(err error) {
			if s.handlers.OnError != nil {
				s.handlers.OnError(threadID, err)
			}
		},
	)
	if err != nil {
		s.forget(threadID)
		return err
	}
	s.subs[threadID] = dispose
	activeSubscriptions.Inc()
	return nil
}

// Unwatch stops following threadID. Unknown threads are ignored.
func (s *Session) Unwatch(threadID string) {
	s.mu.Lock()
	dispose, ok := s.subs[threadID]
	delete(s.subs, threadID)
	s.mu.Unlock()
	if !ok {
		return
	}

	dispose()
	activeSubscriptions.Dec()
	s.forget(threadID)
	s.publishUnread()
}

func (s *Session) Watching(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[threadID]
	return ok
}

func (s *Session) MarkAsRead(ctx context.Context, threadID string, messageIDs []string) (int, error) {
	n, err := s.tracker.MarkAsRead(ctx, threadID, messageIDs)
	if n > 0 {
		s.publishUnread()
	}
	return n, err
}

func (s *Session) MarkThreadRead(ctx context.Context, threadID string) (int, error) {
	n, err := s.tracker.MarkThreadRead(ctx, threadID)
	if n > 0 {
		s.publishUnread()
	}
	return n, err
}

// Unread returns the unread counts of all watched threads.
func (s *Session) Unread() map[string]int {
	return s.tracker.Counts()
}

// Close disposes every subscription. The session cannot be reused.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]storage.Disposer)
	s.mu.Unlock()

	s.liveMu.Lock()
	clear(s.live)
	s.liveMu.Unlock()

	for _, dispose := range subs {
		dispose()
		activeSubscriptions.Dec()
	}
	s.cancel()
}

func (s *Session) setLive(threadID string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.live[threadID] = true
}

func (s *Session) forget(threadID string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	delete(s.live, threadID)
	s.tracker.Forget(threadID)
	s.detector.Forget(threadID)
}

func (s *Session) handleSnapshot(snap ThreadSnapshot) {
	s.liveMu.Lock()
	if !s.live[snap.ThreadID] {
		s.liveMu.Unlock()
		return
	}
	s.tracker.Observe(snap.ThreadID, snap.Messages)
	mentions := s.detector.Detect(snap.NewArrivals)
	s.liveMu.Unlock()

	if s.handlers.OnNotification != nil {
		for _, n := range mentions {
			notificationsTotal.WithLabelValues("live").Inc()
			s.handlers.OnNotification(n)
		}
	}
	if s.handlers.OnSnapshot != nil {
		s.handlers.OnSnapshot(snap)
	}
	s.publishUnread()
}

func (s *Session) publishUnread() {
	if s.handlers.OnUnread != nil {
		s.handlers.OnUnread(s.tracker.Counts())
	}
}
