package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Fields is the loosely typed body of a document. Values are whatever the
// backing store hands back; callers decode them defensively.
type Fields = map[string]any

// Document is a single record of a collection.
type Document struct {
	ID   string
	Path string
	Data Fields
}

// Snapshot is the complete current value at a path.
// For a document path Docs holds at most one element.
type Snapshot struct {
	Path   string
	Exists bool
	Docs   []Document
}

// Disposer stops a subscription. It is safe to call more than once.
type Disposer func()

// Feed is a document store with a change feed. Paths are slash separated;
// an odd number of segments addresses a collection, an even number a document.
type Feed interface {
	// Subscribe calls onChange with the full value at path now and after every
	// change. Deliveries for one subscription never overlap, but intermediate
	// states may be coalesced.
	Subscribe(ctx context.Context, path string, onChange func(Snapshot), onError func(error)) (Disposer, error)

	// Create adds a document with a store-assigned id to collection.
	Create(ctx context.Context, collection string, value Fields) (string, error)

	// Write replaces the document at path.
	Write(ctx context.Context, path string, value Fields) error

	// Update merges partial into the document at path, creating it if needed.
	// Dotted keys address nested maps; DeleteField removes a key.
	Update(ctx context.Context, path string, partial Fields) error

	Delete(ctx context.Context, path string) error

	ReadOnce(ctx context.Context, path string) (Snapshot, error)
}

type sentinel string

var (
	// ServerTimestamp is replaced with the commit time (Unix milliseconds) by the store.
	ServerTimestamp any = sentinel("server-timestamp")
	// DeleteField removes the key it is assigned to in Update.
	DeleteField any = sentinel("delete-field")
)

var ErrInvalidPath = errors.New("invalid path")

// IsCollection reports whether path addresses a collection.
func IsCollection(path string) bool {
	return len(strings.Split(path, "/"))%2 == 1
}

// ValidatePath rejects empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// Parent returns the collection holding a document path.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func ThreadPath(threadID string) string {
	return "threads/" + threadID
}

func MessagesPath(threadID string) string {
	return "threads/" + threadID + "/messages"
}

func MessagePath(threadID, messageID string) string {
	return MessagesPath(threadID) + "/" + messageID
}

func PresencePath(userID string) string {
	return "presence/" + userID
}

func ReadStatePath(userID, threadID string) string {
	return "reads/" + userID + "/threads/" + threadID
}

func PushSubscriptionsPath(userID string) string {
	return "push/" + userID + "/subscriptions"
}
