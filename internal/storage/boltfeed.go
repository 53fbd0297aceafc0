package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// BoltFeed implements Feed on top of a bbolt bucket keyed by full document path.
// Subscribers are woken after every committed write that touches their path.
type BoltFeed struct {
	db    *bbolt.DB
	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	lastTS int64
	subs   map[string]map[*subscription]struct{}
}

type subscription struct {
	path     string
	dirty    chan struct{}
	done     chan struct{}
	once     sync.Once
	onChange func(Snapshot)
	onError  func(error)
}

func (s *subscription) wake() {
	select {
	case s.dirty <- struct{}{}:
	default:
		// Already pending, the next read picks up the latest state.
	}
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func newBoltFeed(db *bbolt.DB) *BoltFeed {
	return &BoltFeed{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
		subs:  make(map[string]map[*subscription]struct{}),
	}
}

func (f *BoltFeed) Subscribe(ctx context.Context, path string, onChange func(Snapshot), onError func(error)) (Disposer, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	sub := &subscription{
		path:     path,
		dirty:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		onChange: onChange,
		onError:  onError,
	}
	sub.wake()

	f.mu.Lock()
	if f.subs[path] == nil {
		f.subs[path] = make(map[*subscription]struct{})
	}
	f.subs[path][sub] = struct{}{}
	f.mu.Unlock()

	dispose := func() {
		sub.once.Do(func() {
			close(sub.done)
			f.mu.Lock()
			delete(f.subs[path], sub)
			if len(f.subs[path]) == 0 {
				delete(f.subs, path)
			}
			f.mu.Unlock()
		})
	}

	go func() {
		defer dispose()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case <-sub.dirty:
			}

			snap, err := f.ReadOnce(ctx, path)
			if sub.stopped() {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if sub.onError != nil {
					sub.onError(err)
				}
				continue
			}
			if sub.onChange != nil {
				sub.onChange(snap)
			}
		}
	}()

	return dispose, nil
}

func (f *BoltFeed) Create(ctx context.Context, collection string, value Fields) (string, error) {
	if err := ValidatePath(collection); err != nil {
		return "", err
	}
	if !IsCollection(collection) {
		return "", fmt.Errorf("%w: %s is not a collection", ErrInvalidPath, collection)
	}
	id := f.newID()
	if err := f.Write(ctx, collection+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

func (f *BoltFeed) Write(ctx context.Context, path string, value Fields) error {
	if err := f.checkDocPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := f.db.Update(func(tx *bbolt.Tx) error {
		ts := f.timestamp()
		doc := make(Fields, len(value))
		for k, v := range value {
			if v == DeleteField {
				continue
			}
			doc[k] = resolve(v, ts)
		}
		return putDoc(tx, path, doc)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	f.changed(path)
	return nil
}

func (f *BoltFeed) Update(ctx context.Context, path string, partial Fields) error {
	if err := f.checkDocPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := f.db.Update(func(tx *bbolt.Tx) error {
		doc, err := getDoc(tx, path)
		if err != nil {
			return err
		}
		if doc == nil {
			doc = make(Fields)
		}
		ts := f.timestamp()
		for k, v := range partial {
			applyField(doc, strings.Split(k, "."), resolve(v, ts))
		}
		return putDoc(tx, path, doc)
	})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	f.changed(path)
	return nil
}

func (f *BoltFeed) Delete(ctx context.Context, path string) error {
	if err := f.checkDocPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := f.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).Delete([]byte(path))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	f.changed(path)
	return nil
}

func (f *BoltFeed) ReadOnce(ctx context.Context, path string) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Path: path, Docs: []Document{}}
	err := f.db.View(func(tx *bbolt.Tx) error {
		if !IsCollection(path) {
			doc, err := getDoc(tx, path)
			if err != nil {
				return err
			}
			if doc != nil {
				snap.Exists = true
				snap.Docs = append(snap.Docs, Document{ID: lastSegment(path), Path: path, Data: doc})
			}
			return nil
		}

		prefix := []byte(path + "/")
		c := tx.Bucket(bucketDocs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rest := k[len(prefix):]
			if bytes.IndexByte(rest, '/') >= 0 {
				// Document of a nested collection.
				continue
			}
			doc, err := decodeDoc(v)
			if err != nil {
				slog.Warn("skipping undecodable document", "path", string(k), "error", err)
				continue
			}
			snap.Docs = append(snap.Docs, Document{ID: string(rest), Path: string(k), Data: doc})
		}
		snap.Exists = len(snap.Docs) > 0
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return snap, nil
}

func (f *BoltFeed) checkDocPath(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if IsCollection(path) {
		return fmt.Errorf("%w: %s is not a document", ErrInvalidPath, path)
	}
	return nil
}

// timestamp hands out strictly increasing commit times.
func (f *BoltFeed) timestamp() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.now().UnixMilli()
	if ts <= f.lastTS {
		ts = f.lastTS + 1
	}
	f.lastTS = ts
	return ts
}

func (f *BoltFeed) changed(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range []string{path, Parent(path)} {
		for sub := range f.subs[p] {
			sub.wake()
		}
	}
}

func resolve(v any, ts int64) any {
	switch val := v.(type) {
	case sentinel:
		if val == ServerTimestamp {
			return ts
		}
		return nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if inner == DeleteField {
				continue
			}
			out[k] = resolve(inner, ts)
		}
		return out
	default:
		return v
	}
}

func applyField(doc map[string]any, keys []string, v any) {
	if len(keys) == 1 {
		if v == nil {
			delete(doc, keys[0])
			return
		}
		doc[keys[0]] = v
		return
	}
	child, ok := doc[keys[0]].(map[string]any)
	if !ok {
		if v == nil {
			return
		}
		child = make(map[string]any)
		doc[keys[0]] = child
	}
	applyField(child, keys[1:], v)
}

func getDoc(tx *bbolt.Tx, path string) (Fields, error) {
	data := tx.Bucket(bucketDocs).Get([]byte(path))
	if data == nil {
		return nil, nil
	}
	return decodeDoc(data)
}

func putDoc(tx *bbolt.Tx, path string, doc Fields) error {
	data, err := msgpack.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return tx.Bucket(bucketDocs).Put([]byte(path), data)
}

func decodeDoc(data []byte) (Fields, error) {
	var doc Fields
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	if doc == nil {
		doc = make(Fields)
	}
	return doc, nil
}
