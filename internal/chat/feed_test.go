package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"portalchat/internal/storage"
)

// memFeed is a synchronous in-memory storage.Feed. Subscribers are called
// inline on Subscribe and after every write, which keeps tests deterministic.
type memFeed struct {
	mu     sync.Mutex
	docs   map[string]storage.Fields
	subs   map[string]map[int]*memSub
	nextID int
	ts     int64

	// failWrites makes every write return the error.
	failWrites error
	writes     int
}

type memSub struct {
	onChange func(storage.Snapshot)
	onError  func(error)
}

func newMemFeed() *memFeed {
	return &memFeed{
		docs: make(map[string]storage.Fields),
		subs: make(map[string]map[int]*memSub),
		ts:   1700000000000,
	}
}

func (f *memFeed) Subscribe(ctx context.Context, path string, onChange func(storage.Snapshot), onError func(error)) (storage.Disposer, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[path] == nil {
		f.subs[path] = make(map[int]*memSub)
	}
	f.subs[path][id] = &memSub{onChange: onChange, onError: onError}
	f.mu.Unlock()

	snap, _ := f.ReadOnce(ctx, path)
	onChange(snap)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[path], id)
	}, nil
}

func (f *memFeed) Create(ctx context.Context, collection string, value storage.Fields) (string, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("msg%03d", f.nextID)
	f.mu.Unlock()
	return id, f.Write(ctx, collection+"/"+id, value)
}

func (f *memFeed) Write(_ context.Context, path string, value storage.Fields) error {
	f.mu.Lock()
	if f.failWrites != nil {
		f.mu.Unlock()
		return f.failWrites
	}
	f.writes++
	f.ts++
	doc := storage.Fields{}
	for k, v := range value {
		if v == storage.DeleteField {
			continue
		}
		if v == storage.ServerTimestamp {
			v = f.ts
		}
		doc[k] = v
	}
	f.docs[path] = doc
	f.mu.Unlock()
	f.notify(path)
	return nil
}

func (f *memFeed) Update(_ context.Context, path string, partial storage.Fields) error {
	f.mu.Lock()
	if f.failWrites != nil {
		f.mu.Unlock()
		return f.failWrites
	}
	f.writes++
	f.ts++
	doc := f.docs[path]
	if doc == nil {
		doc = storage.Fields{}
		f.docs[path] = doc
	}
	for k, v := range partial {
		keys := strings.Split(k, ".")
		target := doc
		for _, key := range keys[:len(keys)-1] {
			child, ok := target[key].(map[string]any)
			if !ok {
				child = map[string]any{}
				target[key] = child
			}
			target = child
		}
		last := keys[len(keys)-1]
		switch v {
		case storage.DeleteField:
			delete(target, last)
		case storage.ServerTimestamp:
			target[last] = f.ts
		default:
			target[last] = v
		}
	}
	f.mu.Unlock()
	f.notify(path)
	return nil
}

func (f *memFeed) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	delete(f.docs, path)
	f.mu.Unlock()
	f.notify(path)
	return nil
}

func (f *memFeed) ReadOnce(_ context.Context, path string) (storage.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := storage.Snapshot{Path: path, Docs: []storage.Document{}}
	if !storage.IsCollection(path) {
		if doc, ok := f.docs[path]; ok {
			snap.Exists = true
			snap.Docs = append(snap.Docs, storage.Document{ID: path[strings.LastIndex(path, "/")+1:], Path: path, Data: doc})
		}
		return snap, nil
	}

	prefix := path + "/"
	var keys []string
	for k := range f.docs {
		if strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], "/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Docs = append(snap.Docs, storage.Document{ID: k[len(prefix):], Path: k, Data: f.docs[k]})
	}
	snap.Exists = len(snap.Docs) > 0
	return snap, nil
}

// put stores a raw document without resolving sentinels.
func (f *memFeed) put(path string, doc storage.Fields) {
	f.mu.Lock()
	f.docs[path] = doc
	f.mu.Unlock()
	f.notify(path)
}

// fail reports err to every subscriber of path.
func (f *memFeed) fail(path string, err error) {
	for _, s := range f.subscribers(path) {
		s.onError(err)
	}
}

// redeliver sends the current value of path again without a change.
func (f *memFeed) redeliver(path string) {
	f.notifyPath(path)
}

func (f *memFeed) subscriberCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[path])
}

func (f *memFeed) subscribers(path string) []*memSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*memSub, 0, len(f.subs[path]))
	for _, s := range f.subs[path] {
		out = append(out, s)
	}
	return out
}

func (f *memFeed) notify(path string) {
	f.notifyPath(path)
	f.notifyPath(storage.Parent(path))
}

func (f *memFeed) notifyPath(path string) {
	subs := f.subscribers(path)
	if len(subs) == 0 {
		return
	}
	snap, _ := f.ReadOnce(context.Background(), path)
	for _, s := range subs {
		s.onChange(snap)
	}
}

var errBoom = errors.New("boom")
