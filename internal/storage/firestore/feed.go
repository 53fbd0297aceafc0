// Package firestore implements storage.Feed on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"portalchat/internal/storage"
)

type Feed struct {
	client *firestore.Client
}

// NewFeed creates a Firestore backed feed for projectID (GCP_PROJECT).
func NewFeed(ctx context.Context, projectID string) (*Feed, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore feed")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &Feed{client: client}, nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}

func (f *Feed) Subscribe(ctx context.Context, path string, onChange func(storage.Snapshot), onError func(error)) (storage.Disposer, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	dispose := func() { once.Do(cancel) }

	var next func() (storage.Snapshot, error)
	if storage.IsCollection(path) {
		next = f.collectionSnapshots(ctx, path)
	} else {
		next = f.documentSnapshots(ctx, path)
	}

	go func() {
		defer dispose()
		for {
			snap, err := next()
			if ctx.Err() != nil || errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("firestore subscription %s: %w", path, err))
				}
				// A failed listener cannot be resumed.
				return
			}
			onChange(snap)
		}
	}()

	return dispose, nil
}

func (f *Feed) collectionSnapshots(ctx context.Context, path string) func() (storage.Snapshot, error) {
	it := f.client.Collection(path).Snapshots(ctx)
	go func() {
		<-ctx.Done()
		it.Stop()
	}()
	return func() (storage.Snapshot, error) {
		qs, err := it.Next()
		if err != nil {
			return storage.Snapshot{}, err
		}
		docs, err := qs.Documents.GetAll()
		if err != nil {
			return storage.Snapshot{}, err
		}
		return collectionSnapshot(path, docs), nil
	}
}

func (f *Feed) documentSnapshots(ctx context.Context, path string) func() (storage.Snapshot, error) {
	it := f.client.Doc(path).Snapshots(ctx)
	go func() {
		<-ctx.Done()
		it.Stop()
	}()
	return func() (storage.Snapshot, error) {
		ds, err := it.Next()
		if err != nil && status.Code(err) != codes.NotFound {
			return storage.Snapshot{}, err
		}
		return documentSnapshot(path, ds), nil
	}
}

func (f *Feed) Create(ctx context.Context, collection string, value storage.Fields) (string, error) {
	if err := storage.ValidatePath(collection); err != nil {
		return "", err
	}
	ref, _, err := f.client.Collection(collection).Add(ctx, toFirestore(value, false))
	if err != nil {
		return "", fmt.Errorf("firestore Create %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (f *Feed) Write(ctx context.Context, path string, value storage.Fields) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if _, err := f.client.Doc(path).Set(ctx, toFirestore(value, false)); err != nil {
		return fmt.Errorf("firestore Write %s: %w", path, err)
	}
	return nil
}

// Update is a merging Set, so missing documents get created like in the
// bolt feed. Dotted keys become nested field paths.
func (f *Feed) Update(ctx context.Context, path string, partial storage.Fields) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if len(partial) == 0 {
		return nil
	}

	data := make(map[string]any)
	paths := make([]firestore.FieldPath, 0, len(partial))
	for key, v := range partial {
		fp := firestore.FieldPath(strings.Split(key, "."))
		paths = append(paths, fp)
		setNested(data, fp, convert(v, true))
	}
	if _, err := f.client.Doc(path).Set(ctx, data, firestore.Merge(paths...)); err != nil {
		return fmt.Errorf("firestore Update %s: %w", path, err)
	}
	return nil
}

func (f *Feed) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if _, err := f.client.Doc(path).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore Delete %s: %w", path, err)
	}
	return nil
}

func (f *Feed) ReadOnce(ctx context.Context, path string) (storage.Snapshot, error) {
	if err := storage.ValidatePath(path); err != nil {
		return storage.Snapshot{}, err
	}
	if storage.IsCollection(path) {
		docs, err := f.client.Collection(path).Documents(ctx).GetAll()
		if err != nil {
			return storage.Snapshot{}, fmt.Errorf("firestore ReadOnce %s: %w", path, err)
		}
		return collectionSnapshot(path, docs), nil
	}

	ds, err := f.client.Doc(path).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return storage.Snapshot{}, fmt.Errorf("firestore ReadOnce %s: %w", path, err)
	}
	return documentSnapshot(path, ds), nil
}

func collectionSnapshot(path string, docs []*firestore.DocumentSnapshot) storage.Snapshot {
	snap := storage.Snapshot{Path: path, Docs: make([]storage.Document, 0, len(docs))}
	for _, ds := range docs {
		if ds == nil || !ds.Exists() {
			continue
		}
		snap.Docs = append(snap.Docs, storage.Document{
			ID:   ds.Ref.ID,
			Path: path + "/" + ds.Ref.ID,
			Data: ds.Data(),
		})
	}
	snap.Exists = len(snap.Docs) > 0
	return snap
}

func documentSnapshot(path string, ds *firestore.DocumentSnapshot) storage.Snapshot {
	snap := storage.Snapshot{Path: path, Docs: []storage.Document{}}
	if ds == nil || !ds.Exists() {
		return snap
	}
	snap.Exists = true
	snap.Docs = append(snap.Docs, storage.Document{ID: ds.Ref.ID, Path: path, Data: ds.Data()})
	return snap
}

// toFirestore maps storage sentinels to their Firestore counterparts. Outside
// of a merge Firestore rejects Delete, so those keys are dropped.
func toFirestore(value storage.Fields, merge bool) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		if v == storage.DeleteField && !merge {
			continue
		}
		out[k] = convert(v, merge)
	}
	return out
}

func convert(v any, merge bool) any {
	switch {
	case v == storage.ServerTimestamp:
		return firestore.ServerTimestamp
	case v == storage.DeleteField:
		return firestore.Delete
	}
	if m, ok := v.(map[string]any); ok {
		return toFirestore(m, merge)
	}
	return v
}

func setNested(data map[string]any, fp firestore.FieldPath, v any) {
	for _, key := range fp[:len(fp)-1] {
		child, ok := data[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			data[key] = child
		}
		data = child
	}
	data[fp[len(fp)-1]] = v
}

var _ storage.Feed = (*Feed)(nil)
