package storage

import (
	"fmt"
	"time"

	"portalchat/internal/auth"
	"portalchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers = []byte("users")
	bucketFiles = []byte("files")
	bucketDocs  = []byte("docs")
)

type BboltStorage struct {
	db   *bbolt.DB
	feed *BoltFeed
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketFiles, bucketDocs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, feed: newBoltFeed(db)}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// Feed returns the document change feed backed by this database.
func (s *BboltStorage) Feed() *BoltFeed {
	return s.feed
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListAllCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListAllCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					UserName:    dbUser.UserName,
					DisplayName: dbUser.DisplayName,
					Status:      models.UserStatus(dbUser.Status),
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// ListCredentials returns only active user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	all, err := s.ListAllCredentials()
	if err != nil {
		return nil, err
	}
	var active []auth.UserCredentials
	for _, c := range all {
		if c.Status == models.UserStatusActive {
			active = append(active, c)
		}
	}
	return active, nil
}
