package filestore

import (
	"io"
)

// FileStore keeps uploaded files addressed by the sha256 of their content.
type FileStore interface {
	// Put stores the content of r and returns its hash and size.
	// Storing the same content twice keeps a single copy.
	Put(r io.Reader) (hash string, size int64, err error)

	// Get returns the content stored under hash.
	Get(hash string) (io.ReadCloser, error)
}
