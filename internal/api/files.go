package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"portalchat/internal/filestore"
	"portalchat/internal/models"
	"portalchat/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const (
	maxUploadSize = 20 << 20
	sniffLen      = 261
)

type UploadResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

func fileURL(id string) string {
	return "/api/files/" + id
}

func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	head = head[:n]

	mimeType := "application/octet-stream"
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	hash, size, err := a.files.Put(io.MultiReader(bytes.NewReader(head), file))
	if errors.Is(err, filestore.ErrTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if err != nil {
		slog.Error("failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		Name:      filepath.Base(header.Filename),
		MimeType:  mimeType,
		Size:      size,
		CreatedAt: time.Now().Unix(),
		UserID:    UserID(r.Context()),
	}
	if err := a.meta.UpsertFileMetadata(meta); err != nil {
		slog.Error("failed to store file metadata", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		ID:       meta.ID,
		Name:     meta.Name,
		MimeType: meta.MimeType,
		Size:     meta.Size,
		URL:      fileURL(meta.ID),
	})
}

func (a *API) FileHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.meta.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rc, err := a.files.Get(meta.Hash)
	if errors.Is(err, models.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to open file", "id", meta.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("file download interrupted", "id", meta.ID, "error", err)
	}
}

// readFile loads a whole upload, used for gateway attachments.
func (a *API) readFile(id string) (storage.FileMetadata, []byte, error) {
	meta, err := a.meta.GetFileMetadata(id)
	if err != nil {
		return storage.FileMetadata{}, nil, err
	}
	rc, err := a.files.Get(meta.Hash)
	if err != nil {
		return storage.FileMetadata{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	return meta, data, err
}
