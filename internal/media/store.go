// Package media stores uploaded blobs on the local filesystem, grouped by
// category. Filenames are server-assigned so uploads can never collide or
// escape the storage root.
package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"spectrum/internal/domain"
)

// Allowed storage categories.
var categories = map[string]struct{}{
	"image": {},
	"audio": {},
	"file":  {},
}

// Saved describes a stored blob.
type Saved struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Path     string `json:"path"` // public path under /media
	Size     int64  `json:"size"`
}

// Store is the local blob store.
type Store struct {
	root     string
	maxBytes int64
}

// NewStore creates the storage root and its category directories.
func NewStore(root string, maxUploadMB int) (*Store, error) {
	for cat := range categories {
		if err := os.MkdirAll(filepath.Join(root, cat), 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}
	return &Store{root: root, maxBytes: int64(maxUploadMB) << 20}, nil
}

// Save streams the upload into the category directory under a generated
// name that keeps the original extension.
func (s *Store) Save(category, originalName string, r io.Reader) (*Saved, error) {
	if _, ok := categories[category]; !ok {
		return nil, domain.NewError(domain.KindInvalidInput, "unknown media category "+category)
	}

	name := uuid.NewString() + sanitizeExt(originalName)
	path := filepath.Join(s.root, category, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageFailure, "create media file", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		os.Remove(path)
		return nil, domain.WrapError(domain.KindStorageFailure, "write media file", err)
	}
	if n > s.maxBytes {
		os.Remove(path)
		return nil, domain.NewError(domain.KindInvalidInput,
			fmt.Sprintf("upload exceeds %d byte limit", s.maxBytes))
	}

	return &Saved{
		Category: category,
		Filename: name,
		Path:     "/media/" + category + "/" + name,
		Size:     n,
	}, nil
}

// SaveBase64 decodes a base64 payload (raw or data-URI) and stores it.
func (s *Store) SaveBase64(category, originalName, data string) (*Saved, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "invalid base64 payload", err)
	}
	return s.Save(category, originalName, strings.NewReader(string(raw)))
}

// Resolve maps a public category/filename pair to an on-disk path, rejecting
// traversal attempts.
func (s *Store) Resolve(category, filename string) (string, error) {
	if _, ok := categories[category]; !ok {
		return "", domain.NewError(domain.KindNotFound, "unknown media category")
	}
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", domain.NewError(domain.KindNotFound, "media not found")
	}
	path := filepath.Join(s.root, category, filename)
	if _, err := os.Stat(path); err != nil {
		return "", domain.NewError(domain.KindNotFound, "media not found")
	}
	return path, nil
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
