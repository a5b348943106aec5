package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Stored describes a persisted upload.
type Stored struct {
	URL  string
	Path string
	Size int64
}

type FileStore interface {
	Save(ctx context.Context, userID uint64, name, mimeType string, data []byte) (Stored, error)
}

// LocalStore writes uploads under Dir/<userID>/ and serves them from BaseURL/uploads.
type LocalStore struct {
	Dir     string
	BaseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Save(ctx context.Context, userID uint64, name, mimeType string, data []byte) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	userDir := filepath.Join(s.Dir, fmt.Sprintf("%d", userID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return Stored{}, err
	}

	file := uuid.NewString() + extensionFor(name, mimeType)
	path := filepath.Join(userDir, file)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Stored{}, err
	}

	return Stored{
		URL:  fmt.Sprintf("%s/uploads/%d/%s", s.BaseURL, userID, file),
		Path: path,
		Size: int64(len(data)),
	}, nil
}

func extensionFor(name, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(filepath.Base(name))); ext != "" && len(ext) <= 8 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
