package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Uploader stores attachment binaries externally and returns a stable URL.
// The ledger only records metadata plus this URL.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

// LocalUploader writes uploads to a directory on disk.
type LocalUploader struct {
	dir     string
	baseURL string
}

// NewLocalUploader constructs a LocalUploader rooted at dir.
func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalUploader{dir: dir, baseURL: baseURL}, nil
}

// Upload stores the content under a collision-free name and returns its URL.
func (u *LocalUploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	name := uuid.NewString() + "-" + filepath.Base(filename)
	path := filepath.Join(u.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return u.baseURL + "/" + name, nil
}
