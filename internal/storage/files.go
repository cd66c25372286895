package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileStore persists attachment bytes and hands back an opaque handle.
// The workflow only records the handle; it never interprets it.
type FileStore interface {
	Save(fileName string, data []byte) (handle string, err error)
	Open(handle string) ([]byte, error)
}

type LocalFileStore struct {
	root   string
	logger *zap.Logger
}

func NewLocalFileStore(root string, logger *zap.Logger) *LocalFileStore {
	return &LocalFileStore{
		root:   root,
		logger: logger.With(zap.String("component", "file_store")),
	}
}

// Save writes data under a dated subdirectory and returns the relative
// path as the handle, e.g. 2026/08/<uuid>_report.pdf.
func (fs *LocalFileStore) Save(fileName string, data []byte) (string, error) {
	now := time.Now()
	rel := filepath.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		uuid.New().String()+"_"+filepath.Base(fileName),
	)

	abs := filepath.Join(fs.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}

	fs.logger.Debug("Stored attachment", zap.String("handle", rel), zap.Int("bytes", len(data)))
	return rel, nil
}

func (fs *LocalFileStore) Open(handle string) ([]byte, error) {
	abs := filepath.Join(fs.root, filepath.Clean(handle))
	return os.ReadFile(abs)
}
