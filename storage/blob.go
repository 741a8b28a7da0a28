package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"receiptly/config"
)

// BlobStore keeps uploaded attachment bytes. Paths are slash-separated and
// relative to the store root.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// NewBlobStore builds the configured backend.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig, dataDir string) (BlobStore, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return NewS3Store(ctx, cfg)
	case config.BackendFS, "":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(dataDir, "uploads")
		}
		return NewFSStore(config.ExpandPath(dir))
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// UserPrefix is the top-level blob directory owned by userID: the first 16
// hex digits of its SHA-256. Every id, whatever characters it holds, maps to
// a path-safe segment, and distinct ids do not share one.
func UserPrefix(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:8])
}

// OwnsPath reports whether key is a clean path inside userID's prefix.
func OwnsPath(userID, key string) bool {
	if key != path.Clean(key) {
		return false
	}
	rest, ok := strings.CutPrefix(key, UserPrefix(userID)+"/")
	return ok && rest != ""
}

// BlobPath builds <user-prefix>/<unix-millis>-<shortuuid>-<sanitized-name>.
// The timestamp and random id make paths unique per upload.
func BlobPath(userID, fileName string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s-%s", UserPrefix(userID), now.UnixMilli(), shortuuid.New(), SanitizeFilename(fileName))
}

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\n', '\r', '\t':
			return '-'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)

	// Remove leading/trailing hyphens and dots
	name = strings.Trim(name, "-.")

	if len(name) > 100 {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:100-len(ext)], "") + ext
	}

	if name == "" {
		name = "file"
	}
	return name
}

// FSStore writes blobs under a root directory with 0600 files.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := config.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) resolve(key string) (string, error) {
	// Cleaning against "/" keeps ".." segments from leaving the root.
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob path %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0600); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
