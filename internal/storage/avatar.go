// Package storage handles user-uploaded avatar files on local disk.
package storage

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authkit/authkit/internal/config"
	apierrors "github.com/authkit/authkit/pkg/errors"
)

// AvatarStore saves and removes avatar images under a local directory
// and maps stored files to the public URL path they are served from.
type AvatarStore struct {
	logger   *zap.Logger
	dir      string
	basePath string
	maxBytes int64
	allowed  map[string]string
}

var extensionByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// NewAvatarStore creates the storage directory if needed.
func NewAvatarStore(logger *zap.Logger, cfg config.AvatarConfig) (*AvatarStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}

	allowed := make(map[string]string, len(cfg.AllowedTypes))
	for _, ct := range cfg.AllowedTypes {
		ext, ok := extensionByType[ct]
		if !ok {
			return nil, fmt.Errorf("unsupported avatar content type %q", ct)
		}
		allowed[ct] = ext
	}

	return &AvatarStore{
		logger:   logger,
		dir:      cfg.Dir,
		basePath: strings.TrimRight(cfg.BasePath, "/"),
		maxBytes: cfg.MaxBytes,
		allowed:  allowed,
	}, nil
}

// Dir returns the on-disk directory avatars are stored in.
func (s *AvatarStore) Dir() string { return s.dir }

// BasePath returns the URL prefix avatars are served under.
func (s *AvatarStore) BasePath() string { return s.basePath }

// Save reads the upload, enforces the size cap, sniffs the content type
// and writes the file under a fresh random name. It returns the public
// URL path for the stored avatar.
func (s *AvatarStore) Save(r io.Reader) (string, error) {
	// Read one byte past the cap so oversized uploads are detectable
	// without buffering the whole stream.
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", apierrors.Invalid(fmt.Sprintf("avatar exceeds the %d byte limit", s.maxBytes))
	}
	if len(data) == 0 {
		return "", apierrors.Invalid("avatar file is empty")
	}

	contentType := http.DetectContentType(data)
	ext, ok := s.allowed[contentType]
	if !ok {
		return "", apierrors.Invalid(fmt.Sprintf("unsupported image type %s", contentType))
	}

	name := uuid.New().String() + ext
	dest := filepath.Join(s.dir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write avatar file: %w", err)
	}

	s.logger.Debug("avatar stored",
		zap.String("file", name),
		zap.Int("bytes", len(data)))
	return s.basePath + "/" + name, nil
}

// Remove deletes the file backing the given avatar URL. URLs outside the
// store's base path and missing files are ignored.
func (s *AvatarStore) Remove(url string) error {
	if url == "" || !strings.HasPrefix(url, s.basePath+"/") {
		return nil
	}

	name := path.Base(url)
	if name == "." || name == "/" || strings.Contains(name, "..") {
		return apierrors.Invalid("invalid avatar path")
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove avatar file: %w", err)
	}
	return nil
}
