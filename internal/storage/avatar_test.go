package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authkit/authkit/internal/config"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func newTestStore(t *testing.T, maxBytes int64) *AvatarStore {
	t.Helper()
	store, err := NewAvatarStore(zap.NewNop(), config.AvatarConfig{
		Dir:          t.TempDir(),
		BasePath:     "/static/avatars",
		MaxBytes:     maxBytes,
		AllowedTypes: []string{"image/png", "image/jpeg", "image/webp"},
	})
	require.NoError(t, err)
	return store
}

func TestAvatarSaveAndRemove(t *testing.T) {
	store := newTestStore(t, 1<<20)

	url, err := store.Save(bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/static/avatars/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	path := filepath.Join(store.Dir(), filepath.Base(url))
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, store.Remove(url))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAvatarSaveRejectsOversize(t *testing.T) {
	store := newTestStore(t, 16)

	big := append(append([]byte{}, pngHeader...), make([]byte, 32)...)
	_, err := store.Save(bytes.NewReader(big))
	assert.Error(t, err)
}

func TestAvatarSaveRejectsUnsupportedType(t *testing.T) {
	store := newTestStore(t, 1<<20)

	_, err := store.Save(strings.NewReader("plain text, not an image"))
	assert.Error(t, err)
}

func TestAvatarSaveRejectsEmpty(t *testing.T) {
	store := newTestStore(t, 1<<20)

	_, err := store.Save(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestAvatarRemoveIgnoresForeignURLs(t *testing.T) {
	store := newTestStore(t, 1<<20)

	assert.NoError(t, store.Remove(""))
	assert.NoError(t, store.Remove("https://cdn.example.com/foo.png"))
	assert.NoError(t, store.Remove("/static/avatars/does-not-exist.png"))
}

func TestAvatarRemoveRejectsTraversal(t *testing.T) {
	store := newTestStore(t, 1<<20)

	err := store.Remove("/static/avatars/..%2fpasswd")
	assert.Error(t, err)
}
