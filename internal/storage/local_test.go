package storage

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/archive-forge/internal/archive"
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func TestSaveWritesUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root, "https://archive.example.com/media/")
	require.NoError(t, err)

	data := jpegBytes(t)
	ref, err := store.Save(context.Background(), "1987/3/pages/thumb_1.jpg", data, archive.MediaTypeImage)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "1987", "3", "pages", "thumb_1.jpg"), ref.Path)
	assert.Equal(t, "https://archive.example.com/media/1987/3/pages/thumb_1.jpg", ref.URL)
	assert.Equal(t, "image/jpeg", ref.ContentType)
	assert.Equal(t, int64(len(data)), ref.Size)
	assert.NotEmpty(t, ref.ID)

	got, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	leftovers, err := filepath.Glob(filepath.Join(root, "1987", "3", "pages", ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSaveReplacesExisting(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, "1987/3/preview.jpg", []byte("old"), archive.MediaTypeImage)
	require.NoError(t, err)
	ref, err := store.Save(ctx, "1987/3/preview.jpg", []byte("new"), archive.MediaTypeImage)
	require.NoError(t, err)
	assert.Empty(t, ref.URL)

	got, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestSaveFileCopiesSource(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "web.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4\n%%EOF\n"), 0o644))

	ref, err := store.SaveFile(context.Background(), "1987/3/web.pdf", src, archive.MediaTypeDocument)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ref.ContentType)
	assert.Equal(t, archive.MediaTypeDocument, ref.MediaType)
	assert.FileExists(t, src)
	assert.FileExists(t, ref.Path)
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	for _, key := range []string{"", "../etc/passwd", "/abs/path", "1987/../../x", "a\\b", "1987//3"} {
		_, err := store.Save(context.Background(), key, []byte("x"), archive.MediaTypeImage)
		assert.Error(t, err, key)
	}
}
