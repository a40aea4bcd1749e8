// Package storage はアーカイブ資産の保存先を提供します。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yourusername/archive-forge/internal/archive"
)

// Local はローカルファイルシステム上の MediaStore 実装です。
// 資産は {root}/{key} に保存され、baseURL が設定されていれば公開URLを付与します。
type Local struct {
	root    string
	baseURL string
}

var _ archive.MediaStore = (*Local)(nil)

// NewLocal は Local を生成し、ルートディレクトリを作成します。
func NewLocal(root, baseURL string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root は保存先ルートの絶対パスを返します。
func (l *Local) Root() string {
	return l.root
}

// Save は data を key に保存します。既存の資産は置き換えます。
func (l *Local) Save(ctx context.Context, key string, data []byte, mediaType archive.MediaType) (*archive.MediaReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(dst, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	return l.reference(key, dst, mimetype.Detect(data).String(), int64(len(data)), mediaType), nil
}

// SaveFile は srcPath のファイルを key に複製します。
func (l *Local) SaveFile(ctx context.Context, key string, srcPath string, mediaType archive.MediaType) (*archive.MediaReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst, err := l.resolve(key)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	if err := writeAtomic(dst, src); err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(dst); err == nil {
		contentType = mt.String()
	}
	return l.reference(key, dst, contentType, info.Size(), mediaType), nil
}

// URL は key の公開URLを返します。baseURL が未設定の場合は空文字です。
func (l *Local) URL(key string) string {
	if l.baseURL == "" {
		return ""
	}
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.baseURL + "/" + strings.Join(segments, "/")
}

func (l *Local) reference(key, dst, contentType string, size int64, mediaType archive.MediaType) *archive.MediaReference {
	return &archive.MediaReference{
		ID:          uuid.NewString(),
		Key:         key,
		Path:        dst,
		URL:         l.URL(key),
		MediaType:   mediaType,
		ContentType: contentType,
		Size:        size,
	}
}

// resolve は key を検証してルート配下の絶対パスに変換します。
func (l *Local) resolve(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if key == "" || cleaned == "/" || strings.Contains(key, "\\") || cleaned != "/"+key {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned[1:])), nil
}

func writeAtomic(dst string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
