package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Workspace は1号分のデジタル化処理が専有する作業ディレクトリです。
type Workspace struct {
	EditionID int64
	Dir       string
	PagesDir  string
	OutDir    string

	releaseOnce sync.Once
	releaseErr  error
}

// AcquireWorkspace は {root}/{editionID} を作成します。
// 前回の処理がクラッシュして残ったディレクトリはここで削除します。
func AcquireWorkspace(root string, editionID int64) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	dir := filepath.Join(root, strconv.FormatInt(editionID, 10))
	if err := removeDir(dir); err != nil {
		return nil, fmt.Errorf("前回の作業ディレクトリの削除に失敗しました: %w", err)
	}

	ws := &Workspace{
		EditionID: editionID,
		Dir:       dir,
		PagesDir:  filepath.Join(dir, "pages"),
		OutDir:    filepath.Join(dir, "out"),
	}
	for _, d := range []string{ws.Dir, ws.PagesDir, ws.OutDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			_ = removeDir(dir)
			return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// Release は作業ディレクトリを削除します。複数回呼んでも削除は1回だけです。
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.releaseOnce.Do(func() {
		w.releaseErr = removeDir(w.Dir)
	})
	return w.releaseErr
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
