package digitize

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

const lockDirName = ".locks"

// LockEdition は {workRoot}/.locks/edition-{id}.lock を排他取得します。
// 別の実行（CLI またはジョブワーカー）が保持している場合は ErrEditionBusy を返します。
func LockEdition(workRoot string, editionID int64) (*flock.Flock, error) {
	if workRoot == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	dir := filepath.Join(workRoot, lockDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "edition-"+strconv.FormatInt(editionID, 10)+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("edition %d: %w", editionID, ErrEditionBusy)
	}
	return lock, nil
}
