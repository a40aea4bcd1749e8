package digitize

import (
	"errors"
	"fmt"
)

// ErrEditionBusy は同じ号のデジタル化が既に実行中または待機中であることを示します。
var ErrEditionBusy = errors.New("edition is already being digitized")

// StageError はデジタル化を中断させた致命的なエラーです。
// どの段階で失敗しても作業ディレクトリは削除済みです。
type StageError struct {
	EditionID int64
	Stage     State
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("edition %d: %s: %v", e.EditionID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PageError はページ単位の失敗です。処理全体は継続します。
type PageError struct {
	Page  int
	Stage string
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %s: %v", e.Page, e.Stage, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
