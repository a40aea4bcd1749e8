// Package jobs はデジタル化ジョブの非同期実行と状態管理を提供します。
package jobs

import (
	"errors"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued              Status = "queued"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// ErrJobNotFound は指定されたジョブ記録が存在しないことを示します。
var ErrJobNotFound = errors.New("job not found")

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID     string       `json:"jobId"`
	EditionID int64        `json:"editionId"`
	Status    Status       `json:"status"`
	Attempts  int          `json:"attempts"`
	Progress  ProgressInfo `json:"progress"`
	Meta      any          `json:"meta,omitempty"`
	Error     *ErrorInfo   `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Terminal はジョブがこれ以上状態遷移しないかを返します。
func (r *Record) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}
