package archive

import (
	"sort"
	"time"
)

// RunStatus はデジタル化1回分の最終結果です。
type RunStatus string

const (
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// PageAssets は1ページ分の派生資産です。
type PageAssets struct {
	Number    int    `json:"number"`
	HighRes   string `json:"highRes"`
	Thumbnail string `json:"thumbnail"`
	Mobile    string `json:"mobile"`
	ContentID int64  `json:"contentId"`
	Size      int64  `json:"size"`
}

// PageFailure はページ単位の失敗記録です。
type PageFailure struct {
	Page   int    `json:"page"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// OptimizedDocument は最適化済みPDFの情報です。
type OptimizedDocument struct {
	Profile string `json:"profile"`
	Path    string `json:"path"`
	URL     string `json:"url,omitempty"`
	Size    int64  `json:"size"`
	Pages   int    `json:"pages"`
}

// Manifest はパイプライン1回分で生成された資産と結果をまとめたものです。
type Manifest struct {
	EditionID   int64                        `json:"editionId"`
	Year        int                          `json:"year"`
	Number      int                          `json:"number"`
	Source      string                       `json:"source"`
	Pages       []PageAssets                 `json:"pages"`
	Failures    []PageFailure                `json:"failures,omitempty"`
	Preview     string                       `json:"preview,omitempty"`
	Documents   map[string]OptimizedDocument `json:"documents,omitempty"`
	Warnings    []string                     `json:"warnings,omitempty"`
	PageCount   int                          `json:"pageCount"`
	FileSize    int64                        `json:"fileSize"`
	IsDigitized bool                         `json:"isDigitized"`
	CoverMedia  *int64                       `json:"coverMediaId,omitempty"`
	StartedAt   time.Time                    `json:"startedAt"`
	FinishedAt  time.Time                    `json:"finishedAt"`
}

// NewManifest は空の Manifest を作成します。
func NewManifest(edition *Edition, source string, now time.Time) *Manifest {
	m := &Manifest{
		Source:    source,
		Documents: make(map[string]OptimizedDocument),
		StartedAt: now.UTC(),
	}
	if edition != nil {
		m.EditionID = edition.ID
		m.Year = edition.Year
		m.Number = edition.Number
	}
	return m
}

// Status は成功ページ数と失敗ページ数から最終状態を判定します。
func (m *Manifest) Status() RunStatus {
	if m == nil || len(m.Pages) == 0 {
		return RunFailed
	}
	if len(m.Failures) > 0 {
		return RunCompletedWithErrors
	}
	return RunCompleted
}

// TotalSize は高解像度資産のバイト数の合計を返します。
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, p := range m.Pages {
		total += p.Size
	}
	return total
}

// PageNumbers は成功したページ番号を昇順で返します。
func (m *Manifest) PageNumbers() []int {
	nums := make([]int, len(m.Pages))
	for i, p := range m.Pages {
		nums[i] = p.Number
	}
	sort.Ints(nums)
	return nums
}

// SortPages はページと失敗記録をページ番号順に並べ替えます。
func (m *Manifest) SortPages() {
	sort.Slice(m.Pages, func(i, j int) bool { return m.Pages[i].Number < m.Pages[j].Number })
	sort.Slice(m.Failures, func(i, j int) bool { return m.Failures[i].Page < m.Failures[j].Page })
}
