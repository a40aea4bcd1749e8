// Package archive はアーカイブ（年・号・ページ）のデータ契約を定義します。
package archive

import (
	"errors"
	"time"
)

// ErrNotFound は対象レコードが存在しない場合に返されます。
var ErrNotFound = errors.New("archive: record not found")

// ContentType はページコンテンツの種別です。
type ContentType string

const (
	ContentTypeArticle       ContentType = "article"
	ContentTypeEditorial     ContentType = "editorial"
	ContentTypeInterview     ContentType = "interview"
	ContentTypeGallery       ContentType = "gallery"
	ContentTypeAdvertisement ContentType = "advertisement"
)

// PreservationStatus は原本の保存状態を表します。
type PreservationStatus string

const (
	PreservationExcellent PreservationStatus = "excellent"
	PreservationGood      PreservationStatus = "good"
	PreservationFair      PreservationStatus = "fair"
	PreservationPoor      PreservationStatus = "poor"
)

// Valid は定義済みの値かどうかを返します。
func (s PreservationStatus) Valid() bool {
	switch s {
	case PreservationExcellent, PreservationGood, PreservationFair, PreservationPoor:
		return true
	}
	return false
}

// MediaType はメディア資産の種別です。
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
)

// EditionType は号の種別です。
type EditionType string

const (
	EditionRegular     EditionType = "regular"
	EditionSpecial     EditionType = "special"
	EditionAnniversary EditionType = "anniversary"
	EditionSupplement  EditionType = "supplement"
)

// ArchiveYear はアーカイブの年単位の区分です。
type ArchiveYear struct {
	ID            int64  `json:"id"`
	Year          int    `json:"year"`
	Description   string `json:"description,omitempty"`
	TotalEditions int    `json:"totalEditions"`
}

// Edition は1号分のアーカイブを表します。
type Edition struct {
	ID              int64       `json:"id"`
	Year            int         `json:"year"`
	Number          int         `json:"number"`
	Title           string      `json:"title"`
	Slug            string      `json:"slug"`
	Description     string      `json:"description,omitempty"`
	EditionType     EditionType `json:"editionType"`
	PublicationDate time.Time   `json:"publicationDate"`
	IsDigitized     bool        `json:"isDigitized"`
	PageCount       int         `json:"pageCount"`
	FileSize        int64       `json:"fileSize"`
	CoverMediaID    *int64      `json:"coverMediaId,omitempty"`
}

// HasCover はカバー画像が設定済みかを返します。
func (e *Edition) HasCover() bool {
	return e != nil && e.CoverMediaID != nil
}

// PageContent はデジタル化された1ページ分のコンテンツです。
type PageContent struct {
	ID             int64       `json:"id"`
	EditionID      int64       `json:"editionId"`
	PageNumber     int         `json:"pageNumber"`
	Title          string      `json:"title"`
	ContentType    ContentType `json:"contentType"`
	DigitalContent string      `json:"digitalContent"`
	IsSearchable   bool        `json:"isSearchable"`
}

// PageMetadata は PageContent と1対1で紐づくメタデータです。
type PageMetadata struct {
	ID                 int64              `json:"id"`
	PageContentID      int64              `json:"pageContentId"`
	Language           string             `json:"language"`
	DigitizationDate   time.Time          `json:"digitizationDate"`
	DigitizationNotes  string             `json:"digitizationNotes"`
	PreservationStatus PreservationStatus `json:"preservationStatus"`
}

// Page は PageContent とそのメタデータの組です。
type Page struct {
	Content  PageContent  `json:"content"`
	Metadata PageMetadata `json:"metadata"`
}

// Media はカバー画像などのメディア資産レコードです。
type Media struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	URL         string    `json:"url,omitempty"`
	MediaType   MediaType `json:"mediaType"`
	ContentType string    `json:"contentType,omitempty"`
	AltText     string    `json:"altText,omitempty"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MediaReference はメディアストアに保存された資産への参照です。
type MediaReference struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Path        string    `json:"path"`
	URL         string    `json:"url,omitempty"`
	MediaType   MediaType `json:"mediaType"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
}

// Aggregates はデジタル化完了時に Edition へ書き戻す集計値です。
type Aggregates struct {
	PageCount    int
	FileSize     int64
	IsDigitized  bool
	CoverMediaID *int64
}

// YearStatistics は年単位の集計です。
type YearStatistics struct {
	Year              int   `json:"year"`
	TotalEditions     int   `json:"totalEditions"`
	DigitizedEditions int   `json:"digitizedEditions"`
	TotalPages        int   `json:"totalPages"`
	TotalContent      int   `json:"totalContent"`
	TotalSize         int64 `json:"totalSize"`
}
