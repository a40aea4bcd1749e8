package archive

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultLanguage = "ar"
	pageTitleFormat = "Page %d"
)

// EditionDraft は Edition 作成時の入力です。
type EditionDraft struct {
	Title           string
	Description     string
	EditionType     EditionType
	PublicationDate time.Time
}

// NewEdition は入力から Edition を組み立てます。
// スラッグは保存フックではなくここで一度だけ決定します。
func NewEdition(year, number int, draft EditionDraft) (*Edition, error) {
	if year <= 0 {
		return nil, fmt.Errorf("year must be positive (received: %d)", year)
	}
	if number <= 0 {
		return nil, fmt.Errorf("edition number must be positive (received: %d)", number)
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = fmt.Sprintf("Edition %d", number)
	}
	editionType := draft.EditionType
	if editionType == "" {
		editionType = EditionRegular
	}
	pubDate := draft.PublicationDate
	if pubDate.IsZero() {
		pubDate = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	return &Edition{
		Year:            year,
		Number:          number,
		Title:           title,
		Slug:            Slugify(fmt.Sprintf("%d-%d-%s", year, number, title)),
		Description:     draft.Description,
		EditionType:     editionType,
		PublicationDate: pubDate,
	}, nil
}

// NewDigitizedPage は自動デジタル化されたページの PageContent/PageMetadata の組を作成します。
func NewDigitizedPage(editionID int64, pageNumber int, assetKey, source string, now time.Time) (PageContent, PageMetadata) {
	notes := "Automatically processed from InDesign file"
	if source != "" {
		notes = fmt.Sprintf("Automatically processed from %s", source)
	}
	content := PageContent{
		EditionID:      editionID,
		PageNumber:     pageNumber,
		Title:          fmt.Sprintf(pageTitleFormat, pageNumber),
		ContentType:    ContentTypeArticle,
		DigitalContent: assetKey,
		IsSearchable:   true,
	}
	metadata := PageMetadata{
		Language:           defaultLanguage,
		DigitizationDate:   now.UTC().Truncate(24 * time.Hour),
		DigitizationNotes:  notes,
		PreservationStatus: PreservationExcellent,
	}
	return content, metadata
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify は URL 用のスラッグを生成します。非ASCII文字（アラビア文字など）は保持します。
func Slugify(value string) string {
	folded, _, err := transform.String(stripMarks, value)
	if err != nil {
		folded = value
	}

	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// PageKey はページ資産の保存キーを返します（{year}/{edition_number}/pages/{name}）。
func PageKey(year, number int, name string) string {
	return fmt.Sprintf("%d/%d/pages/%s", year, number, name)
}

// EditionKey は号単位の資産の保存キーを返します（{year}/{edition_number}/{name}）。
func EditionKey(year, number int, name string) string {
	return fmt.Sprintf("%d/%d/%s", year, number, name)
}
