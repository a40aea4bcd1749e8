package archive

import (
	"context"
)

// Catalog はアーカイブレコードの永続化層です。
// PageContent と PageMetadata の組は CreatePage で必ず同一トランザクションで作成されます。
type Catalog interface {
	GetEdition(ctx context.Context, id int64) (*Edition, error)
	GetOrCreateEdition(ctx context.Context, year, number int, draft EditionDraft) (*Edition, error)
	ListPageNumbers(ctx context.Context, editionID int64) (map[int]struct{}, error)
	CreatePage(ctx context.Context, editionID int64, content PageContent, metadata PageMetadata) (*Page, error)
	DeletePagesExcept(ctx context.Context, editionID int64, keep []int) (int, error)
	CreateMedia(ctx context.Context, media *Media) error
	UpdateEditionAggregates(ctx context.Context, editionID int64, agg Aggregates) error
}

// MediaStore はアーカイブ資産（画像・PDF）を保存します。
// key は {year}/{edition_number}/... 形式のスラッシュ区切りパスです。
type MediaStore interface {
	Save(ctx context.Context, key string, data []byte, mediaType MediaType) (*MediaReference, error)
	SaveFile(ctx context.Context, key string, srcPath string, mediaType MediaType) (*MediaReference, error)
}
