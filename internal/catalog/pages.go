package catalog

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/yourusername/archive-forge/internal/archive"
)

// ListPageNumbers は号に登録済みのページ番号の集合を返します。
func (s *Store) ListPageNumbers(ctx context.Context, editionID int64) (map[int]struct{}, error) {
	query, args, err := s.sb.Select("page_number").
		From("edition_contents").
		Where(sq.Eq{"edition_id": editionID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list page numbers: %w", err)
	}
	defer rows.Close()

	numbers := make(map[int]struct{})
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan page number: %w", err)
		}
		numbers[n] = struct{}{}
	}
	return numbers, rows.Err()
}

// CreatePage は PageContent と PageMetadata を同一トランザクションで作成します。
// 同じページ番号の既存ページは置き換えます。
func (s *Store) CreatePage(ctx context.Context, editionID int64, content archive.PageContent, metadata archive.PageMetadata) (*archive.Page, error) {
	if content.PageNumber < 1 {
		return nil, fmt.Errorf("page number must be >= 1 (received: %d)", content.PageNumber)
	}
	if !metadata.PreservationStatus.Valid() {
		return nil, fmt.Errorf("unknown preservation status: %q", metadata.PreservationStatus)
	}
	content.EditionID = editionID

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.deletePages(ctx, tx, sq.And{
			sq.Eq{"edition_id": editionID},
			sq.Eq{"page_number": content.PageNumber},
		}); err != nil {
			return err
		}

		var err error
		content.ID, err = insertReturningID(ctx, tx, s.sb.Insert("edition_contents").
			Columns("edition_id", "page_number", "title", "content_type", "digital_content", "is_searchable").
			Values(editionID, content.PageNumber, content.Title, string(content.ContentType),
				content.DigitalContent, content.IsSearchable))
		if err != nil {
			return fmt.Errorf("insert page content: %w", err)
		}

		metadata.PageContentID = content.ID
		metadata.ID, err = insertReturningID(ctx, tx, s.sb.Insert("archive_metadata").
			Columns("content_id", "language", "digitization_date", "digitization_notes", "preservation_status").
			Values(content.ID, metadata.Language, formatDate(metadata.DigitizationDate),
				metadata.DigitizationNotes, string(metadata.PreservationStatus)))
		if err != nil {
			return fmt.Errorf("insert page metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &archive.Page{Content: content, Metadata: metadata}, nil
}

// DeletePagesExcept は keep に含まれないページ番号のページを削除し、削除件数を返します。
func (s *Store) DeletePagesExcept(ctx context.Context, editionID int64, keep []int) (int, error) {
	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.deletePages(ctx, tx, sq.And{
			sq.Eq{"edition_id": editionID},
			sq.NotEq{"page_number": keep},
		})
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// deletePages はメタデータを先に削除してから該当ページを削除します。
func (s *Store) deletePages(ctx context.Context, q querier, where sq.Sqlizer) (int, error) {
	sub, subArgs, err := sq.Select("id").From("edition_contents").Where(where).ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := exec(ctx, q, s.sb.Delete("archive_metadata").
		Where(sq.Expr("content_id IN ("+sub+")", subArgs...))); err != nil {
		return 0, fmt.Errorf("delete page metadata: %w", err)
	}

	res, err := exec(ctx, q, s.sb.Delete("edition_contents").Where(where))
	if err != nil {
		return 0, fmt.Errorf("delete page content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ListPages は号のページとメタデータをページ番号順に返します。
func (s *Store) ListPages(ctx context.Context, editionID int64) ([]archive.Page, error) {
	query, args, err := s.sb.Select(
		"c.id", "c.edition_id", "c.page_number", "c.title", "c.content_type", "c.digital_content", "c.is_searchable",
		"m.id", "m.language", "m.digitization_date", "m.digitization_notes", "m.preservation_status",
	).
		From("edition_contents c").
		Join("archive_metadata m ON m.content_id = c.id").
		Where(sq.Eq{"c.edition_id": editionID}).
		OrderBy("c.page_number").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []archive.Page
	for rows.Next() {
		var (
			p    archive.Page
			date string
		)
		if err := rows.Scan(
			&p.Content.ID, &p.Content.EditionID, &p.Content.PageNumber, &p.Content.Title,
			&p.Content.ContentType, &p.Content.DigitalContent, &p.Content.IsSearchable,
			&p.Metadata.ID, &p.Metadata.Language, &date, &p.Metadata.DigitizationNotes,
			&p.Metadata.PreservationStatus,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if p.Metadata.DigitizationDate, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse digitization_date: %w", err)
		}
		p.Metadata.PageContentID = p.Content.ID
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
