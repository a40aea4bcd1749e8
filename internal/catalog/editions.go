package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/yourusername/archive-forge/internal/archive"
)

var editionColumns = []string{
	"id", "year", "number", "title", "slug", "description", "edition_type",
	"publication_date", "is_digitized", "page_count", "file_size", "cover_media_id",
}

func scanEdition(row interface{ Scan(...any) error }) (*archive.Edition, error) {
	var (
		ed      archive.Edition
		pubDate string
		cover   sql.NullInt64
	)
	if err := row.Scan(
		&ed.ID, &ed.Year, &ed.Number, &ed.Title, &ed.Slug, &ed.Description, &ed.EditionType,
		&pubDate, &ed.IsDigitized, &ed.PageCount, &ed.FileSize, &cover,
	); err != nil {
		return nil, err
	}
	parsed, err := parseDate(pubDate)
	if err != nil {
		return nil, fmt.Errorf("parse publication_date: %w", err)
	}
	ed.PublicationDate = parsed
	if cover.Valid {
		id := cover.Int64
		ed.CoverMediaID = &id
	}
	return &ed, nil
}

func (s *Store) getEdition(ctx context.Context, q querier, where sq.Eq) (*archive.Edition, error) {
	query, args, err := s.sb.Select(editionColumns...).From("editions").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	ed, err := scanEdition(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select edition: %w", err)
	}
	return ed, nil
}

// GetEdition は ID で号を取得します。存在しない場合は archive.ErrNotFound を返します。
func (s *Store) GetEdition(ctx context.Context, id int64) (*archive.Edition, error) {
	return s.getEdition(ctx, s.db, sq.Eq{"id": id})
}

// GetEditionByNumber は年と号数で号を取得します。
func (s *Store) GetEditionByNumber(ctx context.Context, year, number int) (*archive.Edition, error) {
	return s.getEdition(ctx, s.db, sq.Eq{"year": year, "number": number})
}

// ListEditions は指定年の号を号数順に返します。
func (s *Store) ListEditions(ctx context.Context, year int) ([]archive.Edition, error) {
	query, args, err := s.sb.Select(editionColumns...).
		From("editions").
		Where(sq.Eq{"year": year}).
		OrderBy("number").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list editions: %w", err)
	}
	defer rows.Close()

	var editions []archive.Edition
	for rows.Next() {
		ed, err := scanEdition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edition: %w", err)
		}
		editions = append(editions, *ed)
	}
	return editions, rows.Err()
}

// GetOrCreateEdition は年と号数で号を取得し、なければ draft から作成します。
func (s *Store) GetOrCreateEdition(ctx context.Context, year, number int, draft archive.EditionDraft) (*archive.Edition, error) {
	ed, err := s.GetEditionByNumber(ctx, year, number)
	if err == nil {
		return ed, nil
	}
	if !errors.Is(err, archive.ErrNotFound) {
		return nil, err
	}
	return s.CreateEdition(ctx, year, number, draft)
}

// CreateEdition は号を作成します。年レコードがなければ作成し、年の号数を再集計します。
func (s *Store) CreateEdition(ctx context.Context, year, number int, draft archive.EditionDraft) (*archive.Edition, error) {
	ed, err := archive.NewEdition(year, number, draft)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		yearID, err := s.ensureYear(ctx, tx, year)
		if err != nil {
			return err
		}

		ed.ID, err = insertReturningID(ctx, tx, s.sb.Insert("editions").
			Columns("archive_year_id", "year", "number", "title", "slug", "description",
				"edition_type", "publication_date", "is_digitized", "page_count", "file_size").
			Values(yearID, ed.Year, ed.Number, ed.Title, ed.Slug, ed.Description,
				string(ed.EditionType), formatDate(ed.PublicationDate), false, 0, 0))
		if err != nil {
			return fmt.Errorf("insert edition: %w", err)
		}

		return s.refreshYearTotals(ctx, tx, yearID)
	})
	if err != nil {
		return nil, err
	}
	return ed, nil
}

func (s *Store) ensureYear(ctx context.Context, q querier, year int) (int64, error) {
	query, args, err := s.sb.Select("id").From("archive_years").Where(sq.Eq{"year": year}).ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("select archive year: %w", err)
	}

	id, err = insertReturningID(ctx, q, s.sb.Insert("archive_years").
		Columns("year", "description", "total_editions").
		Values(year, "", 0))
	if err != nil {
		return 0, fmt.Errorf("insert archive year: %w", err)
	}
	return id, nil
}

// refreshYearTotals は年の total_editions を実件数で更新します。
func (s *Store) refreshYearTotals(ctx context.Context, q querier, yearID int64) error {
	_, err := exec(ctx, q, s.sb.Update("archive_years").
		Set("total_editions", sq.Expr("(SELECT COUNT(*) FROM editions WHERE archive_year_id = ?)", yearID)).
		Where(sq.Eq{"id": yearID}))
	if err != nil {
		return fmt.Errorf("update total_editions: %w", err)
	}
	return nil
}

// GetYear は年レコードを取得します。
func (s *Store) GetYear(ctx context.Context, year int) (*archive.ArchiveYear, error) {
	query, args, err := s.sb.Select("id", "year", "description", "total_editions").
		From("archive_years").
		Where(sq.Eq{"year": year}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var y archive.ArchiveYear
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&y.ID, &y.Year, &y.Description, &y.TotalEditions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select archive year: %w", err)
	}
	return &y, nil
}

// UpdateEditionAggregates はデジタル化結果の集計値を号に書き戻します。
// CoverMediaID が nil の場合は既存のカバーを保持します。
func (s *Store) UpdateEditionAggregates(ctx context.Context, editionID int64, agg archive.Aggregates) error {
	b := s.sb.Update("editions").
		Set("page_count", agg.PageCount).
		Set("file_size", agg.FileSize).
		Set("is_digitized", agg.IsDigitized).
		Where(sq.Eq{"id": editionID})
	if agg.CoverMediaID != nil {
		b = b.Set("cover_media_id", *agg.CoverMediaID)
	}

	res, err := exec(ctx, s.db, b)
	if err != nil {
		return fmt.Errorf("update edition aggregates: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return archive.ErrNotFound
	}
	return nil
}

// CreateMedia はメディアレコードを作成し、採番された ID を media に設定します。
func (s *Store) CreateMedia(ctx context.Context, media *archive.Media) error {
	if media == nil {
		return fmt.Errorf("media is required")
	}
	id, err := insertReturningID(ctx, s.db, s.sb.Insert("media").
		Columns("path", "url", "media_type", "content_type", "alt_text", "size", "created_at").
		Values(media.Path, media.URL, string(media.MediaType), media.ContentType, media.AltText,
			media.Size, formatDate(media.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	media.ID = id
	return nil
}

// GetMedia は ID でメディアレコードを取得します。
func (s *Store) GetMedia(ctx context.Context, id int64) (*archive.Media, error) {
	query, args, err := s.sb.Select("id", "path", "url", "media_type", "content_type", "alt_text", "size", "created_at").
		From("media").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var (
		m       archive.Media
		created string
	)
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&m.ID, &m.Path, &m.URL, &m.MediaType, &m.ContentType, &m.AltText, &m.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select media: %w", err)
	}
	if m.CreatedAt, err = parseDate(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &m, nil
}
