package catalog

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/yourusername/archive-forge/internal/archive"
)

// YearStatistics は年単位の号数・デジタル化済み号数・ページ数・容量を集計します。
func (s *Store) YearStatistics(ctx context.Context, year int) (*archive.YearStatistics, error) {
	query, args, err := s.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN is_digitized THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(page_count), 0)",
		"COALESCE(SUM(file_size), 0)",
	).
		From("editions").
		Where(sq.Eq{"year": year}).
		ToSql()
	if err != nil {
		return nil, err
	}

	stats := archive.YearStatistics{Year: year}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalEditions, &stats.DigitizedEditions, &stats.TotalPages, &stats.TotalSize,
	); err != nil {
		return nil, fmt.Errorf("edition statistics: %w", err)
	}

	query, args, err = s.sb.Select("COUNT(*)").
		From("edition_contents c").
		Join("editions e ON e.id = c.edition_id").
		Where(sq.Eq{"e.year": year}).
		ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalContent); err != nil {
		return nil, fmt.Errorf("content statistics: %w", err)
	}
	return &stats, nil
}
