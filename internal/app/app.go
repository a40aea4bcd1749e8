// Package app は設定からカタログ・資産ストア・デジタル化パイプラインを組み立てます。
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/catalog"
	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/digitize"
	"github.com/yourusername/archive-forge/internal/pdf"
	"github.com/yourusername/archive-forge/internal/storage"
)

// Components はバイナリ間で共有する依存関係です。
type Components struct {
	Catalog   *catalog.Store
	Media     *storage.Local
	Assembler *digitize.Assembler
}

// Build は cfg に従って各コンポーネントを初期化します。
// 呼び出し側は不要になったら Close を呼んでください。
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Components, error) {
	store, err := catalog.Open(ctx, cfg.CatalogDriver, cfg.CatalogDSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	media, err := storage.NewLocal(cfg.ArchiveRoot, cfg.MediaBaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open media store: %w", err)
	}

	profiles, err := pdf.LoadProfiles(cfg.ProfilesFile)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	converter := pdf.NewConverter(pdf.ConverterOptions{
		IndesignPath:    cfg.IndesignServerPath,
		GhostscriptPath: cfg.GhostscriptPath,
		Profiles:        profiles,
		ProcessTimeout:  cfg.ProcessTimeout,
		Logger:          logger.With().Str("component", "converter").Logger(),
	})
	rasterizer := pdf.NewRasterizer(cfg.RasterDPI, logger.With().Str("component", "rasterizer").Logger())

	assembler, err := digitize.NewAssembler(digitize.Options{
		Catalog:     store,
		Store:       media,
		Converter:   converter,
		Rasterizer:  rasterizer,
		WorkRoot:    cfg.WorkRoot,
		PageWorkers: cfg.PageWorkers,
		Logger:      logger.With().Str("component", "digitize").Logger(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Components{
		Catalog:   store,
		Media:     media,
		Assembler: assembler,
	}, nil
}

// Close はカタログ接続を閉じます。
func (c *Components) Close() error {
	return c.Catalog.Close()
}
