// Package digitize は組版ファイル1つを1号分のデジタルアーカイブに組み立てます。
package digitize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/imaging"
	"github.com/yourusername/archive-forge/internal/pdf"
)

// State はデジタル化処理の状態です。
type State string

const (
	StatePending        State = "pending"
	StateConverting     State = "converting"
	StateRasterizing    State = "rasterizing"
	StatePageProcessing State = "page_processing"
	StateFinalizing     State = "finalizing"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

const defaultPageWorkers = 4

// Converter は中間PDFの生成と配信用PDFの最適化を行います。
type Converter interface {
	ConvertToIntermediate(ctx context.Context, source, workDir string) (string, error)
	Optimize(ctx context.Context, intermediate string, profile pdf.Profile, workDir string) (*pdf.OptimizedDocument, error)
}

// Rasterizer は中間PDFをページ画像に変換します。
type Rasterizer interface {
	Rasterize(ctx context.Context, intermediate, workDir string) ([]pdf.PageImage, error)
}

// Source はデジタル化する組版ファイルです。
type Source struct {
	Path string // 読み込むファイルのパス
	Name string // 記録に残す元のファイル名。空の場合は Path のベース名
}

// DisplayName はページ記録とマニフェストに残すファイル名を返します。
func (s Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Path == "" {
		return ""
	}
	return filepath.Base(s.Path)
}

// Options は Assembler の依存関係と設定です。
type Options struct {
	Catalog     archive.Catalog
	Store       archive.MediaStore
	Converter   Converter
	Rasterizer  Rasterizer
	WorkRoot    string
	PageWorkers int
	Profiles    []pdf.Profile
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Assembler はデジタル化パイプラインを実行します。
type Assembler struct {
	catalog    archive.Catalog
	store      archive.MediaStore
	converter  Converter
	rasterizer Rasterizer
	workRoot   string
	workers    int
	profiles   []pdf.Profile
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAssembler は Assembler を生成します。
func NewAssembler(opts Options) (*Assembler, error) {
	switch {
	case opts.Catalog == nil:
		return nil, errors.New("digitize: catalog is required")
	case opts.Store == nil:
		return nil, errors.New("digitize: media store is required")
	case opts.Converter == nil:
		return nil, errors.New("digitize: converter is required")
	case opts.Rasterizer == nil:
		return nil, errors.New("digitize: rasterizer is required")
	case opts.WorkRoot == "":
		return nil, errors.New("digitize: work root is required")
	}
	workers := opts.PageWorkers
	if workers <= 0 {
		workers = defaultPageWorkers
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = pdf.Profiles
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		catalog:    opts.Catalog,
		store:      opts.Store,
		converter:  opts.Converter,
		rasterizer: opts.Rasterizer,
		workRoot:   opts.WorkRoot,
		workers:    workers,
		profiles:   profiles,
		logger:     opts.Logger,
		now:        now,
	}, nil
}

// run は1回分の実行状態です。
type run struct {
	edition  *archive.Edition
	source   Source
	state    State
	manifest *archive.Manifest
	preview  *archive.MediaReference
	progress ProgressReporter
	logger   zerolog.Logger
}

func (a *Assembler) transition(r *run, next State, percent int) {
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(next)).Msg("state transition")
	r.state = next
	reportProgress(r.progress, string(next), percent)
}

func (a *Assembler) fail(r *run, editionID int64, err error) error {
	stage := r.state
	r.state = StateFailed
	r.logger.Error().Err(err).Str("stage", string(stage)).Msg("digitization failed")
	reportProgress(r.progress, string(StateFailed), 100)
	return &StageError{EditionID: editionID, Stage: stage, Err: err}
}

// ProcessEdition は source を editionID の号としてデジタル化し、結果の Manifest を返します。
// ページ単位の失敗は Manifest に記録され、変換・ラスタライズ・集計の失敗とキャンセルのみ
// *StageError として返します。作業ディレクトリはどの経路でも削除されます。
// 同じ号を別の実行が処理中の場合は ErrEditionBusy をラップして返します。
func (a *Assembler) ProcessEdition(ctx context.Context, source Source, editionID int64, progress ProgressReporter) (*archive.Manifest, error) {
	r := &run{
		source:   source,
		state:    StatePending,
		progress: progress,
		logger:   a.logger.With().Int64("edition_id", editionID).Logger(),
	}
	reportProgress(progress, string(StatePending), 0)

	edition, err := a.catalog.GetEdition(ctx, editionID)
	if err != nil {
		return nil, a.fail(r, editionID, fmt.Errorf("load edition: %w", err))
	}
	r.edition = edition
	r.manifest = archive.NewManifest(edition, source.DisplayName(), a.now())

	// 作業ディレクトリは号ごとに1実行だけが専有する
	lock, err := LockEdition(a.workRoot, editionID)
	if err != nil {
		return nil, a.fail(r, editionID, err)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			r.logger.Warn().Err(unlockErr).Msg("failed to release edition lock")
		}
	}()

	ws, err := pdf.AcquireWorkspace(a.workRoot, editionID)
	if err != nil {
		return nil, a.fail(r, editionID, err)
	}
	defer func() {
		if relErr := ws.Release(); relErr != nil {
			r.logger.Warn().Err(relErr).Str("dir", ws.Dir).Msg("failed to remove workspace")
		}
	}()

	// 変換
	a.transition(r, StateConverting, 5)
	if err := ctx.Err(); err != nil {
		return nil, a.fail(r, editionID, err)
	}
	intermediate, err := a.converter.ConvertToIntermediate(ctx, source.Path, ws.Dir)
	if err != nil {
		return nil, a.fail(r, editionID, err)
	}

	// ラスタライズ
	a.transition(r, StateRasterizing, 20)
	if err := ctx.Err(); err != nil {
		return nil, a.fail(r, editionID, err)
	}
	pages, err := a.rasterizer.Rasterize(ctx, intermediate, ws.Dir)
	if err != nil {
		return nil, a.fail(r, editionID, err)
	}
	if len(pages) == 0 {
		return nil, a.fail(r, editionID, &pdf.Error{Code: pdf.CodeRasterizationFailed, Message: "document has no pages"})
	}
	r.logger.Info().Int("pages", len(pages)).Msg("document rasterized")

	// ページ処理
	a.transition(r, StatePageProcessing, 30)
	a.processPages(ctx, r, pages)
	if err := ctx.Err(); err != nil {
		// 集計値は更新しない。確定済みのページはそのまま残る
		return r.manifest, a.fail(r, editionID, err)
	}

	// 集計
	a.transition(r, StateFinalizing, 85)
	if err := a.finalize(ctx, r); err != nil {
		return r.manifest, a.fail(r, editionID, err)
	}

	if r.manifest.IsDigitized {
		reportProgress(progress, string(StateFinalizing), 90)
		a.optimize(ctx, r, intermediate, ws.OutDir)
	}

	if relErr := ws.Release(); relErr != nil {
		r.logger.Warn().Err(relErr).Msg("failed to remove workspace")
	}
	r.manifest.FinishedAt = a.now().UTC()

	status := r.manifest.Status()
	if status == archive.RunFailed {
		a.transition(r, StateFailed, 100)
	} else {
		a.transition(r, StateCompleted, 100)
	}
	r.logger.Info().
		Str("status", string(status)).
		Int("page_count", r.manifest.PageCount).
		Int("failed_pages", len(r.manifest.Failures)).
		Int64("file_size", r.manifest.FileSize).
		Msg("digitization finished")
	return r.manifest, nil
}

type pageResult struct {
	attempted bool
	assets    archive.PageAssets
	preview   *archive.MediaReference
	err       *PageError
}

// processPages はページを並列に処理します。キャンセル後は新しいページを開始しませんが、
// 開始済みのページは最後まで処理します。
func (a *Assembler) processPages(ctx context.Context, r *run, pages []pdf.PageImage) {
	results := make([]pageResult, len(pages))
	tracker := newPageProgress(r.progress, len(pages), 30, 80)

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i := range pages {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = a.processPage(context.WithoutCancel(ctx), r, pages[i])
			tracker.pageDone()
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		switch {
		case !res.attempted:
		case res.err != nil:
			r.logger.Warn().Err(res.err.Err).Int("page", res.err.Page).Str("stage", res.err.Stage).Msg("page failed")
			r.manifest.Failures = append(r.manifest.Failures, archive.PageFailure{
				Page:   res.err.Page,
				Stage:  res.err.Stage,
				Reason: res.err.Err.Error(),
			})
		default:
			r.manifest.Pages = append(r.manifest.Pages, res.assets)
			if res.preview != nil {
				r.preview = res.preview
				r.manifest.Preview = res.preview.Key
			}
		}
	}
	r.manifest.SortPages()
}

func (a *Assembler) processPage(ctx context.Context, r *run, page pdf.PageImage) pageResult {
	res := pageResult{attempted: true}
	ed := r.edition
	n := page.Number
	failed := func(stage string, err error) pageResult {
		res.err = &PageError{Page: n, Stage: stage, Err: err}
		return res
	}

	highRes, err := a.store.SaveFile(ctx, archive.PageKey(ed.Year, ed.Number, fmt.Sprintf("page_%d.png", n)), page.Path, archive.MediaTypeImage)
	if err != nil {
		return failed("store", err)
	}

	img, err := page.Decode()
	if err != nil {
		return failed("decode", err)
	}

	thumb, err := a.saveDerivative(ctx, img, imaging.Thumbnail, imaging.ThumbnailQuality,
		archive.PageKey(ed.Year, ed.Number, fmt.Sprintf("thumb_%d.jpg", n)))
	if err != nil {
		return failed("thumbnail", err)
	}
	mobile, err := a.saveDerivative(ctx, img, imaging.Mobile, imaging.MobileQuality,
		archive.PageKey(ed.Year, ed.Number, fmt.Sprintf("mobile_%d.jpg", n)))
	if err != nil {
		return failed("mobile", err)
	}
	if n == 1 {
		res.preview, err = a.saveDerivative(ctx, img, imaging.Preview, imaging.PreviewQuality,
			archive.EditionKey(ed.Year, ed.Number, "preview.jpg"))
		if err != nil {
			return failed("preview", err)
		}
	}

	content, metadata := archive.NewDigitizedPage(ed.ID, n, highRes.Key, r.source.DisplayName(), a.now())
	created, err := a.catalog.CreatePage(ctx, ed.ID, content, metadata)
	if err != nil {
		return failed("catalog", err)
	}

	res.assets = archive.PageAssets{
		Number:    n,
		HighRes:   highRes.Key,
		Thumbnail: thumb.Key,
		Mobile:    mobile.Key,
		ContentID: created.Content.ID,
		Size:      highRes.Size,
	}
	return res
}

func (a *Assembler) saveDerivative(ctx context.Context, src image.Image, derive func(image.Image) (image.Image, error), quality int, key string) (*archive.MediaReference, error) {
	img, err := derive(src)
	if err != nil {
		return nil, err
	}
	data, err := imaging.EncodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	return a.store.Save(ctx, key, data, archive.MediaTypeImage)
}

// finalize は全ページの処理完了後に号の集計値を書き戻します。
// 前回実行の残りページは削除し、page_count とページ数を一致させます。
func (a *Assembler) finalize(ctx context.Context, r *run) error {
	m := r.manifest
	keep := m.PageNumbers()

	removed, err := a.catalog.DeletePagesExcept(ctx, r.edition.ID, keep)
	if err != nil {
		return fmt.Errorf("prune stale pages: %w", err)
	}
	if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("stale pages from previous run removed")
	}

	agg := archive.Aggregates{
		PageCount:   len(keep),
		FileSize:    m.TotalSize(),
		IsDigitized: len(keep) > 0,
	}
	if agg.IsDigitized && !r.edition.HasCover() && r.preview != nil {
		cover := &archive.Media{
			Path:        r.preview.Key,
			URL:         r.preview.URL,
			MediaType:   archive.MediaTypeImage,
			ContentType: r.preview.ContentType,
			AltText:     fmt.Sprintf("Cover of %s", r.edition.Title),
			Size:        r.preview.Size,
			CreatedAt:   a.now().UTC(),
		}
		if err := a.catalog.CreateMedia(ctx, cover); err != nil {
			r.logger.Warn().Err(err).Msg("failed to create cover media")
			m.Warnings = append(m.Warnings, fmt.Sprintf("cover: %v", err))
		} else {
			agg.CoverMediaID = &cover.ID
		}
	}

	if err := a.catalog.UpdateEditionAggregates(ctx, r.edition.ID, agg); err != nil {
		return fmt.Errorf("update edition aggregates: %w", err)
	}

	m.PageCount = agg.PageCount
	m.FileSize = agg.FileSize
	m.IsDigitized = agg.IsDigitized
	m.CoverMedia = agg.CoverMediaID
	if m.CoverMedia == nil {
		m.CoverMedia = r.edition.CoverMediaID
	}
	return nil
}

// optimize は配信用PDFを生成します。失敗は警告として記録し、処理は継続します。
func (a *Assembler) optimize(ctx context.Context, r *run, intermediate, outDir string) {
	m := r.manifest
	for _, profile := range a.profiles {
		if err := ctx.Err(); err != nil {
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s: skipped: %v", profile, err))
			continue
		}
		logger := r.logger.With().Str("profile", string(profile)).Logger()

		doc, err := a.converter.Optimize(ctx, intermediate, profile, outDir)
		if err != nil {
			logger.Warn().Err(err).Msg("optimization failed")
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s: %v", profile, err))
			continue
		}
		key := archive.EditionKey(r.edition.Year, r.edition.Number, string(profile)+".pdf")
		ref, err := a.store.SaveFile(ctx, key, doc.Path, archive.MediaTypeDocument)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to store optimized document")
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s: %v", profile, err))
			continue
		}
		m.Documents[string(profile)] = archive.OptimizedDocument{
			Profile: string(profile),
			Path:    ref.Key,
			URL:     ref.URL,
			Size:    ref.Size,
			Pages:   doc.Pages,
		}
	}
}
