package digitize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/pdf"
)

const testEditionID int64 = 7

type fixture struct {
	catalog    *memCatalog
	store      *memStore
	converter  *fakeConverter
	rasterizer *fakeRasterizer
	workRoot   string
	assembler  *Assembler
}

func newFixture(t *testing.T, pages int) *fixture {
	t.Helper()
	f := &fixture{
		catalog: newMemCatalog(&archive.Edition{
			ID: testEditionID, Year: 1987, Number: 3, Title: "Spring Issue", Slug: "1987-3-spring-issue",
		}),
		store:      newMemStore(),
		converter:  &fakeConverter{optimizeErr: map[pdf.Profile]error{}},
		rasterizer: &fakeRasterizer{pages: pages},
		workRoot:   t.TempDir(),
	}
	a, err := NewAssembler(Options{
		Catalog:     f.catalog,
		Store:       f.store,
		Converter:   f.converter,
		Rasterizer:  f.rasterizer,
		WorkRoot:    f.workRoot,
		PageWorkers: 2,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	f.assembler = a
	return f
}

func (f *fixture) process(t *testing.T, ctx context.Context, progress ProgressReporter) (*archive.Manifest, error) {
	t.Helper()
	m, err := f.assembler.ProcessEdition(ctx, Source{Path: "/uploads/0f3a.indd", Name: "issue.indd"}, testEditionID, progress)
	assert.Empty(t, workspaceEntries(t, f.workRoot), "workspace must be removed")
	return m, err
}

func TestProcessEditionCompletes(t *testing.T) {
	f := newFixture(t, 3)
	progress := &progressLog{}

	m, err := f.process(t, context.Background(), progress.report)
	require.NoError(t, err)

	assert.Equal(t, archive.RunCompleted, m.Status())
	assert.Equal(t, []int{1, 2, 3}, m.PageNumbers())
	assert.Empty(t, m.Failures)

	ed := f.catalog.edition(testEditionID)
	assert.Equal(t, 3, ed.PageCount)
	assert.True(t, ed.IsDigitized)
	assert.Equal(t, []int{1, 2, 3}, f.catalog.pageNumbers(testEditionID))
	assert.False(t, hasOrphans(f.catalog, testEditionID))

	var total int64
	for _, p := range m.Pages {
		assert.Equal(t, f.store.size(p.HighRes), p.Size)
		total += p.Size
	}
	assert.Equal(t, total, ed.FileSize)
	assert.Equal(t, total, m.FileSize)

	assert.True(t, f.store.has("1987/3/pages/page_2.png"))
	assert.True(t, f.store.has("1987/3/pages/thumb_2.jpg"))
	assert.True(t, f.store.has("1987/3/pages/mobile_3.jpg"))
	assert.True(t, f.store.has("1987/3/preview.jpg"))
	assert.Equal(t, "1987/3/preview.jpg", m.Preview)

	require.Len(t, f.catalog.media, 1)
	assert.Equal(t, "Cover of Spring Issue", f.catalog.media[0].AltText)
	require.NotNil(t, ed.CoverMediaID)
	assert.Equal(t, f.catalog.media[0].ID, *ed.CoverMediaID)

	assert.True(t, f.store.has("1987/3/web.pdf"))
	assert.True(t, f.store.has("1987/3/mobile.pdf"))
	assert.Len(t, m.Documents, 2)

	page := f.catalog.pages[testEditionID][1]
	assert.Equal(t, "Page 1", page.Content.Title)
	assert.Equal(t, "1987/3/pages/page_1.png", page.Content.DigitalContent)
	assert.Equal(t, "Automatically processed from issue.indd", page.Metadata.DigitizationNotes)
	assert.Equal(t, "issue.indd", m.Source)

	assert.Equal(t, []string{
		string(StatePending), string(StateConverting), string(StateRasterizing),
		string(StatePageProcessing), string(StateFinalizing), string(StateCompleted),
	}, progress.stages)
	assert.Equal(t, 100, progress.last)
}

func TestProcessEditionIsolatesPageFailures(t *testing.T) {
	f := newFixture(t, 3)
	f.store.failKey["1987/3/pages/page_2.png"] = errDiskFull

	m, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, archive.RunCompletedWithErrors, m.Status())
	assert.Equal(t, []int{1, 3}, m.PageNumbers())
	require.Len(t, m.Failures, 1)
	assert.Equal(t, 2, m.Failures[0].Page)
	assert.Equal(t, "store", m.Failures[0].Stage)
	assert.Contains(t, m.Failures[0].Reason, "disk full")

	ed := f.catalog.edition(testEditionID)
	assert.Equal(t, 2, ed.PageCount)
	assert.True(t, ed.IsDigitized)
	assert.Equal(t, []int{1, 3}, f.catalog.pageNumbers(testEditionID))
	assert.False(t, hasOrphans(f.catalog, testEditionID))
}

func TestProcessEditionRecordsTranscodeAndCatalogFailures(t *testing.T) {
	f := newFixture(t, 4)
	f.rasterizer.corrupt = map[int]bool{2: true}
	f.catalog.failPage[4] = errors.New("constraint violation")

	m, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, m.PageNumbers())
	require.Len(t, m.Failures, 2)
	assert.Equal(t, archive.PageFailure{Page: 2, Stage: "decode", Reason: m.Failures[0].Reason}, m.Failures[0])
	assert.Equal(t, "catalog", m.Failures[1].Stage)
	assert.Equal(t, 2, f.catalog.edition(testEditionID).PageCount)
}

func TestProcessEditionAllPagesFailed(t *testing.T) {
	f := newFixture(t, 2)
	f.store.failKey["1987/3/pages/page_1.png"] = errDiskFull
	f.store.failKey["1987/3/pages/page_2.png"] = errDiskFull

	m, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, archive.RunFailed, m.Status())
	ed := f.catalog.edition(testEditionID)
	assert.False(t, ed.IsDigitized)
	assert.Zero(t, ed.PageCount)
	assert.Empty(t, m.Documents)
	assert.Empty(t, f.catalog.media)
}

func TestProcessEditionConversionFailure(t *testing.T) {
	f := newFixture(t, 3)
	f.converter.convertErr = &pdf.Error{Code: pdf.CodeConversionFailed, Message: "exit status 1"}
	before := f.catalog.edition(testEditionID)
	progress := &progressLog{}

	m, err := f.process(t, context.Background(), progress.report)
	require.Error(t, err)
	assert.Nil(t, m)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateConverting, stageErr.Stage)
	assert.Equal(t, testEditionID, stageErr.EditionID)
	assert.True(t, pdf.IsConversionError(err))

	assert.Equal(t, before, f.catalog.edition(testEditionID))
	assert.Empty(t, f.catalog.pageNumbers(testEditionID))
	assert.Zero(t, f.catalog.aggregateCalls)
	assert.Equal(t, string(StateFailed), progress.stages[len(progress.stages)-1])

	require.Len(t, f.converter.workDirs, 1)
	assert.NoDirExists(t, f.converter.workDirs[0])
}

func TestProcessEditionZeroPages(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.process(t, context.Background(), nil)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateRasterizing, stageErr.Stage)
	assert.True(t, pdf.IsRasterizationError(err))
	assert.Zero(t, f.catalog.aggregateCalls)
	assert.False(t, f.catalog.edition(testEditionID).IsDigitized)
}

func TestProcessEditionRerunReplacesPages(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)
	firstCover := f.catalog.edition(testEditionID).CoverMediaID

	f.rasterizer.pages = 2
	m, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, m.PageNumbers())
	assert.Equal(t, []int{1, 2}, f.catalog.pageNumbers(testEditionID))
	ed := f.catalog.edition(testEditionID)
	assert.Equal(t, 2, ed.PageCount)
	assert.Equal(t, firstCover, ed.CoverMediaID)
	assert.Len(t, f.catalog.media, 1, "existing cover is kept")
	assert.False(t, hasOrphans(f.catalog, testEditionID))
}

func TestProcessEditionRemovesLeftoverWorkspace(t *testing.T) {
	f := newFixture(t, 1)
	stale := filepath.Join(f.workRoot, "7", "pages")
	require.NoError(t, os.MkdirAll(stale, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "page_0009.png"), []byte("crashed run"), 0o644))

	m, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, m.PageNumbers())
}

func TestProcessEditionOptimizationFailureIsWarning(t *testing.T) {
	f := newFixture(t, 1)
	f.converter.optimizeErr[pdf.ProfileMobile] = &pdf.Error{Code: pdf.CodeOptimizationFailed, Message: "gs crashed"}

	m, err := f.process(t, context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, archive.RunCompleted, m.Status())
	assert.Contains(t, m.Documents, "web")
	assert.NotContains(t, m.Documents, "mobile")
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "mobile")
	assert.True(t, f.catalog.edition(testEditionID).IsDigitized)
}

func TestProcessEditionCancelledBetweenStages(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	f.rasterizer.after = cancel

	_, err := f.process(t, ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StatePageProcessing, stageErr.Stage)
	assert.Zero(t, f.catalog.aggregateCalls)
	assert.False(t, f.catalog.edition(testEditionID).IsDigitized)
}

func TestProcessEditionUnknownEdition(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.assembler.ProcessEdition(context.Background(), Source{Path: "issue.indd"}, 404, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrNotFound)
	assert.Empty(t, f.converter.workDirs)
}

func TestProcessEditionRefusesLockedEdition(t *testing.T) {
	f := newFixture(t, 2)

	held, err := LockEdition(f.workRoot, testEditionID)
	require.NoError(t, err)
	defer held.Unlock()

	// 保持側の実行中のページ画像
	live := filepath.Join(f.workRoot, strconv.FormatInt(testEditionID, 10), "pages", "page_0001.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(live), 0o750))
	require.NoError(t, os.WriteFile(live, []byte("png"), 0o644))

	_, err = f.assembler.ProcessEdition(context.Background(), Source{Path: "issue.indd"}, testEditionID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEditionBusy)
	assert.FileExists(t, live, "the holder's workspace is left alone")
	assert.Empty(t, f.converter.workDirs)
	assert.False(t, f.catalog.edition(testEditionID).IsDigitized)
}

func TestNewAssemblerValidatesOptions(t *testing.T) {
	_, err := NewAssembler(Options{})
	assert.Error(t, err)
}

func TestSourceDisplayName(t *testing.T) {
	assert.Equal(t, "issue.indd", Source{Path: "/uploads/issue.indd"}.DisplayName())
	assert.Equal(t, "Spring 1987.indd", Source{Path: "/uploads/0b1c.indd", Name: "Spring 1987.indd"}.DisplayName())
	assert.Empty(t, Source{}.DisplayName())
}
