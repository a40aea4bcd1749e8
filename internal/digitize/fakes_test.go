package digitize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/pdf"
)

// memCatalog はテスト用のインメモリカタログです。
type memCatalog struct {
	mu             sync.Mutex
	nextID         int64
	editions       map[int64]*archive.Edition
	pages          map[int64]map[int]archive.Page
	media          []archive.Media
	aggregateCalls int
	failPage       map[int]error
}

func newMemCatalog(editions ...*archive.Edition) *memCatalog {
	c := &memCatalog{
		editions: make(map[int64]*archive.Edition),
		pages:    make(map[int64]map[int]archive.Page),
		failPage: make(map[int]error),
	}
	for _, ed := range editions {
		cp := *ed
		c.editions[ed.ID] = &cp
	}
	return c
}

func (c *memCatalog) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *memCatalog) GetEdition(_ context.Context, id int64) (*archive.Edition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ed, ok := c.editions[id]
	if !ok {
		return nil, archive.ErrNotFound
	}
	cp := *ed
	return &cp, nil
}

func (c *memCatalog) GetOrCreateEdition(_ context.Context, year, number int, draft archive.EditionDraft) (*archive.Edition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ed := range c.editions {
		if ed.Year == year && ed.Number == number {
			cp := *ed
			return &cp, nil
		}
	}
	ed, err := archive.NewEdition(year, number, draft)
	if err != nil {
		return nil, err
	}
	ed.ID = c.id()
	c.editions[ed.ID] = ed
	cp := *ed
	return &cp, nil
}

func (c *memCatalog) ListPageNumbers(_ context.Context, editionID int64) (map[int]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]struct{})
	for n := range c.pages[editionID] {
		out[n] = struct{}{}
	}
	return out, nil
}

func (c *memCatalog) CreatePage(_ context.Context, editionID int64, content archive.PageContent, metadata archive.PageMetadata) (*archive.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failPage[content.PageNumber]; err != nil {
		return nil, err
	}
	if c.pages[editionID] == nil {
		c.pages[editionID] = make(map[int]archive.Page)
	}
	content.ID = c.id()
	content.EditionID = editionID
	metadata.ID = c.id()
	metadata.PageContentID = content.ID
	page := archive.Page{Content: content, Metadata: metadata}
	c.pages[editionID][content.PageNumber] = page
	return &page, nil
}

func (c *memCatalog) DeletePagesExcept(_ context.Context, editionID int64, keep []int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make(map[int]bool, len(keep))
	for _, n := range keep {
		kept[n] = true
	}
	removed := 0
	for n := range c.pages[editionID] {
		if !kept[n] {
			delete(c.pages[editionID], n)
			removed++
		}
	}
	return removed, nil
}

func (c *memCatalog) CreateMedia(_ context.Context, media *archive.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	media.ID = c.id()
	c.media = append(c.media, *media)
	return nil
}

func (c *memCatalog) UpdateEditionAggregates(_ context.Context, editionID int64, agg archive.Aggregates) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ed, ok := c.editions[editionID]
	if !ok {
		return archive.ErrNotFound
	}
	c.aggregateCalls++
	ed.PageCount = agg.PageCount
	ed.FileSize = agg.FileSize
	ed.IsDigitized = agg.IsDigitized
	if agg.CoverMediaID != nil {
		ed.CoverMediaID = agg.CoverMediaID
	}
	return nil
}

func (c *memCatalog) edition(id int64) archive.Edition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.editions[id]
}

func (c *memCatalog) pageNumbers(editionID int64) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.pages[editionID]))
	for n := range c.pages[editionID] {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// memStore はテスト用のインメモリメディアストアです。
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failKey map[string]error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), failKey: make(map[string]error)}
}

func (s *memStore) Save(_ context.Context, key string, data []byte, mediaType archive.MediaType) (*archive.MediaReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failKey[key]; err != nil {
		return nil, err
	}
	s.objects[key] = append([]byte(nil), data...)
	return &archive.MediaReference{
		ID:          key,
		Key:         key,
		Path:        "/archive/" + key,
		URL:         "https://media.test/" + key,
		MediaType:   mediaType,
		ContentType: "application/octet-stream",
		Size:        int64(len(data)),
	}, nil
}

func (s *memStore) SaveFile(ctx context.Context, key string, srcPath string, mediaType archive.MediaType) (*archive.MediaReference, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, err
	}
	return s.Save(ctx, key, data, mediaType)
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *memStore) size(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.objects[key]))
}

// fakeConverter は外部プロセスの代わりに固定の結果を返します。
type fakeConverter struct {
	convertErr  error
	optimizeErr map[pdf.Profile]error
	workDirs    []string
	mu          sync.Mutex
}

func (f *fakeConverter) ConvertToIntermediate(_ context.Context, source, workDir string) (string, error) {
	f.mu.Lock()
	f.workDirs = append(f.workDirs, workDir)
	f.mu.Unlock()
	if f.convertErr != nil {
		return "", f.convertErr
	}
	out := filepath.Join(workDir, "edition.pdf")
	return out, os.WriteFile(out, []byte("%PDF-1.4 "+filepath.Base(source)), 0o644)
}

func (f *fakeConverter) Optimize(_ context.Context, intermediate string, profile pdf.Profile, workDir string) (*pdf.OptimizedDocument, error) {
	if err := f.optimizeErr[profile]; err != nil {
		return nil, err
	}
	out := filepath.Join(workDir, string(profile)+".pdf")
	data := []byte("%PDF-1.4 optimized " + string(profile))
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return nil, err
	}
	return &pdf.OptimizedDocument{Profile: profile, Path: out, Size: int64(len(data)), Pages: 1}, nil
}

// fakeRasterizer は指定枚数のPNGを書き出します。
type fakeRasterizer struct {
	pages   int
	err     error
	corrupt map[int]bool
	after   func()
}

func (f *fakeRasterizer) Rasterize(_ context.Context, _ string, workDir string) ([]pdf.PageImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	dir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	pages := make([]pdf.PageImage, 0, f.pages)
	for n := 1; n <= f.pages; n++ {
		path := filepath.Join(dir, fmt.Sprintf("page_%04d.png", n))
		if f.corrupt[n] {
			if err := os.WriteFile(path, []byte("not a png"), 0o644); err != nil {
				return nil, err
			}
		} else if err := writePage(path, 620, 877, uint8(n*40)); err != nil {
			return nil, err
		}
		pages = append(pages, pdf.PageImage{Number: n, Path: path, Width: 620, Height: 877})
	}
	if f.after != nil {
		f.after()
	}
	return pages, nil
}

func writePage(path string, w, h int, shade uint8) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

var errDiskFull = errors.New("disk full")

type progressLog struct {
	mu     sync.Mutex
	stages []string
	last   int
}

func (p *progressLog) report(stage string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.stages); n == 0 || p.stages[n-1] != stage {
		p.stages = append(p.stages, stage)
	}
	p.last = percent
}

func workspaceEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read work root: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == lockDirName {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

func hasOrphans(c *memCatalog, editionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, p := range c.pages[editionID] {
		if p.Content.PageNumber != n || p.Content.DigitalContent == "" {
			return true
		}
		if p.Metadata.ID == 0 || p.Metadata.PageContentID != p.Content.ID {
			return true
		}
	}
	return false
}
