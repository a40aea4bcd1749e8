package pdf

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog"
)

// DefaultDPI はページ画像の標準解像度です。
const DefaultDPI = 300

// PageImage はラスタライズ済みの1ページです。Number は1始まりです。
type PageImage struct {
	Number int
	Path   string
	Width  int
	Height int
}

// Decode はページ画像をファイルから読み込みます。
func (p PageImage) Decode() (image.Image, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", p.Number, err)
	}
	return img, nil
}

// Rasterizer は MuPDF でPDFをページ画像に変換します。
type Rasterizer struct {
	dpi    float64
	logger zerolog.Logger
}

// NewRasterizer は Rasterizer を生成します。dpi が0以下の場合は300を使います。
func NewRasterizer(dpi int, logger zerolog.Logger) *Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{dpi: float64(dpi), logger: logger}
}

// Rasterize は全ページを {workDir}/pages/page_NNNN.png に書き出し、ページ順に返します。
// 全ページの書き出しが終わるまで戻りません。
func (r *Rasterizer) Rasterize(ctx context.Context, intermediate, workDir string) ([]PageImage, error) {
	doc, err := fitz.New(intermediate)
	if err != nil {
		return nil, newError(CodeRasterizationFailed, "PDFを開けません", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count < 1 {
		return nil, newError(CodeRasterizationFailed, "PDFにページがありません", nil)
	}

	pagesDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o750); err != nil {
		return nil, fmt.Errorf("ページディレクトリの作成に失敗しました: %w", err)
	}

	pages := make([]PageImage, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return nil, newError(CodeRasterizationFailed, fmt.Sprintf("%dページ目の描画に失敗しました", i+1), err)
		}
		path := filepath.Join(pagesDir, fmt.Sprintf("page_%04d.png", i+1))
		if err := writePNG(path, img); err != nil {
			return nil, newError(CodeRasterizationFailed, fmt.Sprintf("%dページ目の保存に失敗しました", i+1), err)
		}
		b := img.Bounds()
		pages = append(pages, PageImage{Number: i + 1, Path: path, Width: b.Dx(), Height: b.Dy()})
	}

	r.logger.Debug().Int("pages", count).Float64("dpi", r.dpi).Msg("document rasterized")
	return pages, nil
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(f, img)
}
