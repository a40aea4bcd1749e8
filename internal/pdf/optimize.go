package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// OptimizedDocument は Optimize の結果です。
type OptimizedDocument struct {
	Profile Profile
	Path    string
	Size    int64
	Pages   int
}

// Optimize は Ghostscript で中間PDFを profile 向けに圧縮します。
// 出力は {workDir}/{profile}.pdf に書き出され、ページ数を検証します。
func (c *Converter) Optimize(ctx context.Context, intermediate string, profile Profile, workDir string) (*OptimizedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	settings, ok := c.profiles[profile]
	if !ok {
		return nil, newError(CodeOptimizationFailed, fmt.Sprintf("不明なプロファイルです: %s", profile), nil)
	}
	if c.ghostscriptPath == "" {
		return nil, newError(CodeOptimizationFailed, "Ghostscriptのパスが設定されていません", nil)
	}

	outputPath := filepath.Join(workDir, string(profile)+".pdf")
	start := time.Now()
	if out, err := c.run(ctx, c.ghostscriptPath, ghostscriptArgs(outputPath, intermediate, settings)); err != nil {
		return nil, newError(CodeOptimizationFailed, fmt.Sprintf("Ghostscriptによる圧縮に失敗しました: %s", out), err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return nil, newError(CodeOptimizationFailed, "圧縮後ファイルの確認に失敗しました", err)
	}
	pages, err := api.PageCountFile(outputPath)
	if err != nil {
		return nil, newError(CodeOptimizationFailed, "圧縮後PDFの検証に失敗しました", err)
	}

	c.logger.Info().
		Str("profile", string(profile)).
		Int64("size", info.Size()).
		Int("pages", pages).
		Dur("elapsed", time.Since(start)).
		Msg("optimized PDF written")

	return &OptimizedDocument{
		Profile: profile,
		Path:    outputPath,
		Size:    info.Size(),
		Pages:   pages,
	}, nil
}

func ghostscriptArgs(outputPath, inputPath string, p ProfileSettings) []string {
	args := []string{
		"-sDEVICE=pdfwrite",
		fmt.Sprintf("-dCompatibilityLevel=%s", p.CompatibilityLevel),
		fmt.Sprintf("-dPDFSETTINGS=%s", p.PDFSettings),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
	}
	if p.ImageResolution > 0 {
		args = append(args,
			"-dDownsampleColorImages=true",
			"-dDownsampleGrayImages=true",
			fmt.Sprintf("-dColorImageResolution=%d", p.ImageResolution),
			fmt.Sprintf("-dGrayImageResolution=%d", p.ImageResolution),
		)
	}
	return append(args, fmt.Sprintf("-sOutputFile=%s", outputPath), inputPath)
}
