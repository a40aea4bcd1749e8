package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
)

const (
	intermediateFilename  = "edition.pdf"
	defaultProcessTimeout = 30 * time.Minute
)

func init() {
	// pdfcpu が設定ディレクトリを作成しないようにする
	api.DisableConfigDir()
}

// ExportSettings は組版サーバーへ渡すPDF書き出し設定です。
type ExportSettings struct {
	Format       string             `json:"format"`
	Quality      string             `json:"quality"`
	Spreads      bool               `json:"spreads"`
	Optimization ExportOptimization `json:"optimization"`
	Metadata     ExportMetadata     `json:"metadata"`
}

type ExportOptimization struct {
	Compression string `json:"compression"`
	ColorSpace  string `json:"colorSpace"`
	Resolution  int    `json:"resolution"`
}

type ExportMetadata struct {
	PreserveMetadata  bool `json:"preserveMetadata"`
	PreserveStructure bool `json:"preserveStructure"`
}

// DefaultExportSettings はアーカイブ用の高品質書き出し設定を返します。
func DefaultExportSettings() ExportSettings {
	return ExportSettings{
		Format:  "PDF",
		Quality: "HIGH",
		Spreads: true,
		Optimization: ExportOptimization{
			Compression: "lossless",
			ColorSpace:  "RGB",
			Resolution:  300,
		},
		Metadata: ExportMetadata{
			PreserveMetadata:  true,
			PreserveStructure: true,
		},
	}
}

// ConverterOptions は Converter の設定です。
type ConverterOptions struct {
	IndesignPath    string
	GhostscriptPath string
	Profiles        map[Profile]ProfileSettings
	ProcessTimeout  time.Duration
	Logger          zerolog.Logger
}

// Converter は外部プロセスで組版ファイルをPDFへ変換し、配信用PDFを生成します。
type Converter struct {
	indesignPath    string
	ghostscriptPath string
	profiles        map[Profile]ProfileSettings
	timeout         time.Duration
	settings        ExportSettings
	logger          zerolog.Logger
}

// NewConverter は Converter を生成します。
func NewConverter(opts ConverterOptions) *Converter {
	timeout := opts.ProcessTimeout
	if timeout <= 0 {
		timeout = defaultProcessTimeout
	}
	profiles := DefaultProfiles()
	for name, p := range opts.Profiles {
		profiles[name] = p
	}
	return &Converter{
		indesignPath:    opts.IndesignPath,
		ghostscriptPath: opts.GhostscriptPath,
		profiles:        profiles,
		timeout:         timeout,
		settings:        DefaultExportSettings(),
		logger:          opts.Logger,
	}
}

// ConvertToIntermediate は source を workDir 内の中間PDFに変換し、そのパスを返します。
// source がすでにPDFの場合は変換せずに複製します。
func (c *Converter) ConvertToIntermediate(ctx context.Context, source, workDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(source)
	if err != nil {
		return "", newError(CodeConversionFailed, "変換元ファイルを開けません", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return "", newError(CodeConversionFailed, "変換元ファイルが空です", nil)
	}

	output := filepath.Join(workDir, intermediateFilename)

	mt, err := mimetype.DetectFile(source)
	if err == nil && mt.Is("application/pdf") {
		c.logger.Debug().Str("source", source).Msg("source is already a PDF, skipping layout export")
		if err := c.copyPDF(source, output); err != nil {
			return "", err
		}
		return output, nil
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".indd", ".idml", ".indt":
	default:
		return "", newError(CodeUnsupportedSource, fmt.Sprintf("対応していない形式です: %s", filepath.Base(source)), nil)
	}

	if c.indesignPath == "" {
		return "", newError(CodeConversionFailed, "組版サーバーのパスが設定されていません", nil)
	}
	settings, err := json.Marshal(c.settings)
	if err != nil {
		return "", newError(CodeConversionFailed, "書き出し設定の生成に失敗しました", err)
	}

	args := []string{"--convert", source, "--output", output, "--settings", string(settings)}
	start := time.Now()
	if out, err := c.run(ctx, c.indesignPath, args); err != nil {
		return "", newError(CodeConversionFailed, fmt.Sprintf("組版サーバーによる変換に失敗しました: %s", out), err)
	}
	if err := checkOutput(output); err != nil {
		return "", newError(CodeConversionFailed, "変換結果のPDFが見つかりません", err)
	}
	c.logger.Info().
		Str("source", filepath.Base(source)).
		Dur("elapsed", time.Since(start)).
		Msg("layout source exported to PDF")
	return output, nil
}

func (c *Converter) copyPDF(source, output string) error {
	pages, err := api.PageCountFile(source)
	if err != nil {
		return newError(CodeConversionFailed, "PDFの読み込みに失敗しました", err)
	}
	if pages < 1 {
		return newError(CodeConversionFailed, "PDFにページがありません", nil)
	}
	if err := copyFile(source, output); err != nil {
		return newError(CodeConversionFailed, "PDFの複製に失敗しました", err)
	}
	return nil
}

// run は外部プロセスを完了まで実行し、標準出力と標準エラーをまとめて返します。
// 呼び出し元のキャンセルでは中断せず、タイムアウトのみで打ち切ります。
func (c *Converter) run(ctx context.Context, bin string, args []string) (string, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	return strings.TrimSpace(output.String()), err
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
