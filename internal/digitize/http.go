package digitize

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/pdf"
)

// Processor は号のデジタル化を実行します。
type Processor interface {
	ProcessEdition(ctx context.Context, source Source, editionID int64, progress ProgressReporter) (*archive.Manifest, error)
}

// EditionReader は号とページの参照を提供します。
type EditionReader interface {
	GetEdition(ctx context.Context, id int64) (*archive.Edition, error)
	ListPages(ctx context.Context, editionID int64) ([]archive.Page, error)
}

// JobScheduler はデジタル化ジョブを非同期キューに投入します。
type JobScheduler interface {
	ScheduleDigitize(ctx context.Context, editionID int64, source Source) (string, error)
}

// HandlerOptions はハンドラーの設定です。
type HandlerOptions struct {
	Scheduler   JobScheduler // nil の場合はリクエスト内で同期実行する
	UploadDir   string
	MaxFileSize int64
}

var allowedExtensions = map[string]bool{
	".indd": true,
	".idml": true,
	".indt": true,
	".pdf":  true,
}

// DigitizeHandler は POST /api/editions/:id/digitize のハンドラーを返します。
func DigitizeHandler(proc Processor, editions EditionReader, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		editionID, ok := parseEditionID(c)
		if !ok {
			return
		}
		if _, err := editions.GetEdition(c.Request.Context(), editionID); err != nil {
			respondWithError(c, err)
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data で組版ファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}
		if opts.MaxFileSize > 0 && file.Size > opts.MaxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", opts.MaxFileSize),
			})
			return
		}

		sourcePath, err := storeUpload(c, file, opts.UploadDir)
		if err != nil {
			respondWithError(c, err)
			return
		}
		source := Source{Path: sourcePath, Name: filepath.Base(file.Filename)}

		if opts.Scheduler != nil {
			jobID, err := opts.Scheduler.ScheduleDigitize(c.Request.Context(), editionID, source)
			if err != nil {
				_ = os.Remove(sourcePath)
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "editionId": editionID})
			return
		}

		defer os.Remove(sourcePath)
		manifest, err := proc.ProcessEdition(c.Request.Context(), source, editionID, nil)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   manifest.Status(),
			"manifest": manifest,
		})
	}
}

// EditionHandler は GET /api/editions/:id のハンドラーを返します。
func EditionHandler(editions EditionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		editionID, ok := parseEditionID(c)
		if !ok {
			return
		}
		edition, err := editions.GetEdition(c.Request.Context(), editionID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		pages, err := editions.ListPages(c.Request.Context(), editionID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if pages == nil {
			pages = []archive.Page{}
		}
		c.JSON(http.StatusOK, gin.H{
			"edition": edition,
			"pages":   pages,
		})
	}
}

func parseEditionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "号IDは正の整数で指定してください。",
		})
		return 0, false
	}
	return id, true
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("組版ファイルを選択してください。")
	}
	var file *multipart.FileHeader
	for _, field := range []string{"file", "source"} {
		if files := form.File[field]; len(files) > 0 {
			file = files[0]
			break
		}
	}
	if file == nil {
		return nil, errors.New("組版ファイルを選択してください。")
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("対応していない形式です: %s", file.Filename)
	}
	return file, nil
}

// storeUpload はアップロードファイルを衝突しない名前で保存します。
func storeUpload(c *gin.Context, file *multipart.FileHeader, dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("アップロード先の作成に失敗しました: %w", err)
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	path := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}
	return path, nil
}

func respondWithError(c *gin.Context, err error) {
	var (
		pdfErr   *pdf.Error
		stageErr *StageError
	)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "指定された号が見つかりません。",
		})
	case errors.Is(err, ErrEditionBusy):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "EDITION_BUSY",
			"message": "この号は既にデジタル化の処理中です。",
		})
	case errors.As(err, &pdfErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    pdfErr.Code,
			"message": pdfErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	case errors.As(err, &stageErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "DIGITIZATION_FAILED",
			"message": fmt.Sprintf("%s の段階で処理に失敗しました。", stageErr.Stage),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
