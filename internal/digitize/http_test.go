package digitize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/pdf"
)

type stubProcessor struct {
	manifest *archive.Manifest
	err      error
	source   string
	name     string
}

func (s *stubProcessor) ProcessEdition(_ context.Context, source Source, _ int64, _ ProgressReporter) (*archive.Manifest, error) {
	s.source = source.Path
	s.name = source.Name
	if _, err := os.Stat(source.Path); err != nil {
		return nil, err
	}
	return s.manifest, s.err
}

type stubReader struct {
	edition *archive.Edition
	pages   []archive.Page
}

func (s *stubReader) GetEdition(_ context.Context, id int64) (*archive.Edition, error) {
	if s.edition == nil || s.edition.ID != id {
		return nil, archive.ErrNotFound
	}
	return s.edition, nil
}

func (s *stubReader) ListPages(context.Context, int64) ([]archive.Page, error) {
	return s.pages, nil
}

type stubScheduler struct {
	editionID int64
	source    string
	name      string
	err       error
}

func (s *stubScheduler) ScheduleDigitize(_ context.Context, editionID int64, source Source) (string, error) {
	s.editionID = editionID
	s.source = source.Path
	s.name = source.Name
	if s.err != nil {
		return "", s.err
	}
	return "job-1", nil
}

func newUploadRequest(t *testing.T, path, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(body); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newRouter(proc Processor, reader EditionReader, opts HandlerOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/editions/:id/digitize", DigitizeHandler(proc, reader, opts))
	router.GET("/api/editions/:id", EditionHandler(reader))
	return router
}

func TestDigitizeHandlerSyncRun(t *testing.T) {
	manifest := archive.NewManifest(&archive.Edition{ID: 7}, "issue.indd", time.Now())
	manifest.Pages = []archive.PageAssets{{Number: 1}}
	proc := &stubProcessor{manifest: manifest}
	reader := &stubReader{edition: &archive.Edition{ID: 7}}
	uploads := t.TempDir()

	rec := httptest.NewRecorder()
	newRouter(proc, reader, HandlerOptions{UploadDir: uploads}).
		ServeHTTP(rec, newUploadRequest(t, "/api/editions/7/digitize", "issue.indd", []byte("layout")))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(archive.RunCompleted) {
		t.Fatalf("unexpected run status: %s", resp.Status)
	}
	if _, err := os.Stat(proc.source); !os.IsNotExist(err) {
		t.Fatalf("upload should be removed after a synchronous run: %v", err)
	}
	if proc.name != "issue.indd" {
		t.Fatalf("original file name should be passed on, got %q", proc.name)
	}
}

func TestDigitizeHandlerSchedulesJob(t *testing.T) {
	scheduler := &stubScheduler{}
	reader := &stubReader{edition: &archive.Edition{ID: 7}}

	rec := httptest.NewRecorder()
	newRouter(&stubProcessor{}, reader, HandlerOptions{Scheduler: scheduler, UploadDir: t.TempDir()}).
		ServeHTTP(rec, newUploadRequest(t, "/api/editions/7/digitize", "Issue.IDML", []byte("layout")))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if scheduler.editionID != 7 {
		t.Fatalf("unexpected scheduled edition: %d", scheduler.editionID)
	}
	if _, err := os.Stat(scheduler.source); err != nil {
		t.Fatalf("scheduled upload must be kept for the worker: %v", err)
	}
	if scheduler.name != "Issue.IDML" || filepath.Base(scheduler.source) == scheduler.name {
		t.Fatalf("unexpected source naming: path=%s name=%s", scheduler.source, scheduler.name)
	}
}

func TestDigitizeHandlerRejectsBusyEdition(t *testing.T) {
	scheduler := &stubScheduler{err: fmt.Errorf("schedule: %w", ErrEditionBusy)}
	reader := &stubReader{edition: &archive.Edition{ID: 7}}

	rec := httptest.NewRecorder()
	newRouter(&stubProcessor{}, reader, HandlerOptions{Scheduler: scheduler, UploadDir: t.TempDir()}).
		ServeHTTP(rec, newUploadRequest(t, "/api/editions/7/digitize", "issue.indd", []byte("layout")))

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(scheduler.source); !os.IsNotExist(err) {
		t.Fatalf("rejected upload should be removed: %v", err)
	}
}

func TestDigitizeHandlerValidation(t *testing.T) {
	reader := &stubReader{edition: &archive.Edition{ID: 7}}
	router := newRouter(&stubProcessor{}, reader, HandlerOptions{UploadDir: t.TempDir(), MaxFileSize: 4})

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"bad id", newUploadRequest(t, "/api/editions/abc/digitize", "issue.indd", []byte("x")), http.StatusBadRequest},
		{"unknown edition", newUploadRequest(t, "/api/editions/8/digitize", "issue.indd", []byte("x")), http.StatusNotFound},
		{"unsupported type", newUploadRequest(t, "/api/editions/7/digitize", "notes.txt", []byte("x")), http.StatusBadRequest},
		{"too large", newUploadRequest(t, "/api/editions/7/digitize", "issue.indd", []byte("layout")), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, tc.req)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d body=%s", tc.name, tc.status, rec.Code, rec.Body.String())
		}
	}
}

func TestDigitizeHandlerMapsStageErrors(t *testing.T) {
	proc := &stubProcessor{err: &StageError{
		EditionID: 7,
		Stage:     StateConverting,
		Err:       &pdf.Error{Code: pdf.CodeConversionFailed, Message: "conversion failed"},
	}}
	reader := &stubReader{edition: &archive.Edition{ID: 7}}

	rec := httptest.NewRecorder()
	newRouter(proc, reader, HandlerOptions{UploadDir: t.TempDir()}).
		ServeHTTP(rec, newUploadRequest(t, "/api/editions/7/digitize", "issue.indd", []byte("layout")))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["code"] != pdf.CodeConversionFailed {
		t.Fatalf("unexpected code: %s", resp["code"])
	}
}

func TestEditionHandler(t *testing.T) {
	reader := &stubReader{
		edition: &archive.Edition{ID: 7, Year: 1987, Number: 3, PageCount: 1},
		pages:   []archive.Page{{Content: archive.PageContent{ID: 1, EditionID: 7, PageNumber: 1, Title: "Page 1"}}},
	}
	router := newRouter(&stubProcessor{}, reader, HandlerOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/editions/7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp struct {
		Edition archive.Edition `json:"edition"`
		Pages   []archive.Page  `json:"pages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Edition.PageCount != 1 || len(resp.Pages) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/editions/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
