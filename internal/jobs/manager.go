package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/digitize"
	"github.com/yourusername/archive-forge/internal/logging"
	"github.com/yourusername/archive-forge/internal/pdf"
)

const (
	taskTypeDigitize = "archive:digitize"
	queueArchive     = "archive"
)

// recordStore はジョブ記録の永続化先です。
type recordStore interface {
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	Update(ctx context.Context, jobID string, mutate func(*Record)) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// taskInspector は終了済みタスクが保持しているタスクIDを解放するために使います。
type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Manager はデジタル化ジョブの投入と状態管理を担います。
type Manager struct {
	client       enqueuer
	inspector    taskInspector
	closer       func() error
	server       *asynq.Server
	mux          *asynq.ServeMux
	store        recordStore
	processor    digitize.Processor
	maxRetry     int
	logger       zerolog.Logger
	finalAttempt func(ctx context.Context) bool
}

// TaskPayload はデジタル化ジョブのペイロードです。
type TaskPayload struct {
	JobID      string `json:"jobId"`
	EditionID  int64  `json:"editionId"`
	SourcePath string `json:"sourcePath"`
	SourceName string `json:"sourceName,omitempty"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, processor digitize.Processor, store *Store, logger zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if processor == nil {
		return nil, errors.New("processor is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueArchive: 1,
			},
			Logger: logging.AsynqLogger{Logger: logger.With().Str("component", "asynq").Logger()},
		},
	)

	manager := newManager(processor, store, client, inspector, cfg.DigitizeMaxRetry, logger)
	manager.closer = func() error {
		return errors.Join(inspector.Close(), client.Close())
	}
	manager.server = server
	return manager, nil
}

func newManager(processor digitize.Processor, store recordStore, client enqueuer, inspector taskInspector, maxRetry int, logger zerolog.Logger) *Manager {
	if maxRetry < 0 {
		maxRetry = 0
	}
	m := &Manager{
		client:       client,
		inspector:    inspector,
		mux:          asynq.NewServeMux(),
		store:        store,
		processor:    processor,
		maxRetry:     maxRetry,
		logger:       logger,
		finalAttempt: isFinalAttempt,
	}
	m.mux.HandleFunc(taskTypeDigitize, m.handleDigitizeTask)
	return m
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("asynq server stopped with error")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.closer != nil {
		return m.closer()
	}
	return nil
}

// ScheduleDigitize は号のデジタル化ジョブを投入し、ジョブIDを返します。
func (m *Manager) ScheduleDigitize(ctx context.Context, editionID int64, source digitize.Source) (string, error) {
	payload := &TaskPayload{
		JobID:      uuid.NewString(),
		EditionID:  editionID,
		SourcePath: source.Path,
		SourceName: source.Name,
	}
	if err := m.Enqueue(ctx, payload); err != nil {
		return "", err
	}
	return payload.JobID, nil
}

// Enqueue はジョブをキューに投入します。
// 同じ号のタスクが待機中・実行中・再試行待ちの場合は digitize.ErrEditionBusy を返します。
// 最終失敗でアーカイブされたタスクは ID を保持したままなので、削除してから投入し直します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) error {
	if payload == nil {
		return fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return fmt.Errorf("payload.JobID is required")
	}
	if payload.EditionID <= 0 {
		return fmt.Errorf("payload.EditionID is required")
	}

	record := &Record{
		JobID:     payload.JobID,
		EditionID: payload.EditionID,
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeDigitize, body)
	taskID := editionTaskID(payload.EditionID)
	opts := []asynq.Option{
		asynq.Queue(queueArchive),
		asynq.TaskID(taskID),
		asynq.MaxRetry(m.maxRetry),
	}
	_, err = m.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		released, rerr := m.releaseFinishedTask(taskID)
		switch {
		case rerr != nil:
			err = rerr
		case released:
			_, err = m.client.EnqueueContext(ctx, task, opts...)
		}
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		m.markFailed(ctx, payload.JobID, &ErrorInfo{
			Code:    "EDITION_BUSY",
			Message: digitize.ErrEditionBusy.Error(),
		})
		return fmt.Errorf("edition %d: %w", payload.EditionID, digitize.ErrEditionBusy)
	}
	if err != nil {
		m.markFailed(ctx, payload.JobID, &ErrorInfo{Code: "ENQUEUE_FAILED", Message: err.Error()})
		return err
	}
	return nil
}

// releaseFinishedTask は taskID のタスクがアーカイブ済みか完了済みなら削除し、true を返します。
func (m *Manager) releaseFinishedTask(taskID string) (bool, error) {
	if m.inspector == nil {
		return false, nil
	}
	info, err := m.inspector.GetTaskInfo(queueArchive, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		// 照会までの間に消えている
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect task %s: %w", taskID, err)
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}
	if err := m.inspector.DeleteTask(queueArchive, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete finished task %s: %w", taskID, err)
	}
	m.logger.Info().Str("task_id", taskID).Str("state", info.State.String()).Msg("released finished task id")
	return true, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleDigitizeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	logger := m.logger.With().
		Str("job_id", payload.JobID).
		Int64("edition_id", payload.EditionID).
		Logger()

	if err := m.markRunning(ctx, &payload); err != nil {
		return err
	}
	logger.Info().Str("source", payload.SourcePath).Msg("digitization started")

	source := digitize.Source{Path: payload.SourcePath, Name: payload.SourceName}
	manifest, err := m.processor.ProcessEdition(ctx, source, payload.EditionID, func(stage string, percent int) {
		if err := m.store.Update(ctx, payload.JobID, func(r *Record) {
			r.Progress = ProgressInfo{Percent: percent, Stage: stage}
		}); err != nil {
			logger.Warn().Err(err).Str("stage", stage).Msg("failed to update progress")
		}
	})
	if err != nil {
		return m.failJobWithError(ctx, logger, &payload, err)
	}
	return m.finishJob(ctx, logger, &payload, manifest)
}

func (m *Manager) markRunning(ctx context.Context, payload *TaskPayload) error {
	err := m.store.Update(ctx, payload.JobID, func(r *Record) {
		r.Status = StatusRunning
		r.Attempts++
		r.Progress = ProgressInfo{Percent: 0, Stage: string(digitize.StatePending)}
	})
	if !errors.Is(err, ErrJobNotFound) {
		return err
	}
	// 記録が期限切れでもタスク自体は処理する
	return m.store.Upsert(ctx, &Record{
		JobID:     payload.JobID,
		EditionID: payload.EditionID,
		Status:    StatusRunning,
		Attempts:  1,
		Progress:  ProgressInfo{Percent: 0, Stage: string(digitize.StatePending)},
	})
}

func (m *Manager) finishJob(ctx context.Context, logger zerolog.Logger, payload *TaskPayload, manifest *archive.Manifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	m.removeSource(logger, payload.SourcePath)

	var (
		status  Status
		errInfo *ErrorInfo
	)
	switch manifest.Status() {
	case archive.RunCompleted:
		status = StatusCompleted
	case archive.RunCompletedWithErrors:
		status = StatusCompletedWithErrors
	default:
		status = StatusFailed
		errInfo = &ErrorInfo{
			Code:    "ALL_PAGES_FAILED",
			Message: fmt.Sprintf("all %d pages failed", len(manifest.Failures)),
		}
	}

	logger.Info().
		Str("status", string(status)).
		Int("pages", manifest.PageCount).
		Int("failures", len(manifest.Failures)).
		Msg("digitization finished")

	return m.store.Update(context.WithoutCancel(ctx), payload.JobID, func(r *Record) {
		r.Status = status
		r.Progress = ProgressInfo{Percent: 100, Stage: string(digitize.StateCompleted)}
		r.Meta = manifest
		r.Error = errInfo
	})
}

// failJobWithError は失敗を記録し、asynq に返すエラーを決めます。
// 最終試行か再試行しても意味のない失敗の場合のみジョブを failed にします。
func (m *Manager) failJobWithError(ctx context.Context, logger zerolog.Logger, payload *TaskPayload, err error) error {
	info := errorInfo(err)
	skip := errors.Is(err, archive.ErrNotFound)
	final := skip || m.finalAttempt(ctx)

	logger.Error().Err(err).Str("code", info.Code).Bool("final", final).Msg("digitization failed")

	if !final {
		if uerr := m.store.Update(context.WithoutCancel(ctx), payload.JobID, func(r *Record) {
			r.Status = StatusQueued
			r.Progress = ProgressInfo{Stage: "retrying", Message: info.Message}
			r.Error = info
		}); uerr != nil {
			logger.Warn().Err(uerr).Msg("failed to record retry")
		}
		return err
	}

	m.markFailed(ctx, payload.JobID, info)
	m.removeSource(logger, payload.SourcePath)
	if skip {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (m *Manager) markFailed(ctx context.Context, jobID string, info *ErrorInfo) {
	if err := m.store.Update(context.WithoutCancel(ctx), jobID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = info
	}); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to mark job as failed")
	}
}

func (m *Manager) removeSource(logger zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("source", path).Msg("failed to remove uploaded source")
	}
}

func errorInfo(err error) *ErrorInfo {
	var (
		pdfErr   *pdf.Error
		stageErr *digitize.StageError
	)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return &ErrorInfo{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, digitize.ErrEditionBusy):
		return &ErrorInfo{Code: "EDITION_BUSY", Message: err.Error()}
	case errors.As(err, &pdfErr):
		return &ErrorInfo{Code: pdfErr.Code, Message: pdfErr.Message}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ErrorInfo{Code: "CANCELED", Message: err.Error()}
	case errors.As(err, &stageErr):
		return &ErrorInfo{Code: "DIGITIZATION_FAILED", Message: err.Error()}
	default:
		return &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}

func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func editionTaskID(editionID int64) string {
	return "edition:" + strconv.FormatInt(editionID, 10)
}
