// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// デジタル化の実行方式です。
const (
	DigitizeModeQueue = "queue" // Asynq のジョブとして非同期に実行する
	DigitizeModeSync  = "sync"  // リクエスト内で同期実行する
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console または json

	// アーカイブ設定
	ArchiveRoot  string // 資産の保存先 ({archive_root}/{year}/{number}/...)
	MediaBaseURL string // 資産の公開URLのベース
	WorkRoot     string // 号ごとの作業ディレクトリの親
	UploadRoot   string // アップロードされた組版ファイルの一時保存先
	MaxFileSize  int64  // アップロードの最大サイズ（バイト）

	// カタログ設定
	CatalogDriver string // sqlite または postgres
	CatalogDSN    string // 接続文字列（sqlite の場合はファイルパス）

	// 外部プロセス設定
	IndesignServerPath string        // 組版サーバー実行ファイルのパス
	GhostscriptPath    string        // Ghostscript実行ファイルのパス
	ProfilesFile       string        // 配信プロファイルのYAML（任意）
	ProcessTimeout     time.Duration // 外部プロセス1回あたりの上限時間

	// パイプライン設定
	RasterDPI   int // ページ画像の解像度
	PageWorkers int // ページ処理の並列数

	// ジョブ/キュー設定
	DigitizeMode      string // queue または sync
	QueueRedisURL     string // Asynq用Redis接続URL
	JobExpireMinutes  int    // ジョブ記録の有効期限（分）
	WorkerConcurrency int    // 同時に処理する号の数
	DigitizeMaxRetry  int    // 致命的エラー時の再試行回数
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		// アーカイブ設定
		ArchiveRoot:  getEnv("ARCHIVE_ROOT", "data/archive"),
		MediaBaseURL: getEnv("MEDIA_BASE_URL", ""),
		WorkRoot:     getEnv("WORK_ROOT", filepath.Join(os.TempDir(), "archive-forge", "work")),
		UploadRoot:   getEnv("UPLOAD_ROOT", filepath.Join(os.TempDir(), "archive-forge", "uploads")),
		MaxFileSize:  getEnvAsInt64("MAX_FILE_SIZE", 2*1024*1024*1024), // 2GB

		// カタログ設定
		CatalogDriver: getEnv("CATALOG_DRIVER", "sqlite"),
		CatalogDSN:    getEnv("CATALOG_DSN", "data/catalog.db"),

		// 外部プロセス設定
		IndesignServerPath: getEnv("INDESIGN_SERVER_PATH", "indesign-server"),
		GhostscriptPath:    getEnv("GHOSTSCRIPT_PATH", "gs"),
		ProfilesFile:       getEnv("PROFILES_FILE", ""),
		ProcessTimeout:     time.Duration(getEnvAsInt("PROCESS_TIMEOUT_MINUTES", 30)) * time.Minute,

		// パイプライン設定
		RasterDPI:   getEnvAsInt("RASTER_DPI", 300),
		PageWorkers: getEnvAsInt("PAGE_WORKERS", 4),

		// ジョブ/キュー設定
		DigitizeMode:      getEnv("DIGITIZE_MODE", DigitizeModeQueue),
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobExpireMinutes:  getEnvAsInt("JOB_EXPIRE_MINUTES", 24*60),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 2),
		DigitizeMaxRetry:  getEnvAsInt("DIGITIZE_MAX_RETRY", 2),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.ArchiveRoot == "" {
		return fmt.Errorf("ARCHIVE_ROOT is required")
	}
	if c.WorkRoot == "" {
		return fmt.Errorf("WORK_ROOT is required")
	}
	switch c.CatalogDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("CATALOG_DRIVER must be sqlite or postgres (received: %s)", c.CatalogDriver)
	}
	if c.RasterDPI < 72 || c.RasterDPI > 1200 {
		return fmt.Errorf("RASTER_DPI must be between 72 and 1200 (received: %d)", c.RasterDPI)
	}
	if c.PageWorkers < 1 {
		return fmt.Errorf("PAGE_WORKERS must be positive (received: %d)", c.PageWorkers)
	}
	switch c.DigitizeMode {
	case DigitizeModeQueue:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required when DIGITIZE_MODE is queue")
		}
	case DigitizeModeSync:
	default:
		return fmt.Errorf("DIGITIZE_MODE must be queue or sync (received: %s)", c.DigitizeMode)
	}

	// 本番環境では外部依存の設定を厳格にチェックする
	if c.GinMode == "release" {
		if c.IndesignServerPath == "" {
			return fmt.Errorf("INDESIGN_SERVER_PATH is required in release mode")
		}
		if c.GhostscriptPath == "" {
			return fmt.Errorf("GHOSTSCRIPT_PATH is required in release mode")
		}
		if c.CatalogDSN == "" {
			return fmt.Errorf("CATALOG_DSN is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
