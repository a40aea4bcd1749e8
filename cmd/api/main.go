// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/archive-forge/internal/app"
	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/digitize"
	"github.com/yourusername/archive-forge/internal/jobs"
	"github.com/yourusername/archive-forge/internal/logging"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Options{})
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "archive-forge-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize components")
	}
	defer components.Close()

	// queue モードではジョブキュー経由で処理する
	var manager *jobs.Manager
	if cfg.DigitizeMode == config.DigitizeModeQueue {
		manager, err = setupJobs(cfg, components.Assembler, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize job manager")
		}
		manager.StartWorkers()
		defer manager.Shutdown(context.Background())
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, components, manager)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "archive-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
// manager が nil の場合（DIGITIZE_MODE=sync）、デジタル化はリクエスト内で同期実行されます。
func setupRoutes(router *gin.Engine, cfg *config.Config, components *app.Components, manager *jobs.Manager) {
	router.GET("/health", handleHealth)

	opts := digitize.HandlerOptions{
		UploadDir:   cfg.UploadRoot,
		MaxFileSize: cfg.MaxFileSize,
	}
	if manager != nil {
		opts.Scheduler = manager
	}

	api := router.Group("/api")
	{
		api.GET("/editions/:id", digitize.EditionHandler(components.Catalog))
		api.POST("/editions/:id/digitize", digitize.DigitizeHandler(components.Assembler, components.Catalog, opts))
		api.GET("/years/:year/stats", yearStatsHandler(components.Catalog))
		if manager != nil {
			api.GET("/jobs/:id", jobStatusHandler(manager))
		}
	}
}
