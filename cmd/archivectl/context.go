package main

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/app"
	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/logging"
)

type commandContext struct {
	jsonFlag *bool

	once       sync.Once
	config     *config.Config
	logger     zerolog.Logger
	components *app.Components
	err        error
}

func newCommandContext(jsonFlag *bool) *commandContext {
	return &commandContext{jsonFlag: jsonFlag}
}

// ensure は設定を読み込み、カタログとパイプラインを一度だけ初期化します。
func (c *commandContext) ensure(ctx context.Context) (*app.Components, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		c.config = cfg
		c.logger = logging.New(logging.Options{
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  os.Stderr,
			Service: "archivectl",
		})
		c.components, c.err = app.Build(ctx, cfg, c.logger)
	})
	return c.components, c.err
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) close() error {
	if c.components == nil {
		return nil
	}
	err := c.components.Close()
	c.components = nil
	return err
}
