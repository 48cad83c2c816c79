package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"nasferry/internal/config"
	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/remote"
	"nasferry/internal/remote/sftp"
	"nasferry/internal/store"
	"nasferry/internal/tmdb"
)

// errRunLocked is returned when another sync, route, or watch process holds
// the run lock.
var errRunLocked = errors.New("another nasferry run is in progress")

type commandContext struct {
	configFlag string
	logLevel   string
	jsonOutput bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	metrics *metrics.Metrics

	newLogger  func(*config.Config) (*slog.Logger, error)
	newDialer  func(*config.Config, *slog.Logger) (remote.Dialer, error)
	newCatalog func(*config.Config) (tmdb.Catalog, error)
}

func newCommandContext() *commandContext {
	return &commandContext{
		metrics:    metrics.New(),
		newLogger:  logging.NewFromConfig,
		newDialer:  defaultDialer,
		newCatalog: defaultCatalog,
	}
}

func defaultDialer(cfg *config.Config, logger *slog.Logger) (remote.Dialer, error) {
	d, err := sftp.NewDialer(cfg.Remote, logger, sftp.WithRetry(cfg.Remote.RetryAttempts, cfg.RetryDelay()))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func defaultCatalog(cfg *config.Config) (tmdb.Catalog, error) {
	client, err := tmdb.New(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.Language,
		tmdb.WithTimeout(time.Duration(cfg.TMDB.TimeoutSeconds)*time.Second),
		tmdb.WithCache(cfg.TMDB.CacheSize, time.Duration(cfg.TMDB.CacheTTLSeconds)*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("configure tmdb: %w", err)
	}
	return client, nil
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.ToLower(strings.TrimSpace(c.logLevel)); level != "" {
			cfg.Logging.Level = level
			if err := cfg.Validate(); err != nil {
				c.configErr = fmt.Errorf("--log-level: %w", err)
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := c.newLogger(cfg)
		if err != nil {
			c.loggerErr = fmt.Errorf("init logger: %w", err)
			return
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

// appEnv bundles what most commands need. Close releases the store.
type appEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Backend
}

func (r *appEnv) Close() {
	if r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("close store failed", logging.Error(err))
	}
}

func (c *commandContext) openEnv(ctx context.Context) (*appEnv, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &appEnv{cfg: cfg, logger: logger, store: st}, nil
}

func (c *commandContext) dialer(env *appEnv) (remote.Dialer, error) {
	if err := env.cfg.RequireRemote(); err != nil {
		return nil, err
	}
	d, err := c.newDialer(env.cfg, env.logger)
	if err != nil {
		return nil, fmt.Errorf("configure sftp: %w", err)
	}
	return d, nil
}

func (c *commandContext) catalog(cfg *config.Config) (tmdb.Catalog, error) {
	if err := cfg.RequireTMDB(); err != nil {
		return nil, err
	}
	return c.newCatalog(cfg)
}

// withRunLock runs fn while holding the run lock, failing fast when another
// process has it.
func (c *commandContext) withRunLock(cfg *config.Config, fn func() error) error {
	lock := flock.New(cfg.RunLockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", errRunLocked, cfg.RunLockPath())
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// exportMetrics writes the textfile collector output after one-shot commands.
func (c *commandContext) exportMetrics(env *appEnv) {
	path := strings.TrimSpace(env.cfg.Metrics.TextfilePath)
	if path == "" {
		return
	}
	if err := c.metrics.WriteTextfile(path); err != nil {
		logging.WarnWithContext(env.logger, "metrics export failed", "metrics_export_failed",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
