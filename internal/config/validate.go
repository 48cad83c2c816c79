package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var supportedHashAlgorithms = map[string]struct{}{
	"crc32": {}, "sha256": {}, "sha1": {}, "md5": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateCrawl(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateRouting(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.IncomingDir == "" {
		return errors.New("paths.incoming_dir must be set")
	}
	if c.Paths.LibraryDir == "" {
		return errors.New("paths.library_dir must be set")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return fmt.Errorf("remote.port must be between 1 and 65535, got %d", c.Remote.Port)
	}
	if c.Remote.ConnectTimeoutSeconds <= 0 {
		return errors.New("remote.connect_timeout_seconds must be positive")
	}
	if c.Remote.RetryAttempts < 1 {
		return errors.New("remote.retry_attempts must be at least 1")
	}
	if c.Remote.RetryDelaySeconds < 0 {
		return errors.New("remote.retry_delay_seconds must be non-negative")
	}
	for _, root := range c.Remote.Paths {
		if !strings.HasPrefix(root, "/") {
			return fmt.Errorf("remote.paths entry %q must be absolute", root)
		}
	}
	return nil
}

func (c *Config) validateCrawl() error {
	if c.Crawl.MinSizeBytes < 0 {
		return errors.New("crawl.min_size_bytes must be non-negative")
	}
	if c.Crawl.SettleSeconds < 0 {
		return errors.New("crawl.settle_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.Workers <= 0 {
		return errors.New("download.workers must be positive")
	}
	if c.Download.TransferTimeoutSeconds <= 0 {
		return errors.New("download.transfer_timeout_seconds must be positive")
	}
	if _, ok := supportedHashAlgorithms[c.Download.HashAlgorithm]; !ok {
		return fmt.Errorf("download.hash_algorithm: unsupported value %q", c.Download.HashAlgorithm)
	}
	if c.Download.MinFreeBytes < 0 {
		return errors.New("download.min_free_bytes must be non-negative")
	}
	return nil
}

func (c *Config) validateRouting() error {
	if c.Routing.Workers <= 0 {
		return errors.New("routing.workers must be positive")
	}
	if c.Routing.LookupTimeoutSeconds <= 0 {
		return errors.New("routing.lookup_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Backend {
	case BackendSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path must be set for the sqlite backend")
		}
	case BackendPostgres:
		if c.Database.PostgresDSN == "" {
			return errors.New("database.postgres_dsn must be set for the postgres backend (or NASFERRY_POSTGRES_DSN)")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("database.backend: unsupported value %q (want sqlite, postgres, or memory)", c.Database.Backend)
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database.max_connections must be positive")
	}
	return nil
}

func (c *Config) validateTMDB() error {
	if c.TMDB.TimeoutSeconds <= 0 {
		return errors.New("tmdb.timeout_seconds must be positive")
	}
	if c.TMDB.CacheSize < 0 {
		return errors.New("tmdb.cache_size must be non-negative")
	}
	if c.TMDB.CacheTTLSeconds < 0 {
		return errors.New("tmdb.cache_ttl_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
