package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeRemote(); err != nil {
		return err
	}
	c.normalizeCrawl()
	c.normalizeDownload()
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeTMDB()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.Schedule.Cron = strings.TrimSpace(c.Schedule.Cron)
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = defaultCron
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.IncomingDir, err = expandPath(c.Paths.IncomingDir); err != nil {
		return fmt.Errorf("paths.incoming_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRemote() error {
	c.Remote.Host = strings.TrimSpace(c.Remote.Host)
	c.Remote.Username = strings.TrimSpace(c.Remote.Username)
	if c.Remote.Password == "" {
		if value, ok := os.LookupEnv("NASFERRY_SFTP_PASSWORD"); ok {
			c.Remote.Password = value
		}
	}
	var err error
	if c.Remote.PrivateKeyPath, err = expandPath(strings.TrimSpace(c.Remote.PrivateKeyPath)); err != nil {
		return fmt.Errorf("remote.private_key_path: %w", err)
	}
	if c.Remote.KnownHostsPath, err = expandPath(strings.TrimSpace(c.Remote.KnownHostsPath)); err != nil {
		return fmt.Errorf("remote.known_hosts_path: %w", err)
	}
	roots := make([]string, 0, len(c.Remote.Paths))
	seen := make(map[string]struct{}, len(c.Remote.Paths))
	for _, root := range c.Remote.Paths {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		root = path.Clean(root)
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	c.Remote.Paths = roots
	return nil
}

func (c *Config) normalizeCrawl() {
	exts := make([]string, 0, len(c.Crawl.ExcludedExtensions))
	for _, ext := range c.Crawl.ExcludedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Crawl.ExcludedExtensions = exts

	keywords := make([]string, 0, len(c.Crawl.ExcludedKeywords))
	for _, kw := range c.Crawl.ExcludedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	c.Crawl.ExcludedKeywords = keywords
}

func (c *Config) normalizeDownload() {
	c.Download.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.Download.HashAlgorithm))
	if c.Download.HashAlgorithm == "" {
		c.Download.HashAlgorithm = defaultHashAlgorithm
	}
}

func (c *Config) normalizeDatabase() error {
	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	if c.Database.Backend == "" {
		c.Database.Backend = defaultBackend
	}
	if strings.TrimSpace(c.Database.SQLitePath) == "" {
		c.Database.SQLitePath = filepath.Join(c.Paths.StateDir, defaultSQLiteFile)
	}
	var err error
	if c.Database.SQLitePath, err = expandPath(c.Database.SQLitePath); err != nil {
		return fmt.Errorf("database.sqlite_path: %w", err)
	}
	c.Database.PostgresDSN = strings.TrimSpace(c.Database.PostgresDSN)
	if c.Database.PostgresDSN == "" {
		if value, ok := os.LookupEnv("NASFERRY_POSTGRES_DSN"); ok {
			c.Database.PostgresDSN = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeTMDB() {
	if c.TMDB.APIKey == "" {
		if value, ok := os.LookupEnv("TMDB_API_KEY"); ok {
			c.TMDB.APIKey = value
		}
	}
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
	c.TMDB.BaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.BaseURL), "/")
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	c.TMDB.Language = strings.TrimSpace(c.TMDB.Language)
	if c.TMDB.Language == "" {
		c.TMDB.Language = defaultTMDBLanguage
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
