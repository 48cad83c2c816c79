package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	IncomingDir string `toml:"incoming_dir"`
	LibraryDir  string `toml:"library_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
}

// Remote describes the SFTP server and the roots to synchronise from it.
type Remote struct {
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	Username              string   `toml:"username"`
	Password              string   `toml:"password"`
	PrivateKeyPath        string   `toml:"private_key_path"`
	KnownHostsPath        string   `toml:"known_hosts_path"`
	InsecureSkipHostKey   bool     `toml:"insecure_skip_host_key"`
	Paths                 []string `toml:"paths"`
	ConnectTimeoutSeconds int      `toml:"connect_timeout_seconds"`
	RetryAttempts         int      `toml:"retry_attempts"`
	RetryDelaySeconds     int      `toml:"retry_delay_seconds"`
}

// Crawl contains the remote listing filter policy.
type Crawl struct {
	MinSizeBytes       int64    `toml:"min_size_bytes"`
	SettleSeconds      int      `toml:"settle_seconds"`
	ExcludedExtensions []string `toml:"excluded_extensions"`
	ExcludedKeywords   []string `toml:"excluded_keywords"`
}

// Download contains transfer settings.
type Download struct {
	Workers                int    `toml:"workers"`
	TransferTimeoutSeconds int    `toml:"transfer_timeout_seconds"`
	VerifyAfterDownload    bool   `toml:"verify_after_download"`
	HashAlgorithm          string `toml:"hash_algorithm"`
	MinFreeBytes           int64  `toml:"min_free_bytes"`
}

// Routing contains library routing settings.
type Routing struct {
	Workers              int  `toml:"workers"`
	LookupTimeoutSeconds int  `toml:"lookup_timeout_seconds"`
	OverwriteExisting    bool `toml:"overwrite_existing"`
	RetryErrors          bool `toml:"retry_errors"`
}

// Database selects and configures the persistence backend.
type Database struct {
	Backend        string `toml:"backend"`
	SQLitePath     string `toml:"sqlite_path"`
	PostgresDSN    string `toml:"postgres_dsn"`
	MaxConnections int    `toml:"max_connections"`
}

// TMDB contains configuration for The Movie Database API.
type TMDB struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	Language        string `toml:"language"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	CacheSize       int    `toml:"cache_size"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

// API contains the operator HTTP API settings.
type API struct {
	Bind string `toml:"bind"`
}

// Schedule contains the watch loop settings.
type Schedule struct {
	Cron           string `toml:"cron"`
	RouteAfterSync bool   `toml:"route_after_sync"`
}

// Metrics contains Prometheus export settings.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for nasferry.
//
// Configuration sections by subsystem:
//   - Paths: local incoming, library, state, and log directories
//   - Remote: SFTP connection and the remote roots to crawl
//   - Crawl: listing filter policy (size cutoff, settle time, exclusions)
//   - Download: worker pool, transfer timeout, post-download hashing
//   - Routing: worker pool, lookup timeout, overwrite policy
//   - Database: backend selection (sqlite, postgres, memory)
//   - TMDB: show import and catalog search
//   - API, Schedule, Metrics, Logging: operational surfaces
type Config struct {
	Paths    Paths    `toml:"paths"`
	Remote   Remote   `toml:"remote"`
	Crawl    Crawl    `toml:"crawl"`
	Download Download `toml:"download"`
	Routing  Routing  `toml:"routing"`
	Database Database `toml:"database"`
	TMDB     TMDB     `toml:"tmdb"`
	API      API      `toml:"api"`
	Schedule Schedule `toml:"schedule"`
	Metrics  Metrics  `toml:"metrics"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/nasferry/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("nasferry.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a sync run writes into.
// LibraryDir is created on a best-effort basis so downloads can proceed while
// library storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.IncomingDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// RequireRemote reports whether the remote section is complete enough to sync.
func (c *Config) RequireRemote() error {
	if strings.TrimSpace(c.Remote.Host) == "" {
		return errors.New("remote.host must be set to sync")
	}
	if strings.TrimSpace(c.Remote.Username) == "" {
		return errors.New("remote.username must be set to sync")
	}
	if len(c.Remote.Paths) == 0 {
		return errors.New("remote.paths must list at least one remote directory")
	}
	if c.Remote.Password == "" && c.Remote.PrivateKeyPath == "" {
		return errors.New("remote.password or remote.private_key_path must be set")
	}
	if c.Remote.KnownHostsPath == "" && !c.Remote.InsecureSkipHostKey {
		return errors.New("remote.known_hosts_path must be set (or remote.insecure_skip_host_key = true)")
	}
	return nil
}

// RequireTMDB reports whether TMDB access is configured.
func (c *Config) RequireTMDB() error {
	if strings.TrimSpace(c.TMDB.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/nasferry/config.toml"
		}
		return fmt.Errorf("tmdb.api_key is required. Set TMDB_API_KEY env var or edit %s (create with 'nasferry config init')", defaultPath)
	}
	return nil
}

// SettleTime returns the crawl settle window.
func (c *Config) SettleTime() time.Duration {
	return time.Duration(c.Crawl.SettleSeconds) * time.Second
}

// TransferTimeout returns the per-file transfer timeout.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Download.TransferTimeoutSeconds) * time.Second
}

// LookupTimeout returns the per-record metadata lookup timeout used while routing.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Routing.LookupTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the SSH connection timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Remote.ConnectTimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between SFTP reconnect attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Remote.RetryDelaySeconds) * time.Second
}

// RunLockPath returns the file used to prevent overlapping runs.
func (c *Config) RunLockPath() string {
	return filepath.Join(c.Paths.StateDir, "nasferry.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}
