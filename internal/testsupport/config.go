package testsupport

import (
	"path/filepath"
	"testing"

	"nasferry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The memory backend is selected and the settle window is disabled so fake
// remote entries are visible immediately.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.IncomingDir = filepath.Join(base, "incoming")
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Database.Backend = config.BackendMemory
	cfgVal.Database.SQLitePath = filepath.Join(base, "state", "nasferry.db")
	cfgVal.Remote.Host = "fake.remote"
	cfgVal.Remote.Username = "tester"
	cfgVal.Remote.Password = "secret"
	cfgVal.Remote.InsecureSkipHostKey = true
	cfgVal.Remote.Paths = []string{"/remote/tv"}
	cfgVal.Remote.RetryDelaySeconds = 0
	cfgVal.Crawl.SettleSeconds = 0
	cfgVal.TMDB.APIKey = "test"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Download.Workers = 2
	cfgVal.Routing.Workers = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the persistence backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Database.Backend = backend
	}
}

// WithRemotePaths overrides the remote roots.
func WithRemotePaths(paths ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.Paths = append([]string(nil), paths...)
	}
}

// WithSettleSeconds enables the crawl settle window.
func WithSettleSeconds(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Crawl.SettleSeconds = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.IncomingDir)
}
