package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"nasferry/internal/config"
	"nasferry/internal/logging"
	"nasferry/internal/remote"
	"nasferry/internal/store/sqlite"
	"nasferry/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	remote     *testsupport.FakeRemote
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(config.BackendSQLite))
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		remote:     testsupport.NewFakeRemote(),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// run executes one CLI invocation in-process against the test config and
// fake remote, returning stdout and stderr.
func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	ctx := newCommandContext()
	ctx.newLogger = func(*config.Config) (*slog.Logger, error) { return logging.NewNop(), nil }
	ctx.newDialer = func(*config.Config, *slog.Logger) (remote.Dialer, error) { return e.remote, nil }

	cmd := buildRootCommand(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// openStore opens the test database directly for seeding and assertions.
func (e *cliTestEnv) openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), e.cfg.Database.SQLitePath)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
