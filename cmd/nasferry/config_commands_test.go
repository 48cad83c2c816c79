package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nasferry/internal/config"
)

func TestConfigInitWritesSample(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	stdout, _, err := env.run(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout, target) {
		t.Fatalf("expected target path in output, got %q", stdout)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if string(data) != config.SampleConfig() {
		t.Fatal("sample config content mismatch")
	}

	if _, _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected existing file to be refused")
	}
	if _, _, err := env.run(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestConfigInitSkipsConfigLoad(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.WriteFile(env.configPath, []byte("not = [valid"), 0o644); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	if _, _, err := env.run(t, "config", "init", "--path", filepath.Join(t.TempDir(), "c.toml")); err != nil {
		t.Fatalf("config init must not parse the existing config: %v", err)
	}
	if _, _, err := env.run(t, "files", "list"); err == nil {
		t.Fatal("expected other commands to report the parse error")
	}
}

func TestConfigShowMasksPassword(t *testing.T) {
	env := setupCLITestEnv(t)
	stdout, _, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(stdout, "secret") {
		t.Fatalf("password leaked:\n%s", stdout)
	}
	if !strings.Contains(stdout, redacted) || !strings.Contains(stdout, env.configPath) {
		t.Fatalf("expected redacted values and config path:\n%s", stdout)
	}
	if env.cfg.Remote.Password != "secret" {
		t.Fatal("redaction must not modify the loaded config")
	}
}

func TestConfigValidateReportsPrerequisites(t *testing.T) {
	env := setupCLITestEnv(t)
	stdout, _, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(stdout, "Configuration valid") || !strings.Contains(stdout, "yes") ||
		!strings.Contains(stdout, "Incoming directory") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
}

func TestLogLevelOverrideIsValidated(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := env.run(t, "--log-level", "debug", "files", "list"); err != nil {
		t.Fatalf("debug level: %v", err)
	}
	if _, _, err := env.run(t, "--log-level", "loud", "files", "list"); err == nil {
		t.Fatal("expected unknown log level to fail")
	}
}
