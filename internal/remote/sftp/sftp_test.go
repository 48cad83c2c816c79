package sftp

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/sftp"

	"nasferry/internal/config"
	"nasferry/internal/services"
)

// pipeConnect serves the local filesystem through an in-process SFTP server.
func pipeConnect(t *testing.T, dials *int) ConnectFunc {
	t.Helper()
	return func(context.Context) (*Conn, error) {
		*dials++
		clientRead, serverWrite := io.Pipe()
		serverRead, clientWrite := io.Pipe()
		server, err := sftp.NewServer(struct {
			io.Reader
			io.WriteCloser
		}{serverRead, serverWrite})
		if err != nil {
			return nil, err
		}
		go func() { _ = server.Serve() }()
		client, err := sftp.NewClientPipe(clientRead, clientWrite)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { _ = server.Close() })
		return &Conn{Client: client}, nil
	}
}

func newTestDialer(t *testing.T, connect ConnectFunc) *Dialer {
	t.Helper()
	cfg := config.Remote{Host: "example", Port: 22, Username: "u", Password: "p", InsecureSkipHostKey: true, RetryAttempts: 3}
	d, err := NewDialer(cfg, nil, WithConnectFunc(connect), WithRetry(3, 0))
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	return d
}

func TestListAndDownloadOverPipe(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	mod := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := os.MkdirAll(filepath.Join(root, "Show"), 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(root, "Show.S01E01.mkv")
	if err := os.WriteFile(file, []byte("episode-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(file, mod, mod); err != nil {
		t.Fatal(err)
	}

	var dials int
	sess, err := newTestDialer(t, pipeConnect(t, &dials)).Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	entries, err := sess.ListDirectory(ctx, root)
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if !entries[0].IsDir || entries[0].Name != "Show" {
		t.Fatalf("unexpected dir entry: %+v", entries[0])
	}
	ep := entries[1]
	if ep.Path != file || ep.Size != int64(len("episode-bytes")) || !ep.ModTime.Equal(mod) {
		t.Fatalf("unexpected file entry: %+v", ep)
	}

	local := filepath.Join(t.TempDir(), "incoming", "Show.S01E01.mkv")
	if err := sess.Download(ctx, file, local); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(local)
	if err != nil || string(got) != "episode-bytes" {
		t.Fatalf("downloaded content = %q, %v", got, err)
	}
	if _, err := os.Stat(local + ".part"); !os.IsNotExist(err) {
		t.Fatalf("part file left behind: %v", err)
	}

	if err := sess.Download(ctx, filepath.Join(root, "missing.mkv"), local+"2"); err == nil {
		t.Fatal("expected error for missing remote file")
	}
	if _, err := os.Stat(local + "2"); !os.IsNotExist(err) {
		t.Fatalf("failed download left a file: %v", err)
	}
	if dials != 1 {
		t.Fatalf("missing file must not reconnect, dials = %d", dials)
	}

	normalized, err := sess.Normalize(ctx, root+"/Show/..")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if normalized != filepath.Clean(root) {
		t.Fatalf("Normalize = %q, want %q", normalized, root)
	}
}

func TestDialRetriesTransientFailures(t *testing.T) {
	var (
		dials    int
		attempts int
	)
	healthy := pipeConnect(t, &dials)
	flaky := func(ctx context.Context) (*Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, services.Wrap(services.ErrTransient, "sftp", "dial", "refused", nil)
		}
		return healthy(ctx)
	}
	sess, err := newTestDialer(t, flaky).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()
	if attempts != 3 || dials != 1 {
		t.Fatalf("attempts=%d dials=%d", attempts, dials)
	}
}

func TestDialGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	failing := func(context.Context) (*Conn, error) {
		attempts++
		return nil, services.Wrap(services.ErrTransient, "sftp", "dial", "refused", nil)
	}
	_, err := newTestDialer(t, failing).Dial(context.Background())
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDialDoesNotRetryConfigurationErrors(t *testing.T) {
	attempts := 0
	failing := func(context.Context) (*Conn, error) {
		attempts++
		return nil, services.Wrap(services.ErrConfiguration, "sftp", "auth", "bad key", nil)
	}
	if _, err := newTestDialer(t, failing).Dial(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestClientConfigRequiresHostKeyPolicy(t *testing.T) {
	cfg := config.Remote{Host: "h", Port: 22, Username: "u", Password: "p"}
	if _, err := NewDialer(cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	cfg.Password = ""
	cfg.InsecureSkipHostKey = true
	if _, err := NewDialer(cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected auth error, got %v", err)
	}
	cfg.Password = "p"
	if _, err := NewDialer(cfg, nil); err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
}
