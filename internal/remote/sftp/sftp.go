// Package sftp is the SSH file transfer transport. Sessions retry operations
// that fail on a broken connection by reconnecting, up to the configured
// attempt count.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"nasferry/internal/config"
	"nasferry/internal/logging"
	"nasferry/internal/remote"
	"nasferry/internal/services"
)

// Conn is one live SFTP connection. Closer releases the underlying SSH
// connection, and may be nil when the client owns it.
type Conn struct {
	Client *sftp.Client
	Closer io.Closer
}

func (c *Conn) close() error {
	if c == nil {
		return nil
	}
	err := c.Client.Close()
	if c.Closer != nil {
		if cerr := c.Closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ConnectFunc opens a connection.
type ConnectFunc func(ctx context.Context) (*Conn, error)

// Dialer opens SFTP sessions against one server.
type Dialer struct {
	connect  ConnectFunc
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Dialer.
type Option func(*Dialer)

// WithConnectFunc replaces the SSH connection step.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(d *Dialer) {
		if fn != nil {
			d.connect = fn
		}
	}
}

// WithRetry overrides the attempt count and the pause between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(d *Dialer) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if delay >= 0 {
			d.delay = delay
		}
	}
}

var _ remote.Dialer = (*Dialer)(nil)

// NewDialer builds a dialer from the remote configuration.
func NewDialer(cfg config.Remote, logger *slog.Logger, opts ...Option) (*Dialer, error) {
	d := &Dialer{
		attempts: cfg.RetryAttempts,
		delay:    time.Duration(cfg.RetryDelaySeconds) * time.Second,
		logger:   logging.NewComponentLogger(logger, "sftp"),
		now:      time.Now,
	}
	if d.attempts < 1 {
		d.attempts = 1
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.connect == nil {
		clientCfg, err := clientConfig(cfg)
		if err != nil {
			return nil, err
		}
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		d.connect = sshConnect(addr, clientCfg)
	}
	return d, nil
}

func clientConfig(cfg config.Remote) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "sftp", "load key", cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "sftp", "parse key", cfg.PrivateKeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "sftp", "auth", "password or private key required", nil)
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case cfg.KnownHostsPath != "":
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "sftp", "known hosts", cfg.KnownHostsPath, err)
		}
		hostKey = cb
	case cfg.InsecureSkipHostKey:
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicitly requested by configuration
	default:
		return nil, services.Wrap(services.ErrConfiguration, "sftp", "known hosts", "known_hosts_path required", nil)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
	}, nil
}

func sshConnect(addr string, clientCfg *ssh.ClientConfig) ConnectFunc {
	return func(ctx context.Context) (*Conn, error) {
		dialer := net.Dialer{Timeout: clientCfg.Timeout}
		netConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "sftp", "dial", addr, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = netConn.SetDeadline(deadline)
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
		if err != nil {
			_ = netConn.Close()
			return nil, services.Wrap(services.ErrTransient, "sftp", "handshake", addr, err)
		}
		_ = netConn.SetDeadline(time.Time{})
		client := ssh.NewClient(sshConn, chans, reqs)
		sftpClient, err := sftp.NewClient(client)
		if err != nil {
			_ = client.Close()
			return nil, services.Wrap(services.ErrTransient, "sftp", "subsystem", addr, err)
		}
		return &Conn{Client: sftpClient, Closer: client}, nil
	}
}

// Dial opens a session, retrying transient connection failures.
func (d *Dialer) Dial(ctx context.Context) (remote.Session, error) {
	s := &Session{dialer: d}
	if err := s.retry(ctx, "connect", func(*sftp.Client) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Session is a remote.Session over SFTP. It is not safe for concurrent use.
type Session struct {
	dialer *Dialer
	conn   *Conn
}

var _ remote.Session = (*Session)(nil)

// ListDirectory returns the direct children of dir.
func (s *Session) ListDirectory(ctx context.Context, dir string) ([]remote.Entry, error) {
	var entries []remote.Entry
	err := s.retry(ctx, "list", func(client *sftp.Client) error {
		infos, err := client.ReadDir(dir)
		if err != nil {
			return err
		}
		now := s.dialer.now()
		entries = make([]remote.Entry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, remote.NewEntry(dir, info.Name(), info.Size(), info.ModTime(), info.IsDir(), now))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return entries, nil
}

// Download copies remotePath to localPath through a sibling ".part" file that
// is renamed into place once complete. A failed transfer leaves no file.
func (s *Session) Download(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	err := s.retry(ctx, "download", func(client *sftp.Client) error {
		return fetch(ctx, client, remotePath, localPath)
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return nil
}

func fetch(ctx context.Context, client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	partPath := localPath + ".part"
	dst, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", partPath, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	_, copyErr := src.WriteTo(dst)
	stop()
	closeErr := dst.Close()
	if copyErr == nil {
		copyErr = ctx.Err()
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partPath)
		return copyErr
	}
	if err := os.Rename(partPath, localPath); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("finalize %s: %w", localPath, err)
	}
	return nil
}

// Normalize resolves p to an absolute remote path.
func (s *Session) Normalize(ctx context.Context, p string) (string, error) {
	var out string
	err := s.retry(ctx, "normalize", func(client *sftp.Client) error {
		resolved, err := client.RealPath(p)
		if err != nil {
			return err
		}
		out = path.Clean(resolved)
		return nil
	})
	return out, err
}

// Close releases the connection.
func (s *Session) Close() error {
	err := s.conn.close()
	s.conn = nil
	return err
}

// retry runs op on a live connection. Connection failures trigger a
// reconnect after the configured delay; other errors are returned as is.
func (s *Session) retry(ctx context.Context, op string, fn func(*sftp.Client) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.dialer.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.conn == nil {
			conn, err := s.dialer.connect(ctx)
			if err != nil {
				lastErr = err
				if !isConnectionError(err) {
					return err
				}
				if !s.backoff(ctx, op, attempt, err) {
					break
				}
				continue
			}
			s.conn = conn
		}
		err := fn(s.conn.Client)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isConnectionError(err) || ctx.Err() != nil {
			return err
		}
		_ = s.conn.close()
		s.conn = nil
		if !s.backoff(ctx, op, attempt, err) {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return services.Wrap(services.ErrTransient, "sftp", op, fmt.Sprintf("failed after %d attempts", s.dialer.attempts), lastErr)
}

func (s *Session) backoff(ctx context.Context, op string, attempt int, err error) bool {
	if attempt >= s.dialer.attempts {
		return false
	}
	logging.WarnWithContext(logging.WithContext(ctx, s.dialer.logger), "sftp operation failed; reconnecting",
		"sftp_retry",
		logging.String("operation", op),
		logging.Int("attempt", attempt),
		logging.Int("max_attempts", s.dialer.attempts),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check remote host reachability"),
	)
	if s.dialer.delay <= 0 {
		return true
	}
	timer := time.NewTimer(s.dialer.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return false
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return services.IsTransient(err)
}
