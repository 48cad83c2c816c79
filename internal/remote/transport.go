package remote

import "context"

// Session is one authenticated transport connection. A session is used by a
// single goroutine at a time.
type Session interface {
	ListDirectory(ctx context.Context, dir string) ([]Entry, error)
	Download(ctx context.Context, remotePath, localPath string) error
	Normalize(ctx context.Context, p string) (string, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
