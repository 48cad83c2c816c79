package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"nasferry/internal/remote"
)

// OldModTime is a modification time safely outside any settle window.
var OldModTime = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

type fakeNode struct {
	isDir   bool
	content []byte
	modTime time.Time
}

// FakeRemote is an in-memory remote tree implementing remote.Dialer. Sessions
// share the tree; counters let tests assert on transfers and dials.
type FakeRemote struct {
	mu             sync.Mutex
	nodes          map[string]fakeNode
	listErrors     map[string]error
	downloadErrors map[string]error
	transfers      map[string]int
	dials          int
	open           int
	active         int
	maxActive      int
	dialErr        error
	transferDelay  time.Duration
}

var _ remote.Dialer = (*FakeRemote)(nil)

// NewFakeRemote returns an empty tree containing only "/".
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		nodes:          map[string]fakeNode{"/": {isDir: true, modTime: OldModTime}},
		listErrors:     map[string]error{},
		downloadErrors: map[string]error{},
		transfers:      map[string]int{},
	}
}

// AddFile adds a file of size filler bytes, creating parent directories.
func (f *FakeRemote) AddFile(p string, size int64, modTime time.Time) {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('A' + i%26)
	}
	f.AddFileContent(p, data, modTime)
}

// AddFileContent adds a file with explicit content.
func (f *FakeRemote) AddFileContent(p string, content []byte, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.ensureParents(p)
	f.nodes[p] = fakeNode{content: append([]byte(nil), content...), modTime: modTime.UTC()}
}

// AddDir adds a directory, creating parents.
func (f *FakeRemote) AddDir(p string, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.ensureParents(p)
	f.nodes[p] = fakeNode{isDir: true, modTime: modTime.UTC()}
}

// Touch updates the modification time of an existing node.
func (f *FakeRemote) Touch(p string, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	if node, ok := f.nodes[p]; ok {
		node.modTime = modTime.UTC()
		f.nodes[p] = node
	}
}

func (f *FakeRemote) ensureParents(p string) {
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		if _, ok := f.nodes[dir]; !ok {
			f.nodes[dir] = fakeNode{isDir: true, modTime: OldModTime}
		}
		if dir == "/" || dir == "." {
			return
		}
	}
}

// FailList makes every listing of dir fail with err until cleared with nil.
func (f *FakeRemote) FailList(dir string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.listErrors, path.Clean(dir))
		return
	}
	f.listErrors[path.Clean(dir)] = err
}

// FailDownload makes every download of p fail with err until cleared with nil.
func (f *FakeRemote) FailDownload(p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.downloadErrors, path.Clean(p))
		return
	}
	f.downloadErrors[path.Clean(p)] = err
}

// FailDial makes Dial fail with err until cleared with nil.
func (f *FakeRemote) FailDial(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = err
}

// SetTransferDelay slows every transfer, for concurrency assertions.
func (f *FakeRemote) SetTransferDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferDelay = d
}

// Transfers returns how many times p was downloaded.
func (f *FakeRemote) Transfers(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transfers[path.Clean(p)]
}

// TotalTransfers returns the number of completed downloads.
func (f *FakeRemote) TotalTransfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.transfers {
		total += n
	}
	return total
}

// Dials returns the number of sessions opened.
func (f *FakeRemote) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// OpenSessions returns the number of sessions not yet closed.
func (f *FakeRemote) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// MaxConcurrentTransfers returns the peak number of simultaneous downloads.
func (f *FakeRemote) MaxConcurrentTransfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Dial implements remote.Dialer.
func (f *FakeRemote) Dial(ctx context.Context) (remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.dials++
	f.open++
	return &fakeSession{remote: f}, nil
}

type fakeSession struct {
	remote *FakeRemote
	closed bool
}

func (s *fakeSession) ListDirectory(ctx context.Context, dir string) ([]remote.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := s.remote
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	dir = path.Clean(dir)
	if err, ok := f.listErrors[dir]; ok {
		return nil, err
	}
	node, ok := f.nodes[dir]
	if !ok || !node.isDir {
		return nil, fmt.Errorf("list %s: %w", dir, os.ErrNotExist)
	}
	now := time.Now()
	var entries []remote.Entry
	for p, child := range f.nodes {
		if p == dir || path.Dir(p) != dir {
			continue
		}
		entries = append(entries, remote.NewEntry(dir, path.Base(p), int64(len(child.content)), child.modTime, child.isDir, now))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *fakeSession) Download(ctx context.Context, remotePath, localPath string) error {
	f := s.remote
	f.mu.Lock()
	if s.closed {
		f.mu.Unlock()
		return errors.New("session closed")
	}
	remotePath = path.Clean(remotePath)
	if err, ok := f.downloadErrors[remotePath]; ok {
		f.mu.Unlock()
		return err
	}
	node, ok := f.nodes[remotePath]
	if !ok || node.isDir {
		f.mu.Unlock()
		return fmt.Errorf("open %s: %w", remotePath, os.ErrNotExist)
	}
	content := append([]byte(nil), node.content...)
	delay := f.transferDelay
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp := localPath + ".part"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, localPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	f.mu.Lock()
	f.transfers[remotePath]++
	f.mu.Unlock()
	return nil
}

func (s *fakeSession) Normalize(_ context.Context, p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

func (s *fakeSession) Close() error {
	f := s.remote
	f.mu.Lock()
	defer f.mu.Unlock()
	if !s.closed {
		s.closed = true
		f.open--
	}
	return nil
}
