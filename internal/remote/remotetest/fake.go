// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sshfs/sshfs/internal/remote"
)

type node struct {
	attrs  remote.Attributes
	data   []byte
	target string
}

// CommandFunc answers RunCommand.
type CommandFunc func(cmd string) (stdout string, status int, err error)

// Client is a concurrency-safe fake remote filesystem. Every primitive is
// counted in Calls and can be made to fail with Fail.
type Client struct {
	mu       sync.Mutex
	nodes    map[string]*node
	calls    map[string]int
	failures map[string]error
	now      func() time.Time

	// PosixRenameUnsupported makes PosixRename fail with ErrNotSupported.
	PosixRenameUnsupported bool
	// StatVFSResult is returned by StatVFS; nil means ErrNotSupported.
	StatVFSResult *remote.StatVFS
	Commands      CommandFunc
	Wd            string
	UID, GID      int
}

var _ remote.Client = (*Client)(nil)

// New returns a fake holding an empty root directory.
func New() *Client {
	c := &Client{
		nodes:    make(map[string]*node),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		now:      time.Now,
		Wd:       "/home/test",
		UID:      1000,
		GID:      1000,
	}
	c.nodes["/"] = &node{attrs: c.dirAttrs(0o755)}
	return c
}

func (c *Client) dirAttrs(mode os.FileMode) remote.Attributes {
	t := c.now()
	return remote.Attributes{Size: 4096, UID: c.UID, GID: c.GID, Mode: mode, IsDir: true, ModTime: t, AccessTime: t}
}

// AddDir creates a directory and any missing parents.
func (c *Client) AddDir(p string, mode os.FileMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mkdirAll(clean(p), mode)
}

// AddFile creates a file, creating parents as needed.
func (c *Client) AddFile(p string, data []byte, mode os.FileMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.mkdirAll(path.Dir(p), 0o755)
	t := c.now()
	c.nodes[p] = &node{
		attrs: remote.Attributes{Size: int64(len(data)), UID: c.UID, GID: c.GID, Mode: mode, ModTime: t, AccessTime: t},
		data:  append([]byte(nil), data...),
	}
	c.touch(path.Dir(p))
}

// AddSymlink creates a link at p pointing to target.
func (c *Client) AddSymlink(p, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	c.mkdirAll(path.Dir(p), 0o755)
	t := c.now()
	c.nodes[p] = &node{
		attrs:  remote.Attributes{Size: int64(len(target)), UID: c.UID, GID: c.GID, Mode: 0o777, IsSymlink: true, ModTime: t, AccessTime: t},
		target: target,
	}
	c.touch(path.Dir(p))
}

// SetAttrs replaces the stored attributes of p.
func (c *Client) SetAttrs(p string, fn func(a *remote.Attributes)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[clean(p)]; ok {
		fn(&n.attrs)
	}
}

// Data returns the content of a file.
func (c *Client) Data(p string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[clean(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether p is present.
func (c *Client) Exists(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[clean(p)]
	return ok
}

// Fail makes every call of op on p return err. An empty p matches any path.
func (c *Client) Fail(op, p string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op+"|"+p] = err
}

// ClearFailures removes all injected errors.
func (c *Client) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = make(map[string]error)
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// ResetCalls zeroes the call counters.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]int)
}

// enter must be called with mu held.
func (c *Client) enter(op, p string) error {
	c.calls[op]++
	if err, ok := c.failures[op+"|"+p]; ok {
		return err
	}
	if err, ok := c.failures[op+"|"]; ok {
		return err
	}
	return nil
}

func (c *Client) mkdirAll(p string, mode os.FileMode) {
	if _, ok := c.nodes[p]; ok || p == "/" {
		return
	}
	c.mkdirAll(path.Dir(p), mode)
	c.nodes[p] = &node{attrs: c.dirAttrs(mode)}
	c.touch(path.Dir(p))
}

func (c *Client) touch(dir string) {
	if n, ok := c.nodes[dir]; ok {
		n.attrs.ModTime = c.now()
	}
}

func (c *Client) children(dir string) []string {
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	var out []string
	for p := range c.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		if !strings.Contains(p[len(prefix):], "/") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func notFound(op, p string) error {
	return fmt.Errorf("%s %s: %w", op, p, remote.ErrNotFound)
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (c *Client) resolve(p string, depth int) (*node, string, error) {
	n, ok := c.nodes[p]
	if !ok {
		return nil, p, remote.ErrNotFound
	}
	if !n.attrs.IsSymlink {
		return n, p, nil
	}
	if depth > 8 {
		return nil, p, remote.ErrFailure
	}
	target := n.target
	if !path.IsAbs(target) {
		target = path.Join(path.Dir(p), target)
	}
	return c.resolve(clean(target), depth+1)
}

func (c *Client) Stat(p string) (*remote.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Stat", p); err != nil {
		return nil, err
	}
	n, _, err := c.resolve(p, 0)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	a := n.attrs
	return &a, nil
}

func (c *Client) Lstat(p string) (*remote.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Lstat", p); err != nil {
		return nil, err
	}
	n, ok := c.nodes[p]
	if !ok {
		return nil, notFound("lstat", p)
	}
	a := n.attrs
	return &a, nil
}

func (c *Client) Chmod(p string, mode os.FileMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Chmod", p); err != nil {
		return err
	}
	n, ok := c.nodes[p]
	if !ok {
		return notFound("chmod", p)
	}
	n.attrs.Mode = mode.Perm()
	return nil
}

func (c *Client) Chtimes(p string, atime, mtime time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Chtimes", p); err != nil {
		return err
	}
	n, ok := c.nodes[p]
	if !ok {
		return notFound("chtimes", p)
	}
	n.attrs.AccessTime = atime
	n.attrs.ModTime = mtime
	return nil
}

func (c *Client) ReadDir(p string) ([]remote.DirEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("ReadDir", p); err != nil {
		return nil, err
	}
	n, resolved, err := c.resolve(p, 0)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	if !n.attrs.IsDir {
		return nil, fmt.Errorf("readdir %s: %w", p, remote.ErrFailure)
	}
	var entries []remote.DirEntry
	for _, child := range c.children(resolved) {
		a := c.nodes[child].attrs
		entries = append(entries, remote.DirEntry{Name: path.Base(child), Attrs: &a})
	}
	return entries, nil
}

func (c *Client) OpenFile(p string, flags int) (remote.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("OpenFile", p); err != nil {
		return nil, err
	}
	n, ok := c.nodes[p]
	switch {
	case ok && flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		return nil, fmt.Errorf("open %s: %w", p, remote.ErrFailure)
	case !ok && flags&os.O_CREATE == 0:
		return nil, notFound("open", p)
	case !ok:
		if _, parent := c.nodes[path.Dir(p)]; !parent {
			return nil, notFound("open", p)
		}
		t := c.now()
		n = &node{attrs: remote.Attributes{UID: c.UID, GID: c.GID, Mode: 0o644, ModTime: t, AccessTime: t}}
		c.nodes[p] = n
		c.touch(path.Dir(p))
	case n.attrs.IsDir:
		return nil, fmt.Errorf("open %s: %w", p, remote.ErrFailure)
	}
	if flags&os.O_TRUNC != 0 {
		n.data = nil
		n.attrs.Size = 0
	}
	s := &stream{c: c, n: n, writable: flags&(os.O_WRONLY|os.O_RDWR) != 0}
	if flags&os.O_APPEND != 0 {
		s.off = int64(len(n.data))
	}
	return s, nil
}

func (c *Client) Mkdir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Mkdir", p); err != nil {
		return err
	}
	if _, ok := c.nodes[p]; ok {
		return fmt.Errorf("mkdir %s: %w", p, remote.ErrFailure)
	}
	if _, ok := c.nodes[path.Dir(p)]; !ok {
		return notFound("mkdir", p)
	}
	c.nodes[p] = &node{attrs: c.dirAttrs(0o755)}
	c.touch(path.Dir(p))
	return nil
}

func (c *Client) Remove(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("Remove", p); err != nil {
		return err
	}
	n, ok := c.nodes[p]
	if !ok {
		return notFound("remove", p)
	}
	if n.attrs.IsDir && len(c.children(p)) > 0 {
		return fmt.Errorf("remove %s: %w", p, remote.ErrFailure)
	}
	delete(c.nodes, p)
	c.touch(path.Dir(p))
	return nil
}

func (c *Client) RemoveDirectory(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("RemoveDirectory", p); err != nil {
		return err
	}
	n, ok := c.nodes[p]
	if !ok {
		return notFound("rmdir", p)
	}
	if !n.attrs.IsDir || len(c.children(p)) > 0 {
		return fmt.Errorf("rmdir %s: %w", p, remote.ErrFailure)
	}
	delete(c.nodes, p)
	c.touch(path.Dir(p))
	return nil
}

func (c *Client) move(oldPath, newPath string) {
	moved := make(map[string]*node)
	for p, n := range c.nodes {
		if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
			moved[newPath+p[len(oldPath):]] = n
			delete(c.nodes, p)
		}
	}
	for p, n := range moved {
		c.nodes[p] = n
	}
	c.touch(path.Dir(oldPath))
	c.touch(path.Dir(newPath))
}

func (c *Client) Rename(oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldPath, newPath = clean(oldPath), clean(newPath)
	if err := c.enter("Rename", oldPath); err != nil {
		return err
	}
	if _, ok := c.nodes[oldPath]; !ok {
		return notFound("rename", oldPath)
	}
	if _, ok := c.nodes[newPath]; ok {
		return fmt.Errorf("rename %s: %w", oldPath, remote.ErrFailure)
	}
	c.move(oldPath, newPath)
	return nil
}

func (c *Client) PosixRename(oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldPath, newPath = clean(oldPath), clean(newPath)
	if err := c.enter("PosixRename", oldPath); err != nil {
		return err
	}
	if c.PosixRenameUnsupported {
		return fmt.Errorf("posix-rename %s: %w", oldPath, remote.ErrNotSupported)
	}
	if _, ok := c.nodes[oldPath]; !ok {
		return notFound("posix-rename", oldPath)
	}
	delete(c.nodes, newPath)
	c.move(oldPath, newPath)
	return nil
}

func (c *Client) ReadLink(p string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = clean(p)
	if err := c.enter("ReadLink", p); err != nil {
		return "", err
	}
	n, ok := c.nodes[p]
	if !ok || !n.attrs.IsSymlink {
		return "", notFound("readlink", p)
	}
	return n.target, nil
}

func (c *Client) StatVFS(p string) (*remote.StatVFS, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("StatVFS", clean(p)); err != nil {
		return nil, err
	}
	if c.StatVFSResult == nil {
		return nil, fmt.Errorf("statvfs %s: %w", p, remote.ErrNotSupported)
	}
	st := *c.StatVFSResult
	return &st, nil
}

func (c *Client) Getwd() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Getwd", ""); err != nil {
		return "", err
	}
	return c.Wd, nil
}

func (c *Client) RunCommand(ctx context.Context, cmd string) (string, int, error) {
	c.mu.Lock()
	err := c.enter("RunCommand", cmd)
	commands := c.Commands
	c.mu.Unlock()
	if err != nil {
		return "", -1, err
	}
	if ctx.Err() != nil {
		return "", -1, ctx.Err()
	}
	if commands == nil {
		return "", 127, nil
	}
	return commands(cmd)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["Close"]++
	return nil
}

type stream struct {
	c        *Client
	n        *node
	off      int64
	writable bool
	closed   bool
}

func (s *stream) Read(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.enter("StreamRead", ""); err != nil {
		return 0, err
	}
	if s.off >= int64(len(s.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.n.data[s.off:])
	s.off += int64(n)
	return n, nil
}

func (s *stream) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.enter("StreamWrite", ""); err != nil {
		return 0, err
	}
	if !s.writable {
		return 0, fmt.Errorf("write: %w", remote.ErrPermission)
	}
	end := s.off + int64(len(p))
	if end > int64(len(s.n.data)) {
		grown := make([]byte, end)
		copy(grown, s.n.data)
		s.n.data = grown
	}
	copy(s.n.data[s.off:], p)
	s.off = end
	s.n.attrs.Size = int64(len(s.n.data))
	s.n.attrs.ModTime = s.c.now()
	return len(p), nil
}

func (s *stream) Seek(offset int64, whence int) (int64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	switch whence {
	case io.SeekStart:
		s.off = offset
	case io.SeekCurrent:
		s.off += offset
	case io.SeekEnd:
		s.off = int64(len(s.n.data)) + offset
	}
	return s.off, nil
}

func (s *stream) Truncate(size int64) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.enter("Truncate", ""); err != nil {
		return err
	}
	data := make([]byte, size)
	copy(data, s.n.data)
	s.n.data = data
	s.n.attrs.Size = size
	return nil
}

func (s *stream) Flush() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.enter("Flush", "")
}

func (s *stream) Close() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.calls["StreamClose"]++
	s.closed = true
	return nil
}
