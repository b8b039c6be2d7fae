package bridge

import (
	"context"
	stderr "errors"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/cache"
	"github.com/sshfs/sshfs/internal/permission"
	"github.com/sshfs/sshfs/internal/remote"
	"github.com/sshfs/sshfs/internal/writelock"
	"github.com/sshfs/sshfs/pkg/types"
)

const (
	// FileSystemName is reported by GetVolumeInformation.
	FileSystemName = "SSHFS"

	maxIOSize          = 1 << 20
	nominalDirSize     = 4096
	maxComponentLength = 256
	diskInfoTTL        = 3 * time.Minute
	commandTimeout     = 10 * time.Second
)

// FileSystem is the callback surface a host driver dispatches into.
type FileSystem interface {
	CreateFile(path string, access uint32, mode FileMode, fc *FileContext) Status
	Cleanup(path string, fc *FileContext) Status
	CloseFile(path string, fc *FileContext) Status
	ReadFile(path string, buf []byte, offset int64, fc *FileContext) (int, Status)
	WriteFile(path string, buf []byte, offset int64, fc *FileContext) (int, Status)
	FlushFileBuffers(path string, fc *FileContext) Status
	GetFileInformation(path string, fc *FileContext) (FileInformation, Status)
	FindFiles(path string, fc *FileContext) ([]FileInformation, Status)
	FindFilesWithPattern(path, pattern string, fc *FileContext) ([]FileInformation, Status)
	SetFileAttributes(path string, attrs FileAttributes, fc *FileContext) Status
	SetFileTime(path string, created, accessed, written *time.Time, fc *FileContext) Status
	DeleteFile(path string, fc *FileContext) Status
	DeleteDirectory(path string, fc *FileContext) Status
	MoveFile(oldPath, newPath string, replace bool, fc *FileContext) Status
	SetEndOfFile(path string, length int64, fc *FileContext) Status
	SetAllocationSize(path string, length int64, fc *FileContext) Status
	LockFile(path string, offset, length int64, fc *FileContext) Status
	UnlockFile(path string, offset, length int64, fc *FileContext) Status
	GetDiskFreeSpace(fc *FileContext) (DiskSpace, Status)
	GetVolumeInformation(fc *FileContext) (VolumeInfo, Status)
	GetFileSecurity(path string, fc *FileContext) (Security, Status)
	SetFileSecurity(path string, sec Security, fc *FileContext) Status
	Mounted(fc *FileContext) Status
	Unmounted(fc *FileContext) Status
	FindStreams(path string, fc *FileContext) ([]FileInformation, Status)
}

// Config configures one volume.
type Config struct {
	Label string
	// Root is the remote directory the volume is rooted at, without a trailing '/'.
	Root                string
	AttrTTL             time.Duration
	DirTTL              time.Duration
	UseOfflineAttribute bool
	DebugMode           bool
	// DFCommand is the free-space fallback, "df" or "busybox df".
	DFCommand string
}

// DefaultConfig returns the volume defaults.
func DefaultConfig() Config {
	return Config{
		AttrTTL:   5 * time.Second,
		DirTTL:    60 * time.Second,
		DFCommand: "df",
	}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCache replaces the volume cache.
func WithCache(c *cache.Cache) Option {
	return func(b *Bridge) { b.cache = c }
}

// WithPermissions sets the emulator built from the probed identity.
func WithPermissions(p *permission.Emulator) Option {
	return func(b *Bridge) { b.perm = p }
}

// WithLocks sets the lock coordinator.
func WithLocks(l *writelock.Coordinator) Option {
	return func(b *Bridge) { b.locks = l }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge answers host callbacks for one remote volume. It is safe for
// concurrent use.
type Bridge struct {
	config  Config
	client  remote.Client
	cache   *cache.Cache
	perm    *permission.Emulator
	locks   *writelock.Coordinator
	logger  *zap.Logger
	metrics types.MetricsCollector
}

var _ FileSystem = (*Bridge)(nil)

// New creates a bridge over client.
func New(client remote.Client, config Config, opts ...Option) *Bridge {
	def := DefaultConfig()
	if config.AttrTTL <= 0 {
		config.AttrTTL = def.AttrTTL
	}
	if config.DirTTL <= 0 {
		config.DirTTL = def.DirTTL
	}
	if config.DFCommand == "" {
		config.DFCommand = def.DFCommand
	}
	config.Root = strings.TrimSuffix(config.Root, "/")

	b := &Bridge{
		config:  config,
		client:  client,
		logger:  zap.NewNop(),
		metrics: types.NopCollector{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil {
		b.cache = cache.New(cache.DefaultConfig(), b.metrics)
	}
	if b.perm == nil {
		b.perm = permission.New(-1, nil)
	}
	if b.locks == nil {
		b.locks = writelock.New(writelock.DefaultConfig())
	}
	return b
}

// Label returns the volume label.
func (b *Bridge) Label() string { return b.config.Label }

// Close releases the cache and waits for outstanding lock requests.
func (b *Bridge) Close(ctx context.Context) error {
	err := b.locks.Close(ctx)
	b.cache.Close()
	return err
}

// normalize turns a host path into the '/'-separated key used for caching
// and locking. The result always starts with '/'.
func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (b *Bridge) remotePath(p string) string {
	if p == "/" {
		if b.config.Root == "" {
			return "/"
		}
		return b.config.Root
	}
	return b.config.Root + p
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func baseName(p string) string {
	if p == "/" {
		return ""
	}
	return path.Base(p)
}

// stat fetches live attributes of p, resolving symlinks. A missing path
// yields nil attributes and no error.
func (b *Bridge) stat(p string) (*remote.Attributes, error) {
	rp := b.remotePath(p)
	attrs, err := b.client.Lstat(rp)
	if err != nil {
		if stderr.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	b.resolveLink(rp, attrs)
	return attrs, nil
}

// resolveLink fills the symlink fields of attrs. Dangling links are left
// with an empty target.
func (b *Bridge) resolveLink(rp string, attrs *remote.Attributes) {
	if !attrs.IsSymlink {
		return
	}
	target, err := b.client.Stat(rp)
	if err != nil {
		return
	}
	if name, err := b.client.ReadLink(rp); err == nil {
		attrs.SymlinkTarget = name
	}
	attrs.IsSymlinkToDir = target.IsDir
	if !target.IsDir {
		attrs.Size = target.Size
	}
}

// lookup returns cached attributes of p or fetches and caches them.
func (b *Bridge) lookup(p string) (*remote.Attributes, error) {
	if attrs, ok := b.cache.GetAttr(p); ok {
		return attrs, nil
	}
	attrs, err := b.stat(p)
	if err != nil || attrs == nil {
		return nil, err
	}
	b.cache.PutAttr(p, attrs, b.config.AttrTTL)
	return attrs, nil
}

func (b *Bridge) invalidate(p string, parent bool) {
	b.cache.Invalidate(p)
	if parent {
		b.cache.InvalidateParent(p)
	}
}
