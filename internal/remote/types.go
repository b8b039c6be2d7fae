package remote

import (
	"context"
	"io"
	"os"
	"time"
)

// Attributes is the metadata of one remote path as seen by the bridge.
type Attributes struct {
	Size int64
	UID  int
	GID  int
	// Mode holds the nine permission bits only.
	Mode os.FileMode

	IsDir     bool
	IsSymlink bool
	IsSocket  bool

	// IsSymlinkToDir and SymlinkTarget are filled when a symlink has been
	// resolved once; they stay zero for dangling links.
	IsSymlinkToDir bool
	SymlinkTarget  string

	ModTime    time.Time
	AccessTime time.Time
}

// Clone returns a copy that can be mutated without touching cached values.
func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// IsDirLike reports whether the host should treat the path as a directory.
func (a *Attributes) IsDirLike() bool {
	return a.IsDir || a.IsSymlinkToDir
}

// DirEntry is one child returned by ReadDir. Attrs describe the entry itself, not a link target.
type DirEntry struct {
	Name  string
	Attrs *Attributes
}

// StatVFS is the subset of statvfs@openssh.com the bridge needs.
type StatVFS struct {
	Bsize  uint64
	Frsize uint64
	Blocks uint64
	Bfree  uint64
	Bavail uint64
}

// Stream is a seekable byte stream to one remote file.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Truncate(size int64) error
	Flush() error
}

// Client is the set of remote primitives the bridge drives. Errors wrap one
// of ErrNotFound, ErrPermission, ErrNotSupported or ErrFailure.
type Client interface {
	// Stat follows symbolic links.
	Stat(path string) (*Attributes, error)
	Lstat(path string) (*Attributes, error)
	Chmod(path string, mode os.FileMode) error
	Chtimes(path string, atime, mtime time.Time) error
	ReadDir(path string) ([]DirEntry, error)
	// OpenFile takes os.O_* flags.
	OpenFile(path string, flags int) (Stream, error)
	Mkdir(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Rename(oldPath, newPath string) error
	// PosixRename replaces newPath atomically, or fails with ErrNotSupported.
	PosixRename(oldPath, newPath string) error
	ReadLink(path string) (string, error)
	StatVFS(path string) (*StatVFS, error)
	Getwd() (string, error)
	// RunCommand runs cmd in a remote shell and returns its stdout and exit status.
	RunCommand(ctx context.Context, cmd string) (string, int, error)
	Close() error
}
