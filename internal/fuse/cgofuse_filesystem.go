//go:build cgofuse
// +build cgofuse

package fuse

import (
	"sync/atomic"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/sshfs/sshfs/internal/bridge"
)

// cgoErrno maps a callback status onto a negated cgofuse errno.
func cgoErrno(st bridge.Status) int {
	switch st {
	case bridge.StatusSuccess:
		return 0
	case bridge.StatusNoSuchFile, bridge.StatusObjectNameNotFound, bridge.StatusObjectPathNotFound:
		return -fuse.ENOENT
	case bridge.StatusObjectNameCollision:
		return -fuse.EEXIST
	case bridge.StatusAccessDenied:
		return -fuse.EACCES
	case bridge.StatusNotADirectory:
		return -fuse.ENOTDIR
	case bridge.StatusDirectoryNotEmpty:
		return -fuse.ENOTEMPTY
	case bridge.StatusNotImplemented:
		return -fuse.ENOSYS
	default:
		return -fuse.EIO
	}
}

func cgoFlags(flags int) OpenFlags {
	return OpenFlags{
		Write:     flags&fuse.O_ACCMODE != fuse.O_RDONLY,
		Create:    flags&fuse.O_CREAT != 0,
		Exclusive: flags&fuse.O_EXCL != 0,
		Truncate:  flags&fuse.O_TRUNC != 0,
		Append:    flags&fuse.O_APPEND != 0,
	}
}

// result folds a byte count and status into the cgofuse return convention.
func result(n int, st bridge.Status) int {
	if st != bridge.StatusSuccess {
		return cgoErrno(st)
	}
	return n
}

// CgoFuseFS adapts Ops to the cgofuse callback interface. Handle ids are
// the Ops handle table ids.
type CgoFuseFS struct {
	fuse.FileSystemBase

	ops     *Ops
	mounted atomic.Bool
}

// NewCgoFuseFS wraps ops.
func NewCgoFuseFS(ops *Ops) *CgoFuseFS {
	return &CgoFuseFS{ops: ops}
}

func (c *CgoFuseFS) Init() {
	c.mounted.Store(true)
	c.ops.Mounted()
}

func (c *CgoFuseFS) Destroy() {
	c.mounted.Store(false)
	c.ops.Unmounted()
}

func fillStat(stat *fuse.Stat_t, a Attr) {
	stat.Mode = fuse.S_IFREG | a.Perm
	stat.Nlink = 1
	if a.Dir {
		stat.Mode = fuse.S_IFDIR | a.Perm
		stat.Nlink = 2
	}
	stat.Size = a.Size
	stat.Atim = fuse.NewTimespec(a.Atime)
	stat.Mtim = fuse.NewTimespec(a.Mtime)
	stat.Ctim = fuse.NewTimespec(a.Ctime)
	stat.Birthtim = fuse.NewTimespec(a.Ctime)
}

func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	a, st := c.ops.Getattr(path, fh)
	if st != bridge.StatusSuccess {
		return cgoErrno(st)
	}
	fillStat(stat, a)
	return 0
}

func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	fh, st := c.ops.Open(path, cgoFlags(flags))
	return cgoErrno(st), fh
}

func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	fh, st := c.ops.Create(path, cgoFlags(flags))
	return cgoErrno(st), fh
}

func (c *CgoFuseFS) Opendir(path string) (int, uint64) {
	fh, st := c.ops.Opendir(path)
	return cgoErrno(st), fh
}

func (c *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, st := c.ops.Readdir(path, fh)
	if st != bridge.StatusSuccess {
		return cgoErrno(st)
	}
	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, e := range entries {
		stat := &fuse.Stat_t{}
		fillStat(stat, e.Attr)
		if !fill(e.Name, stat, 0) {
			break
		}
	}
	return 0
}

func (c *CgoFuseFS) Releasedir(path string, fh uint64) int {
	return cgoErrno(c.ops.Release(path, fh))
}

func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	return result(c.ops.Read(path, buff, ofst, fh))
}

func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return result(c.ops.Write(path, buff, ofst, fh))
}

func (c *CgoFuseFS) Flush(path string, fh uint64) int {
	return cgoErrno(c.ops.Flush(path, fh))
}

func (c *CgoFuseFS) Fsync(path string, datasync bool, fh uint64) int {
	return cgoErrno(c.ops.Flush(path, fh))
}

func (c *CgoFuseFS) Release(path string, fh uint64) int {
	return cgoErrno(c.ops.Release(path, fh))
}

func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	return cgoErrno(c.ops.Truncate(path, size, fh))
}

func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return cgoErrno(c.ops.Mkdir(path))
}

func (c *CgoFuseFS) Unlink(path string) int {
	return cgoErrno(c.ops.Unlink(path))
}

func (c *CgoFuseFS) Rmdir(path string) int {
	return cgoErrno(c.ops.Rmdir(path))
}

func (c *CgoFuseFS) Rename(oldpath string, newpath string) int {
	return cgoErrno(c.ops.Rename(oldpath, newpath, true))
}

func (c *CgoFuseFS) Chmod(path string, mode uint32) int {
	return cgoErrno(c.ops.Chmod(path, mode, 0))
}

func (c *CgoFuseFS) Utimens(path string, tmsp []fuse.Timespec) int {
	var atime, mtime time.Time
	if len(tmsp) >= 2 {
		atime, mtime = tmsp[0].Time(), tmsp[1].Time()
	} else {
		atime = time.Now()
		mtime = atime
	}
	return cgoErrno(c.ops.Utimens(path, &atime, &mtime, 0))
}

func (c *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	s, st := c.ops.Statfs()
	if st != bridge.StatusSuccess {
		return cgoErrno(st)
	}
	stat.Bsize = s.BlockSize
	stat.Frsize = s.BlockSize
	stat.Blocks = s.Blocks
	stat.Bfree = s.Free
	stat.Bavail = s.Available
	stat.Namemax = s.NameMax
	return 0
}
