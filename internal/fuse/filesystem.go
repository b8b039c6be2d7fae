//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sshfs/sshfs/internal/bridge"
)

const renameNoReplace = 0x1

// errnoOf maps a callback status onto the errno go-fuse returns.
func errnoOf(st bridge.Status) syscall.Errno {
	switch st {
	case bridge.StatusSuccess:
		return 0
	case bridge.StatusNoSuchFile, bridge.StatusObjectNameNotFound, bridge.StatusObjectPathNotFound:
		return syscall.ENOENT
	case bridge.StatusObjectNameCollision:
		return syscall.EEXIST
	case bridge.StatusAccessDenied:
		return syscall.EACCES
	case bridge.StatusNotADirectory:
		return syscall.ENOTDIR
	case bridge.StatusDirectoryNotEmpty:
		return syscall.ENOTEMPTY
	case bridge.StatusNotImplemented:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

func flagsOf(flags uint32) OpenFlags {
	f := int(flags)
	return OpenFlags{
		Write:     f&syscall.O_ACCMODE != syscall.O_RDONLY,
		Create:    f&os.O_CREATE != 0,
		Exclusive: f&os.O_EXCL != 0,
		Truncate:  f&os.O_TRUNC != 0,
		Append:    f&os.O_APPEND != 0,
	}
}

// tree holds what every node of one mount shares.
type tree struct {
	ops         *Ops
	uid, gid    uint32
	attrTimeout time.Duration
}

func (t *tree) fill(out *fuse.Attr, a Attr) {
	out.Mode = typeOf(a) | a.Perm
	out.Nlink = 1
	if a.Dir {
		out.Nlink = 2
	}
	if a.Size > 0 {
		out.Size = uint64(a.Size)
	}
	out.Blocks = (out.Size + 511) / 512
	out.Uid = t.uid
	out.Gid = t.gid
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}

func typeOf(a Attr) uint32 {
	if a.Dir {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

// node is one path in the inode tree. The path is derived from the tree
// position on every call, so renames need no bookkeeping here.
type node struct {
	fs.Inode
	t *tree
}

var (
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeStatfser  = (*node)(nil)
)

func (n *node) path() string {
	return "/" + n.Path(nil)
}

func (n *node) child(name string) string {
	return path.Join(n.path(), name)
}

func (n *node) newChild(ctx context.Context, a Attr, out *fuse.EntryOut) *fs.Inode {
	n.t.fill(&out.Attr, a)
	out.SetAttrTimeout(n.t.attrTimeout)
	out.SetEntryTimeout(n.t.attrTimeout)
	return n.NewInode(ctx, &node{t: n.t}, fs.StableAttr{Mode: typeOf(a)})
}

func handleOf(f fs.FileHandle) uint64 {
	if h, ok := f.(*handle); ok {
		return h.fh
	}
	return 0
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, st := n.t.ops.Getattr(n.path(), handleOf(f))
	if st != bridge.StatusSuccess {
		return errnoOf(st)
	}
	n.t.fill(&out.Attr, a)
	out.SetTimeout(n.t.attrTimeout)
	return 0
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	a, st := n.t.ops.Getattr(n.child(name), 0)
	if st != bridge.StatusSuccess {
		return nil, errnoOf(st)
	}
	return n.newChild(ctx, a, out), 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, st := n.t.ops.List(n.path())
	if st != bridge.StatusSuccess {
		return nil, errnoOf(st)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, fuse.DirEntry{Name: e.Name, Mode: typeOf(e.Attr)})
	}
	return fs.NewListDirStream(list), 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.path()
	fh, st := n.t.ops.Open(p, flagsOf(flags))
	if st != bridge.StatusSuccess {
		return nil, 0, errnoOf(st)
	}
	return &handle{t: n.t, path: p, fh: fh}, 0, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := n.child(name)
	fh, st := n.t.ops.Create(p, flagsOf(flags))
	if st != bridge.StatusSuccess {
		return nil, nil, 0, errnoOf(st)
	}
	a, st := n.t.ops.Getattr(p, fh)
	if st != bridge.StatusSuccess {
		n.t.ops.Release(p, fh)
		return nil, nil, 0, errnoOf(st)
	}
	return n.newChild(ctx, a, out), &handle{t: n.t, path: p, fh: fh}, 0, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if st := n.t.ops.Mkdir(p); st != bridge.StatusSuccess {
		return nil, errnoOf(st)
	}
	a, st := n.t.ops.Getattr(p, 0)
	if st != bridge.StatusSuccess {
		return nil, errnoOf(st)
	}
	return n.newChild(ctx, a, out), 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.t.ops.Unlink(n.child(name)))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.t.ops.Rmdir(n.child(name)))
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst := path.Join("/"+newParent.EmbeddedInode().Path(nil), newName)
	return errnoOf(n.t.ops.Rename(n.child(name), dst, flags&renameNoReplace == 0))
}

func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p, fh := n.path(), handleOf(f)
	if size, ok := in.GetSize(); ok {
		if st := n.t.ops.Truncate(p, int64(size), fh); st != bridge.StatusSuccess {
			return errnoOf(st)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if st := n.t.ops.Chmod(p, mode, fh); st != bridge.StatusSuccess {
			return errnoOf(st)
		}
	}
	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		var ap, mp *time.Time
		if aok {
			ap = &atime
		}
		if mok {
			mp = &mtime
		}
		if st := n.t.ops.Utimens(p, ap, mp, fh); st != bridge.StatusSuccess {
			return errnoOf(st)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	s, st := n.t.ops.Statfs()
	if st != bridge.StatusSuccess {
		return errnoOf(st)
	}
	out.Bsize = uint32(s.BlockSize)
	out.Frsize = uint32(s.BlockSize)
	out.Blocks = s.Blocks
	out.Bfree = s.Free
	out.Bavail = s.Available
	out.NameLen = uint32(s.NameMax)
	return 0
}

// handle is an open file of the inode tree.
type handle struct {
	t    *tree
	path string
	fh   uint64
}

var (
	_ fs.FileReader   = (*handle)(nil)
	_ fs.FileWriter   = (*handle)(nil)
	_ fs.FileFlusher  = (*handle)(nil)
	_ fs.FileFsyncer  = (*handle)(nil)
	_ fs.FileReleaser = (*handle)(nil)
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, st := h.t.ops.Read(h.path, dest, off, h.fh)
	if st != bridge.StatusSuccess {
		return nil, errnoOf(st)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, st := h.t.ops.Write(h.path, data, off, h.fh)
	if st != bridge.StatusSuccess {
		return 0, errnoOf(st)
	}
	return uint32(n), 0
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return errnoOf(h.t.ops.Flush(h.path, h.fh))
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return errnoOf(h.t.ops.Flush(h.path, h.fh))
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	return errnoOf(h.t.ops.Release(h.path, h.fh))
}
