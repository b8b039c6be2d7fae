package fuse

import (
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/bridge"
)

const statfsBlockSize = 4096

// OpenFlags is the host-neutral form of open(2) flags.
type OpenFlags struct {
	Write     bool
	Create    bool
	Exclusive bool
	Truncate  bool
	Append    bool
}

func (f OpenFlags) access() uint32 {
	if f.Write || f.Append {
		return bridge.AccessGenericRead | bridge.AccessGenericWrite
	}
	return bridge.AccessGenericRead
}

func (f OpenFlags) mode() bridge.FileMode {
	switch {
	case f.Create && f.Exclusive:
		return bridge.ModeCreateNew
	case f.Create && f.Truncate:
		return bridge.ModeCreate
	case f.Append:
		return bridge.ModeAppend
	case f.Create:
		return bridge.ModeOpenOrCreate
	case f.Truncate:
		return bridge.ModeTruncate
	default:
		return bridge.ModeOpen
	}
}

// Attr is what a host reports for one path.
type Attr struct {
	Dir      bool
	Perm     uint32
	Size     int64
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
	Symlink  bool
	ReadOnly bool
}

// Entry is one directory listing row.
type Entry struct {
	Name string
	Attr Attr
}

// Statfs is the capacity reply in block units.
type Statfs struct {
	BlockSize uint64
	Blocks    uint64
	Free      uint64
	Available uint64
	NameMax   uint64
}

func attrOf(info bridge.FileInformation) Attr {
	a := Attr{
		Dir:      info.Attributes.Has(bridge.AttrDirectory),
		Symlink:  info.Attributes.Has(bridge.AttrReparsePoint),
		ReadOnly: info.Attributes.Has(bridge.AttrReadOnly),
		Size:     info.Length,
		Atime:    info.LastAccessTime,
		Mtime:    info.LastWriteTime,
		Ctime:    info.CreationTime,
	}
	a.Perm = 0o644
	if a.Dir {
		a.Perm = 0o755
	}
	if a.ReadOnly {
		a.Perm &^= 0o222
	}
	return a
}

// attributesOf turns chmod bits into the attribute set the bridge expects.
// Matching owner and group bits stand for the Archive flag.
func attributesOf(mode uint32) bridge.FileAttributes {
	var attrs bridge.FileAttributes
	if mode&0o200 == 0 {
		attrs |= bridge.AttrReadOnly
	}
	if (mode>>6)&7 == (mode>>3)&7 {
		attrs |= bridge.AttrArchive
	}
	if attrs == 0 {
		attrs = bridge.AttrNormal
	}
	return attrs
}

type openFile struct {
	path string
	fc   *bridge.FileContext
}

// Ops translates POSIX style calls into the callback contract of a
// bridge.FileSystem and keeps the open handle table.
type Ops struct {
	fs     bridge.FileSystem
	logger *zap.Logger

	mu      sync.Mutex
	next    uint64
	handles map[uint64]*openFile
}

// NewOps wraps fs.
func NewOps(fs bridge.FileSystem, logger *zap.Logger) *Ops {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ops{
		fs:      fs,
		logger:  logger,
		next:    1,
		handles: make(map[uint64]*openFile),
	}
}

func (o *Ops) register(p string, fc *bridge.FileContext) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	fh := o.next
	o.next++
	o.handles[fh] = &openFile{path: p, fc: fc}
	return fh
}

func (o *Ops) lookup(fh uint64) (*openFile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.handles[fh]
	return f, ok
}

func (o *Ops) take(fh uint64) (*openFile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.handles[fh]
	delete(o.handles, fh)
	return f, ok
}

func (o *Ops) contextOf(fh uint64) *bridge.FileContext {
	if f, ok := o.lookup(fh); ok {
		return f.fc
	}
	return nil
}

// OpenHandles returns the number of handles not yet released.
func (o *Ops) OpenHandles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

// close runs the Cleanup and CloseFile pair and reports the first failure.
func (o *Ops) close(p string, fc *bridge.FileContext) bridge.Status {
	cleanup := o.fs.Cleanup(p, fc)
	closed := o.fs.CloseFile(p, fc)
	if cleanup != bridge.StatusSuccess {
		return cleanup
	}
	return closed
}

// Getattr reports attributes for p, preferring the open handle fh when one
// is given.
func (o *Ops) Getattr(p string, fh uint64) (Attr, bridge.Status) {
	info, st := o.fs.GetFileInformation(p, o.contextOf(fh))
	if st != bridge.StatusSuccess {
		return Attr{}, st
	}
	return attrOf(info), st
}

// Open opens a file and returns its handle.
func (o *Ops) Open(p string, flags OpenFlags) (uint64, bridge.Status) {
	fc := &bridge.FileContext{}
	st := o.fs.CreateFile(p, flags.access(), flags.mode(), fc)
	if st != bridge.StatusSuccess {
		return 0, st
	}
	return o.register(p, fc), st
}

// Create is Open with the create flag set.
func (o *Ops) Create(p string, flags OpenFlags) (uint64, bridge.Status) {
	flags.Create = true
	flags.Write = true
	return o.Open(p, flags)
}

// Opendir opens a directory handle.
func (o *Ops) Opendir(p string) (uint64, bridge.Status) {
	fc := &bridge.FileContext{IsDirectory: true}
	st := o.fs.CreateFile(p, bridge.AccessGenericRead, bridge.ModeOpen, fc)
	if st != bridge.StatusSuccess {
		return 0, st
	}
	return o.register(p, fc), st
}

// Readdir lists the directory behind fh.
func (o *Ops) Readdir(p string, fh uint64) ([]Entry, bridge.Status) {
	infos, st := o.fs.FindFiles(p, o.contextOf(fh))
	if st != bridge.StatusSuccess {
		return nil, st
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		a := attrOf(info)
		if a.Symlink {
			// Listings flag every link as a directory; the link target decides here.
			if li, lst := o.fs.GetFileInformation(path.Join(p, info.FileName), nil); lst == bridge.StatusSuccess {
				a = attrOf(li)
				a.Symlink = true
			}
		}
		entries = append(entries, Entry{Name: info.FileName, Attr: a})
	}
	return entries, st
}

// List opens, lists and releases p in one call.
func (o *Ops) List(p string) ([]Entry, bridge.Status) {
	fh, st := o.Opendir(p)
	if st != bridge.StatusSuccess {
		return nil, st
	}
	defer o.Release(p, fh)
	return o.Readdir(p, fh)
}

// Read reads into buf at offset.
func (o *Ops) Read(p string, buf []byte, offset int64, fh uint64) (int, bridge.Status) {
	return o.fs.ReadFile(p, buf, offset, o.contextOf(fh))
}

// Write writes buf at offset.
func (o *Ops) Write(p string, buf []byte, offset int64, fh uint64) (int, bridge.Status) {
	return o.fs.WriteFile(p, buf, offset, o.contextOf(fh))
}

// Flush pushes buffered data of fh to the remote.
func (o *Ops) Flush(p string, fh uint64) bridge.Status {
	return o.fs.FlushFileBuffers(p, o.contextOf(fh))
}

// Release drops fh. Unknown handles are ignored.
func (o *Ops) Release(p string, fh uint64) bridge.Status {
	f, ok := o.take(fh)
	if !ok {
		return bridge.StatusSuccess
	}
	return o.close(f.path, f.fc)
}

// Truncate resizes p, through fh when it is open.
func (o *Ops) Truncate(p string, size int64, fh uint64) bridge.Status {
	if fc := o.contextOf(fh); fc != nil {
		return o.fs.SetEndOfFile(p, size, fc)
	}
	fc := &bridge.FileContext{}
	st := o.fs.CreateFile(p, bridge.AccessGenericRead|bridge.AccessGenericWrite, bridge.ModeOpen, fc)
	if st != bridge.StatusSuccess {
		return st
	}
	st = o.fs.SetEndOfFile(p, size, fc)
	if cst := o.close(p, fc); st == bridge.StatusSuccess {
		st = cst
	}
	return st
}

// Mkdir creates directory p.
func (o *Ops) Mkdir(p string) bridge.Status {
	fc := &bridge.FileContext{IsDirectory: true}
	st := o.fs.CreateFile(p, bridge.AccessGenericWrite, bridge.ModeCreateNew, fc)
	if st != bridge.StatusSuccess {
		return st
	}
	return o.close(p, fc)
}

// Unlink removes file p with the open, check, delete-on-close sequence.
func (o *Ops) Unlink(p string) bridge.Status {
	return o.remove(p, false)
}

// Rmdir removes directory p when it is empty.
func (o *Ops) Rmdir(p string) bridge.Status {
	return o.remove(p, true)
}

func (o *Ops) remove(p string, dir bool) bridge.Status {
	fc := &bridge.FileContext{IsDirectory: dir}
	st := o.fs.CreateFile(p, bridge.AccessDelete, bridge.ModeOpen, fc)
	if st != bridge.StatusSuccess {
		return st
	}
	if dir {
		st = o.fs.DeleteDirectory(p, fc)
	} else {
		st = o.fs.DeleteFile(p, fc)
	}
	if st != bridge.StatusSuccess {
		o.close(p, fc)
		return st
	}
	fc.DeleteOnClose = true
	return o.close(p, fc)
}

// Rename moves oldPath to newPath. replace is false for RENAME_NOREPLACE.
func (o *Ops) Rename(oldPath, newPath string, replace bool) bridge.Status {
	fc := &bridge.FileContext{}
	st := o.fs.CreateFile(oldPath, bridge.AccessDelete, bridge.ModeOpen, fc)
	if st != bridge.StatusSuccess {
		return st
	}
	st = o.fs.MoveFile(oldPath, newPath, replace, fc)
	o.close(newPath, fc)
	return st
}

// Chmod applies mode through the attribute mapping.
func (o *Ops) Chmod(p string, mode uint32, fh uint64) bridge.Status {
	return o.fs.SetFileAttributes(p, attributesOf(mode), o.contextOf(fh))
}

// Utimens sets access and modification times. A nil time is left as is.
func (o *Ops) Utimens(p string, atime, mtime *time.Time, fh uint64) bridge.Status {
	return o.fs.SetFileTime(p, nil, atime, mtime, o.contextOf(fh))
}

// Statfs reports capacity in blocks.
func (o *Ops) Statfs() (Statfs, bridge.Status) {
	space, st := o.fs.GetDiskFreeSpace(nil)
	if st != bridge.StatusSuccess {
		return Statfs{}, st
	}
	vol, _ := o.fs.GetVolumeInformation(nil)
	return Statfs{
		BlockSize: statfsBlockSize,
		Blocks:    space.TotalBytes / statfsBlockSize,
		Free:      space.FreeBytesAvailable / statfsBlockSize,
		Available: space.FreeBytesAvailable / statfsBlockSize,
		NameMax:   uint64(vol.MaximumComponentLength),
	}, st
}

// Volume returns the volume information of the served filesystem.
func (o *Ops) Volume() bridge.VolumeInfo {
	vol, _ := o.fs.GetVolumeInformation(nil)
	return vol
}

// Mounted forwards the host's mount notification.
func (o *Ops) Mounted() {
	o.fs.Mounted(nil)
}

// Unmounted releases every handle the host left open and forwards the
// notification.
func (o *Ops) Unmounted() {
	o.mu.Lock()
	left := o.handles
	o.handles = make(map[uint64]*openFile)
	o.mu.Unlock()

	for _, f := range left {
		o.close(f.path, f.fc)
	}
	if len(left) > 0 {
		o.logger.Warn("released handles left open at unmount", zap.Int("count", len(left)))
	}
	o.fs.Unmounted(nil)
}
