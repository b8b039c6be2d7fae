package bridge

import (
	stderr "errors"
	"time"

	"github.com/sshfs/sshfs/internal/cache"
	"github.com/sshfs/sshfs/internal/permission"
	"github.com/sshfs/sshfs/internal/remote"
)

// SetFileAttributes maps the Archive flag onto the group permission bits.
// Every other flag is ignored.
func (b *Bridge) SetFileAttributes(p string, attrs FileAttributes, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("SetFileAttributes", p, fc, func() (Status, error) {
		current, err := b.stat(p)
		if err != nil {
			return StatusError, err
		}
		if current == nil {
			return StatusNoSuchFile, nil
		}

		mode := current.Mode
		mirrored := permission.GroupRightsSameAsOwner(mode)
		switch {
		case attrs.Has(AttrArchive) && !mirrored:
			mode = permission.MirrorOwner(mode)
		case !attrs.Has(AttrArchive) && mirrored:
			mode = permission.MirrorOther(mode)
		}
		if mode == current.Mode {
			return StatusSuccess, nil
		}

		if err := b.client.Chmod(b.remotePath(p), mode); err != nil {
			if stderr.Is(err, remote.ErrPermission) {
				return StatusAccessDenied, nil
			}
			return StatusError, err
		}
		b.invalidate(p, true)
		if h := fc.handle(); h != nil && h.Attrs != nil {
			h.Attrs.Mode = mode
		}
		return StatusSuccess, nil
	})
}

// SetFileTime updates access and write times. Missing values keep the
// current ones; a missing write time falls back to created.
func (b *Bridge) SetFileTime(p string, created, accessed, written *time.Time, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("SetFileTime", p, fc, func() (Status, error) {
		var snapshot *remote.Attributes
		if h := fc.handle(); h != nil && h.Attrs != nil {
			snapshot = h.Attrs
		} else {
			var err error
			if snapshot, err = b.stat(p); err != nil {
				return StatusError, err
			}
		}
		if snapshot == nil {
			return StatusNoSuchFile, nil
		}

		mtime := snapshot.ModTime
		switch {
		case written != nil:
			mtime = *written
		case created != nil:
			mtime = *created
		}
		atime := snapshot.AccessTime
		if accessed != nil {
			atime = *accessed
		}

		if err := b.client.Chtimes(b.remotePath(p), atime, mtime); err != nil {
			return StatusError, err
		}
		b.cache.Invalidate(p)
		return StatusSuccess, nil
	})
}

// DeleteFile only checks that the parent is writable; removal happens in
// Cleanup with DeleteOnClose.
func (b *Bridge) DeleteFile(p string, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("DeleteFile", p, fc, func() (Status, error) {
		return b.parentWritable(p)
	})
}

func (b *Bridge) parentWritable(p string) (Status, error) {
	parent, err := b.lookup(cache.ParentPath(p))
	if err != nil {
		return StatusError, err
	}
	if parent != nil && b.perm.CanWrite(parent) {
		return StatusSuccess, nil
	}
	return StatusAccessDenied, nil
}

// DeleteDirectory checks that path may be removed: the parent is writable
// and the directory is empty. Symlinks are always deletable.
func (b *Bridge) DeleteDirectory(p string, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("DeleteDirectory", p, fc, func() (Status, error) {
		if status, err := b.parentWritable(p); status != StatusSuccess || err != nil {
			return status, err
		}

		attrs, err := b.lookup(p)
		if err != nil {
			return StatusError, err
		}
		if attrs == nil {
			return StatusNoSuchFile, nil
		}
		if attrs.IsSymlink {
			return StatusSuccess, nil
		}

		var entries []remote.DirEntry
		if listing, ok := b.cache.GetFreshDir(p, attrs.ModTime); ok {
			entries = listing.Entries
		} else {
			entries, err = b.client.ReadDir(b.remotePath(p))
			if err != nil {
				if stderr.Is(err, remote.ErrPermission) {
					return StatusAccessDenied, nil
				}
				return StatusError, err
			}
		}

		for _, e := range entries {
			if e.Name != "." && e.Name != ".." {
				return StatusDirectoryNotEmpty, nil
			}
		}
		return StatusSuccess, nil
	})
}

// MoveFile renames oldPath to newPath. An existing target is only replaced
// when replace is set and the target is not a directory.
func (b *Bridge) MoveFile(oldPath, newPath string, replace bool, fc *FileContext) Status {
	oldPath, newPath = normalize(oldPath), normalize(newPath)
	return b.guard("MoveFile", oldPath, fc, func() (Status, error) {
		target, err := b.stat(newPath)
		if err != nil {
			return StatusError, err
		}
		from, to := b.remotePath(oldPath), b.remotePath(newPath)

		if target == nil {
			fc.release()
			if err := b.client.Rename(from, to); err != nil {
				if stderr.Is(err, remote.ErrPermission) {
					return StatusAccessDenied, nil
				}
				return StatusError, err
			}
			b.invalidateMove(oldPath, newPath)
			return StatusSuccess, nil
		}

		if !replace {
			return StatusObjectNameCollision, nil
		}

		fc.release()
		if target.IsDirLike() {
			return StatusAccessDenied, nil
		}

		err = b.client.PosixRename(from, to)
		if stderr.Is(err, remote.ErrNotSupported) {
			err = nil
			if !fc.isDirectory() {
				if rerr := b.client.Remove(to); rerr != nil && !stderr.Is(rerr, remote.ErrNotFound) {
					err = rerr
				}
			}
			if err == nil {
				err = b.client.Rename(from, to)
			}
		}
		if err != nil {
			if stderr.Is(err, remote.ErrNotFound) || stderr.Is(err, remote.ErrPermission) {
				return StatusAccessDenied, nil
			}
			return StatusError, err
		}
		b.invalidateMove(oldPath, newPath)
		return StatusSuccess, nil
	})
}

func (b *Bridge) invalidateMove(oldPath, newPath string) {
	b.invalidate(oldPath, true)
	b.invalidate(newPath, true)
}

// LockFile is a no-op; byte ranges are not locked remotely.
func (b *Bridge) LockFile(p string, offset, length int64, fc *FileContext) Status {
	return StatusSuccess
}

// UnlockFile is a no-op.
func (b *Bridge) UnlockFile(p string, offset, length int64, fc *FileContext) Status {
	return StatusSuccess
}
