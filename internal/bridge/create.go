package bridge

import (
	stderr "errors"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/cache"
	"github.com/sshfs/sshfs/internal/remote"
)

// Names the host shell probes on every directory; they never exist remotely.
var shellProbeNames = []string{"desktop.ini", "autorun.inf"}

func isShellProbe(p string) bool {
	lower := strings.ToLower(p)
	for _, name := range shellProbeNames {
		if strings.HasSuffix(lower, name) {
			return true
		}
	}
	return false
}

func modeFlags(mode FileMode) int {
	switch mode {
	case ModeCreateNew:
		return os.O_CREATE | os.O_EXCL
	case ModeCreate:
		return os.O_CREATE | os.O_TRUNC
	case ModeOpenOrCreate:
		return os.O_CREATE
	case ModeTruncate:
		return os.O_TRUNC
	case ModeAppend:
		return os.O_CREATE | os.O_APPEND
	default:
		return 0
	}
}

// CreateFile opens or creates path. fc.IsDirectory carries the host's
// directory hint on entry and the resolved kind on return.
func (b *Bridge) CreateFile(p string, access uint32, mode FileMode, fc *FileContext) Status {
	p = normalize(p)
	if fc == nil {
		// Nobody keeps the handle, so it is closed again right away.
		fc = &FileContext{}
		defer fc.release()
	}
	return b.guard("CreateFile", p, fc, func() (Status, error) {
		if b.config.DebugMode {
			b.logger.Debug("CreateFile arguments",
				zap.String("path", p),
				zap.Uint32("access", access),
				zap.Stringer("mode", mode),
				zap.Bool("directory", fc.IsDirectory),
				zap.Bool("delete_on_close", fc.DeleteOnClose))
		}
		if fc.IsDirectory {
			return b.createDirectoryEntry(p, mode, fc)
		}
		return b.createFileEntry(p, access, mode, fc)
	})
}

func (b *Bridge) createDirectoryEntry(p string, mode FileMode, fc *FileContext) (Status, error) {
	attrs, err := b.stat(p)
	if err != nil {
		return StatusError, err
	}
	if attrs != nil && !attrs.IsDirLike() {
		return StatusNotImplemented, nil
	}

	switch mode {
	case ModeOpen:
		status, err := b.openDirectory(p, fc)
		if status == StatusObjectNameNotFound {
			if again, _ := b.stat(p); again != nil {
				return StatusNotADirectory, nil
			}
		}
		return status, err
	case ModeCreateNew:
		return b.createDirectory(p)
	default:
		return StatusNotImplemented, nil
	}
}

func (b *Bridge) openDirectory(p string, fc *FileContext) (Status, error) {
	attrs, err := b.lookup(p)
	if err != nil {
		return StatusError, err
	}
	if attrs == nil {
		return StatusObjectNameNotFound, nil
	}
	if !attrs.IsDirLike() {
		return StatusNotADirectory, nil
	}
	if !b.perm.CanExecute(attrs) || !b.perm.CanRead(attrs) {
		return StatusAccessDenied, nil
	}

	fc.IsDirectory = true
	fc.Handle = newMetadataHandle(attrs)
	b.cache.GetFreshDir(p, attrs.ModTime)
	return StatusSuccess, nil
}

func (b *Bridge) createDirectory(p string) (Status, error) {
	if err := b.client.Mkdir(b.remotePath(p)); err != nil {
		if stderr.Is(err, remote.ErrPermission) {
			return StatusAccessDenied, nil
		}
		b.logger.Debug("mkdir failed", zap.String("path", p), zap.Error(err))
		return StatusObjectNameCollision, nil
	}
	b.cache.InvalidateParent(p)
	return StatusSuccess, nil
}

func (b *Bridge) createFileEntry(p string, access uint32, mode FileMode, fc *FileContext) (Status, error) {
	if isShellProbe(p) {
		return StatusNoSuchFile, nil
	}

	attrs, err := b.lookup(p)
	if err != nil {
		return StatusError, err
	}

	switch mode {
	case ModeOpen:
		if attrs == nil {
			return StatusNoSuchFile, nil
		}
		if access&accessNeedsData == 0 || attrs.IsDir {
			fc.IsDirectory = attrs.IsDirLike()
			if fc.DeleteOnClose {
				// The host follows up with an explicit delete call.
				return StatusError, nil
			}
			fc.Handle = newMetadataHandle(attrs)
			return StatusSuccess, nil
		}
	case ModeCreateNew:
		if attrs != nil {
			return StatusObjectNameCollision, nil
		}
		b.cache.InvalidateParent(p)
	case ModeTruncate:
		if attrs == nil {
			return StatusNoSuchFile, nil
		}
		b.invalidate(p, true)
	default:
		b.cache.InvalidateParent(p)
	}

	flags := modeFlags(mode)
	if access&accessWrites == 0 {
		flags |= os.O_RDONLY
	} else {
		flags |= os.O_RDWR
	}

	stream, err := b.client.OpenFile(b.remotePath(p), flags)
	if err != nil {
		if !stderr.Is(err, remote.ErrPermission) && !stderr.Is(err, remote.ErrNotFound) {
			return StatusError, err
		}
		parent, perr := b.lookup(cache.ParentPath(p))
		if perr == nil && parent == nil {
			return StatusObjectPathNotFound, nil
		}
		return StatusAccessDenied, nil
	}

	fc.Handle = newStreamHandle(stream)
	return StatusSuccess, nil
}

// Cleanup releases the handle and performs a pending delete-on-close.
func (b *Bridge) Cleanup(p string, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("Cleanup", p, fc, func() (Status, error) {
		fc.release()
		if !fc.deleteOnClose() {
			return StatusSuccess, nil
		}
		defer b.invalidate(p, true)

		rp := b.remotePath(p)
		remove := b.client.Remove
		if fc.isDirectory() {
			attrs, err := b.lookup(p)
			if err != nil {
				return StatusError, err
			}
			if attrs == nil {
				return StatusSuccess, nil
			}
			if !attrs.IsSymlink {
				remove = b.client.RemoveDirectory
			}
		}

		if err := remove(rp); err != nil && !stderr.Is(err, remote.ErrNotFound) {
			if stderr.Is(err, remote.ErrPermission) {
				return StatusAccessDenied, nil
			}
			return StatusError, err
		}
		return StatusSuccess, nil
	})
}

// CloseFile flushes and closes a live stream. Without a handle it ends an
// outstanding PendingWrite.
func (b *Bridge) CloseFile(p string, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("CloseFile", p, fc, func() (Status, error) {
		if !fc.isDirectory() {
			defer b.cache.Invalidate(p)
		}

		h := fc.handle()
		if h == nil {
			if _, ok := b.locks.Pending(p); ok {
				b.locks.Finish(p)
			}
			return StatusSuccess, nil
		}

		_, flushErr := h.withStream(func(s remote.Stream) error { return s.Flush() })
		closeErr := h.Release()
		fc.Handle = nil
		if err := stderr.Join(flushErr, closeErr); err != nil {
			return StatusError, err
		}
		return StatusSuccess, nil
	})
}
