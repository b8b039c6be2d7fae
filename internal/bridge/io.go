package bridge

import (
	stderr "errors"
	"io"
	"os"

	"github.com/sshfs/sshfs/internal/remote"
	"github.com/sshfs/sshfs/pkg/errors"
)

func capped(buf []byte) []byte {
	if len(buf) > maxIOSize {
		return buf[:maxIOSize]
	}
	return buf
}

func readAt(s remote.Stream, buf []byte, offset int64) (int, error) {
	if _, err := s.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s, buf)
	if stderr.Is(err, io.EOF) || stderr.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	return n, err
}

func writeAt(s remote.Stream, buf []byte, offset int64) (int, error) {
	if _, err := s.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return s.Write(buf)
}

// ReadFile reads up to len(buf) bytes at offset. Without a live stream it
// opens a short-lived read-only one.
func (b *Bridge) ReadFile(p string, buf []byte, offset int64, fc *FileContext) (int, Status) {
	p = normalize(p)
	return b.guardIO("ReadFile", p, fc, func() (int, Status, error) {
		buf := capped(buf)

		var n int
		ok, err := fc.handle().withStream(func(s remote.Stream) error {
			var rerr error
			n, rerr = readAt(s, buf, offset)
			return rerr
		})
		if ok {
			return n, StatusSuccess, err
		}

		s, err := b.client.OpenFile(b.remotePath(p), os.O_RDONLY)
		if err != nil {
			return 0, StatusError, err
		}
		defer s.Close()
		n, err = readAt(s, buf, offset)
		return n, StatusSuccess, err
	})
}

// WriteFile writes buf at offset and releases the remote lock once the
// declared length of a PendingWrite is reached.
func (b *Bridge) WriteFile(p string, buf []byte, offset int64, fc *FileContext) (int, Status) {
	p = normalize(p)
	return b.guardIO("WriteFile", p, fc, func() (int, Status, error) {
		buf := capped(buf)

		var n int
		ok, err := fc.handle().withStream(func(s remote.Stream) error {
			var werr error
			n, werr = writeAt(s, buf, offset)
			return werr
		})
		if !ok {
			n, err = b.writeDetached(p, buf, offset)
		}
		if err != nil {
			return 0, StatusError, err
		}

		b.cache.Invalidate(p)
		b.locks.Reached(p, offset+int64(n))
		return n, StatusSuccess, nil
	})
}

func (b *Bridge) writeDetached(p string, buf []byte, offset int64) (int, error) {
	s, err := b.client.OpenFile(b.remotePath(p), os.O_RDWR|os.O_CREATE)
	if err != nil {
		return 0, err
	}
	n, err := writeAt(s, buf, offset)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	b.cache.InvalidateParent(p)
	return n, err
}

// FlushFileBuffers flushes the live stream, if any.
func (b *Bridge) FlushFileBuffers(p string, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("FlushFileBuffers", p, fc, func() (Status, error) {
		_, err := fc.handle().withStream(func(s remote.Stream) error { return s.Flush() })
		b.cache.Invalidate(p)
		return StatusSuccess, err
	})
}

// SetEndOfFile truncates or extends the live stream and registers a
// PendingWrite for length.
func (b *Bridge) SetEndOfFile(p string, length int64, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("SetEndOfFile", p, fc, func() (Status, error) {
		return b.resize(p, length, fc)
	})
}

// SetAllocationSize behaves like SetEndOfFile.
func (b *Bridge) SetAllocationSize(p string, length int64, fc *FileContext) Status {
	p = normalize(p)
	return b.guard("SetAllocationSize", p, fc, func() (Status, error) {
		return b.resize(p, length, fc)
	})
}

var errNoStream = errors.NewError(errors.ErrCodeInvalidState, "no open stream for resize").WithComponent("bridge")

func (b *Bridge) resize(p string, length int64, fc *FileContext) (Status, error) {
	ok, err := fc.handle().withStream(func(s remote.Stream) error { return s.Truncate(length) })
	if !ok {
		return StatusError, errNoStream
	}
	if err != nil {
		return StatusError, err
	}
	b.locks.Begin(p, length)
	b.invalidate(p, true)
	return StatusSuccess, nil
}
