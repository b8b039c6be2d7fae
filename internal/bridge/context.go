package bridge

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sshfs/sshfs/internal/remote"
)

// Handle is the per-open state attached to a FileContext. It is either
// metadata-only (Attrs set, no Stream) or holds a live Stream.
type Handle struct {
	ID     uuid.UUID
	Attrs  *remote.Attributes
	Stream remote.Stream

	// mu serializes seek+read and seek+write on Stream.
	mu sync.Mutex
}

func newMetadataHandle(attrs *remote.Attributes) *Handle {
	return &Handle{ID: uuid.New(), Attrs: attrs.Clone()}
}

func newStreamHandle(s remote.Stream) *Handle {
	return &Handle{ID: uuid.New(), Stream: s}
}

// Release closes the stream, if any. Calling it twice is harmless.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Stream == nil {
		return nil
	}
	err := h.Stream.Close()
	h.Stream = nil
	return err
}

func (h *Handle) hasStream() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Stream != nil
}

// withStream runs fn on the stream while holding the handle lock. It
// reports false when the handle has no stream.
func (h *Handle) withStream(fn func(s remote.Stream) error) (bool, error) {
	if h == nil {
		return false, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Stream == nil {
		return false, nil
	}
	return true, fn(h.Stream)
}

// FileContext carries what the host keeps between calls for one open.
type FileContext struct {
	Handle        *Handle
	IsDirectory   bool
	DeleteOnClose bool
}

func (fc *FileContext) handle() *Handle {
	if fc == nil {
		return nil
	}
	return fc.Handle
}

func (fc *FileContext) isDirectory() bool {
	return fc != nil && fc.IsDirectory
}

func (fc *FileContext) deleteOnClose() bool {
	return fc != nil && fc.DeleteOnClose
}

func (fc *FileContext) release() {
	if fc == nil || fc.Handle == nil {
		return
	}
	_ = fc.Handle.Release()
	fc.Handle = nil
}

func (fc *FileContext) handleID() string {
	if h := fc.handle(); h != nil {
		return h.ID.String()
	}
	return ""
}
