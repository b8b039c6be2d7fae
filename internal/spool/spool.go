// Package spool joins several volumes under one mount. The first path
// segment selects the volume; the rest of the path is handed to it.
package spool

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/pkg/errors"
)

// DefaultLabel is the volume label of the aggregate.
const DefaultLabel = "WinSshFS spool"

const rootRights = bridge.RightReadData | bridge.RightReadAttributes | bridge.RightReadExtendedAttributes |
	bridge.RightReadPermissions | bridge.RightSynchronize | bridge.RightTraverse

// Spool is a bridge.FileSystem whose root lists one directory per volume.
type Spool struct {
	label   string
	created time.Time
	logger  *zap.Logger

	mu    sync.RWMutex
	subs  map[string]bridge.FileSystem
	order []string
}

var _ bridge.FileSystem = (*Spool)(nil)

// Option configures a Spool.
type Option func(*Spool)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Spool) { s.logger = logger }
}

// New creates an empty spool. An empty label selects DefaultLabel.
func New(label string, opts ...Option) *Spool {
	if label == "" {
		label = DefaultLabel
	}
	s := &Spool{
		label:   label,
		created: time.Now(),
		logger:  zap.NewNop(),
		subs:    make(map[string]bridge.FileSystem),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSubFS registers fs under name. It is safe while mounted.
func (s *Spool) AddSubFS(name string, fs bridge.FileSystem) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return errors.NewError(errors.ErrCodePathInvalid, fmt.Sprintf("invalid volume name %q", name)).
			WithComponent("spool")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[name]; ok {
		return errors.NewError(errors.ErrCodeMountInUse, fmt.Sprintf("volume %q already mounted", name)).
			WithComponent("spool")
	}
	s.subs[name] = fs
	s.order = append(s.order, name)
	s.logger.Info("volume added", zap.String("name", name))
	return nil
}

// RemoveSubFS unregisters name and reports whether it was present.
func (s *Spool) RemoveSubFS(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[name]; !ok {
		return false
	}
	delete(s.subs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("volume removed", zap.String("name", name))
	return true
}

// Names returns the registered volume names in insertion order.
func (s *Spool) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Spool) first() bridge.FileSystem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil
	}
	return s.subs[s.order[0]]
}

func (s *Spool) all() []bridge.FileSystem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bridge.FileSystem, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.subs[name])
	}
	return out
}

// target is one routed path.
type target struct {
	name string
	fs   bridge.FileSystem
	// rest starts with '/'; it is "/" for the volume root.
	rest string
}

func (t target) isRoot() bool    { return t.name == "" }
func (t target) isSubRoot() bool { return t.name != "" && t.rest == "/" }
func (t target) found() bool     { return t.isRoot() || t.fs != nil }

func (s *Spool) route(p string) target {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return target{rest: "/"}
	}
	name, rest, _ := strings.Cut(p, "/")
	s.mu.RLock()
	fs := s.subs[name]
	s.mu.RUnlock()
	return target{name: name, fs: fs, rest: "/" + rest}
}

func (s *Spool) dirInfo(name string) bridge.FileInformation {
	return bridge.FileInformation{
		FileName:       name,
		Attributes:     bridge.AttrDirectory | bridge.AttrReadOnly,
		CreationTime:   s.created,
		LastAccessTime: s.created,
		LastWriteTime:  s.created,
	}
}

// fixed answers for the root and for volume names. ok is false when the
// call must go to the volume.
func (s *Spool) fixed(t target) (bridge.Status, bool) {
	switch {
	case t.isRoot() || t.isSubRoot():
		return bridge.StatusAccessDenied, true
	case !t.found():
		return bridge.StatusNoSuchFile, true
	default:
		return bridge.StatusSuccess, false
	}
}

func (s *Spool) CreateFile(p string, access uint32, mode bridge.FileMode, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	switch {
	case t.isRoot():
		if mode != bridge.ModeOpen {
			return bridge.StatusAccessDenied
		}
		fc.IsDirectory = true
		return bridge.StatusSuccess
	case !t.found():
		if fc.IsDirectory {
			return bridge.StatusObjectNameNotFound
		}
		return bridge.StatusNoSuchFile
	case t.isSubRoot() && mode != bridge.ModeOpen:
		return bridge.StatusAccessDenied
	}
	return t.fs.CreateFile(t.rest, access, mode, fc)
}

func (s *Spool) Cleanup(p string, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if t.isRoot() || !t.found() {
		return bridge.StatusSuccess
	}
	if t.isSubRoot() && fc != nil {
		fc.DeleteOnClose = false
	}
	return t.fs.Cleanup(t.rest, fc)
}

func (s *Spool) CloseFile(p string, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if t.isRoot() || !t.found() {
		return bridge.StatusSuccess
	}
	return t.fs.CloseFile(t.rest, fc)
}

func (s *Spool) ReadFile(p string, buf []byte, offset int64, fc *bridge.FileContext) (int, bridge.Status) {
	t := s.route(p)
	if !t.found() {
		return 0, bridge.StatusNoSuchFile
	}
	if t.isRoot() {
		return 0, bridge.StatusAccessDenied
	}
	return t.fs.ReadFile(t.rest, buf, offset, fc)
}

func (s *Spool) WriteFile(p string, buf []byte, offset int64, fc *bridge.FileContext) (int, bridge.Status) {
	t := s.route(p)
	if !t.found() {
		return 0, bridge.StatusNoSuchFile
	}
	if t.isRoot() {
		return 0, bridge.StatusAccessDenied
	}
	return t.fs.WriteFile(t.rest, buf, offset, fc)
}

func (s *Spool) FlushFileBuffers(p string, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if t.isRoot() || !t.found() {
		return bridge.StatusSuccess
	}
	return t.fs.FlushFileBuffers(t.rest, fc)
}

func (s *Spool) GetFileInformation(p string, fc *bridge.FileContext) (bridge.FileInformation, bridge.Status) {
	t := s.route(p)
	switch {
	case t.isRoot():
		return s.dirInfo(""), bridge.StatusSuccess
	case !t.found():
		return bridge.FileInformation{}, bridge.StatusNoSuchFile
	}
	info, status := t.fs.GetFileInformation(t.rest, fc)
	if t.isSubRoot() && status == bridge.StatusSuccess {
		info.FileName = t.name
	}
	return info, status
}

func (s *Spool) FindFiles(p string, fc *bridge.FileContext) ([]bridge.FileInformation, bridge.Status) {
	t := s.route(p)
	switch {
	case t.isRoot():
		names := s.Names()
		infos := make([]bridge.FileInformation, 0, len(names))
		for _, name := range names {
			infos = append(infos, s.dirInfo(name))
		}
		return infos, bridge.StatusSuccess
	case !t.found():
		return nil, bridge.StatusNoSuchFile
	}
	return t.fs.FindFiles(t.rest, fc)
}

func (s *Spool) FindFilesWithPattern(p, pattern string, fc *bridge.FileContext) ([]bridge.FileInformation, bridge.Status) {
	return nil, bridge.StatusNotImplemented
}

func (s *Spool) SetFileAttributes(p string, attrs bridge.FileAttributes, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if status, ok := s.fixed(t); ok {
		return status
	}
	return t.fs.SetFileAttributes(t.rest, attrs, fc)
}

func (s *Spool) SetFileTime(p string, created, accessed, written *time.Time, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if status, ok := s.fixed(t); ok {
		return status
	}
	return t.fs.SetFileTime(t.rest, created, accessed, written, fc)
}

func (s *Spool) DeleteFile(p string, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if status, ok := s.fixed(t); ok {
		return status
	}
	return t.fs.DeleteFile(t.rest, fc)
}

func (s *Spool) DeleteDirectory(p string, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if status, ok := s.fixed(t); ok {
		return status
	}
	return t.fs.DeleteDirectory(t.rest, fc)
}

// MoveFile only renames within one volume.
func (s *Spool) MoveFile(oldPath, newPath string, replace bool, fc *bridge.FileContext) bridge.Status {
	from, to := s.route(oldPath), s.route(newPath)
	if status, ok := s.fixed(from); ok {
		return status
	}
	if to.isRoot() || to.isSubRoot() {
		return bridge.StatusAccessDenied
	}
	if from.name != to.name {
		return bridge.StatusNotImplemented
	}
	return from.fs.MoveFile(from.rest, to.rest, replace, fc)
}

func (s *Spool) SetEndOfFile(p string, length int64, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if status, ok := s.fixed(t); ok {
		return status
	}
	return t.fs.SetEndOfFile(t.rest, length, fc)
}

func (s *Spool) SetAllocationSize(p string, length int64, fc *bridge.FileContext) bridge.Status {
	t := s.route(p)
	if status, ok := s.fixed(t); ok {
		return status
	}
	return t.fs.SetAllocationSize(t.rest, length, fc)
}

func (s *Spool) LockFile(p string, offset, length int64, fc *bridge.FileContext) bridge.Status {
	return bridge.StatusSuccess
}

func (s *Spool) UnlockFile(p string, offset, length int64, fc *bridge.FileContext) bridge.Status {
	return bridge.StatusSuccess
}

// GetDiskFreeSpace reports the first volume's capacity.
func (s *Spool) GetDiskFreeSpace(fc *bridge.FileContext) (bridge.DiskSpace, bridge.Status) {
	if fs := s.first(); fs != nil {
		if space, status := fs.GetDiskFreeSpace(fc); status == bridge.StatusSuccess {
			return space, status
		}
	}
	return bridge.DefaultDiskSpace(), bridge.StatusSuccess
}

func (s *Spool) GetVolumeInformation(fc *bridge.FileContext) (bridge.VolumeInfo, bridge.Status) {
	info := bridge.VolumeInfo{
		FileSystemName: bridge.FileSystemName,
		Features: bridge.FeatureCasePreservedNames | bridge.FeatureCaseSensitiveSearch |
			bridge.FeatureSupportsRemoteStorage | bridge.FeatureUnicodeOnDisk,
		MaximumComponentLength: 256,
	}
	if fs := s.first(); fs != nil {
		if sub, status := fs.GetVolumeInformation(fc); status == bridge.StatusSuccess {
			info = sub
		}
	}
	info.Label = s.label
	return info, bridge.StatusSuccess
}

func (s *Spool) GetFileSecurity(p string, fc *bridge.FileContext) (bridge.Security, bridge.Status) {
	t := s.route(p)
	switch {
	case t.isRoot():
		return bridge.Security{
			Principal:   "Everyone",
			Group:       "None",
			IsDirectory: true,
			Allow:       rootRights,
			Deny:        bridge.RightFullControl ^ rootRights,
		}, bridge.StatusSuccess
	case !t.found():
		return bridge.Security{}, bridge.StatusNoSuchFile
	}
	return t.fs.GetFileSecurity(t.rest, fc)
}

func (s *Spool) SetFileSecurity(p string, sec bridge.Security, fc *bridge.FileContext) bridge.Status {
	return bridge.StatusAccessDenied
}

// Mounted forwards the notification to every volume.
func (s *Spool) Mounted(fc *bridge.FileContext) bridge.Status {
	for _, fs := range s.all() {
		fs.Mounted(fc)
	}
	s.logger.Info("spool mounted", zap.String("label", s.label), zap.Strings("volumes", s.Names()))
	return bridge.StatusSuccess
}

// Unmounted forwards the notification to every volume.
func (s *Spool) Unmounted(fc *bridge.FileContext) bridge.Status {
	for _, fs := range s.all() {
		fs.Unmounted(fc)
	}
	s.logger.Info("spool unmounted", zap.String("label", s.label))
	return bridge.StatusSuccess
}

func (s *Spool) FindStreams(p string, fc *bridge.FileContext) ([]bridge.FileInformation, bridge.Status) {
	return []bridge.FileInformation{}, bridge.StatusNotImplemented
}
