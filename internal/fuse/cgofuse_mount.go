//go:build cgofuse
// +build cgofuse

package fuse

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/pkg/errors"
)

type cgoMount struct {
	host *fuse.FileSystemHost
	fs   *CgoFuseFS
}

// CgoFuseHost mounts through cgofuse. On Windows the target is a drive
// letter such as "S:" served by WinFsp.
type CgoFuseHost struct {
	logger *zap.Logger

	mu     sync.Mutex
	mounts map[string]*cgoMount
}

// NewCgoFuseHost creates a cgofuse host.
func NewCgoFuseHost(logger *zap.Logger) *CgoFuseHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CgoFuseHost{
		logger: logger.Named("fuse"),
		mounts: make(map[string]*cgoMount),
	}
}

func (h *CgoFuseHost) Mount(target string, bfs bridge.FileSystem, opts Options) error {
	opts = opts.withDefaults()

	cfs := NewCgoFuseFS(NewOps(bfs, h.logger))
	host := fuse.NewFileSystemHost(cfs)
	host.SetCapReaddirPlus(true)

	h.mu.Lock()
	if _, busy := h.mounts[target]; busy {
		h.mu.Unlock()
		return errors.NewError(errors.ErrCodeMountInUse, "target already served by this process").
			WithComponent("fuse").
			WithContext("target", target)
	}
	h.mounts[target] = &cgoMount{host: host, fs: cfs}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.mounts, target)
		h.mu.Unlock()
	}()

	h.logger.Info("serving", zap.String("target", target), zap.String("fsname", opts.FSName))
	if !host.Mount(target, mountArgs(opts)) {
		return errors.NewError(errors.ErrCodeMountFailed, "cgofuse mount failed").
			WithComponent("fuse").
			WithContext("target", target)
	}
	return nil
}

func (h *CgoFuseHost) Unmount(target string) error {
	h.mu.Lock()
	m, ok := h.mounts[target]
	h.mu.Unlock()
	if !ok || !m.host.Unmount() {
		return errors.NewError(errors.ErrCodeUnmountFailed, "cgofuse unmount failed").
			WithComponent("fuse").
			WithContext("target", target)
	}
	return nil
}

func (h *CgoFuseHost) Present(target string) bool {
	h.mu.Lock()
	m, ok := h.mounts[target]
	h.mu.Unlock()
	if ok && m.fs.mounted.Load() {
		return true
	}
	return driveExists(target)
}

func mountArgs(opts Options) []string {
	args := []string{"-o", "fsname=" + opts.FSName}
	if runtime.GOOS != "windows" {
		if opts.AllowOther {
			args = append(args, "-o", "allow_other")
		}
		if runtime.GOOS == "darwin" && opts.VolumeName != "" {
			args = append(args, "-o", "volname="+opts.VolumeName)
		}
		return args
	}

	args = append(args,
		"-o", "uid=-1",
		"-o", "gid=-1",
		"-o", "FileSystemName="+opts.FSName,
		"-o", fmt.Sprintf("ThreadCount=%d", opts.Threads),
	)
	if opts.VolumeName != "" {
		args = append(args, "-o", "volname="+opts.VolumeName)
	}
	if opts.NetworkDrive {
		args = append(args, `--VolumePrefix=\sshfs\`+opts.FSName)
	}
	if opts.Debug {
		args = append(args, "-d")
	}
	return args
}
