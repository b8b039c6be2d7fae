//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/pkg/errors"
)

const mountTable = "/proc/mounts"

// goFuseHost mounts on a directory through the kernel FUSE device.
type goFuseHost struct {
	logger *zap.Logger

	mu      sync.Mutex
	servers map[string]*fuse.Server
}

// NewHost returns the host for this build.
func NewHost(logger *zap.Logger) Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &goFuseHost{
		logger:  logger.Named("fuse"),
		servers: make(map[string]*fuse.Server),
	}
}

func (h *goFuseHost) Mount(target string, bfs bridge.FileSystem, opts Options) error {
	opts = opts.withDefaults()
	target = filepath.Clean(target)
	if err := validateMountPoint(target); err != nil {
		return err
	}

	ops := NewOps(bfs, h.logger)
	root := &node{t: &tree{
		ops:         ops,
		uid:         uint32(os.Getuid()),
		gid:         uint32(os.Getgid()),
		attrTimeout: opts.AttrTimeout,
	}}

	server, err := fs.Mount(target, root, buildOptions(opts))
	if err != nil {
		return errors.Wrap(errors.ErrCodeMountFailed, "fuse mount failed", err).
			WithComponent("fuse").
			WithContext("target", target)
	}

	h.mu.Lock()
	h.servers[target] = server
	h.mu.Unlock()

	ops.Mounted()
	h.logger.Info("serving", zap.String("target", target), zap.String("fsname", opts.FSName))
	server.Wait()

	h.mu.Lock()
	delete(h.servers, target)
	h.mu.Unlock()
	ops.Unmounted()
	return nil
}

func (h *goFuseHost) Unmount(target string) error {
	target = filepath.Clean(target)
	h.mu.Lock()
	server, ok := h.servers[target]
	h.mu.Unlock()
	if !ok {
		return errors.NewError(errors.ErrCodeUnmountFailed, "nothing mounted by this process").
			WithComponent("fuse").
			WithContext("target", target)
	}
	if err := server.Unmount(); err != nil {
		return errors.Wrap(errors.ErrCodeUnmountFailed, "fuse unmount failed", err).
			WithComponent("fuse").
			WithContext("target", target)
	}
	return nil
}

func (h *goFuseHost) Present(target string) bool {
	target = filepath.Clean(target)
	h.mu.Lock()
	_, ok := h.servers[target]
	h.mu.Unlock()
	return ok || mounted(mountTable, target)
}

func buildOptions(opts Options) *fs.Options {
	o := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:          "sshfs",
			FsName:        opts.FSName,
			AllowOther:    opts.AllowOther,
			Debug:         opts.Debug,
			MaxWrite:      128 * 1024,
			MaxBackground: opts.Threads,
		},
		AttrTimeout:  &opts.AttrTimeout,
		EntryTimeout: &opts.EntryTimeout,
	}
	if runtime.GOOS == "darwin" && opts.VolumeName != "" {
		o.MountOptions.Options = append(o.MountOptions.Options, "volname="+opts.VolumeName)
	}
	return o
}

func validateMountPoint(target string) error {
	if target == "" || target == "." {
		return errors.NewError(errors.ErrCodePathInvalid, "mount point cannot be empty").WithComponent("fuse")
	}
	info, err := os.Stat(target)
	if err != nil {
		return errors.Wrap(errors.ErrCodePathInvalid, "cannot access mount point", err).
			WithComponent("fuse").
			WithContext("target", target)
	}
	if !info.IsDir() {
		return errors.NewError(errors.ErrCodePathInvalid, "mount point is not a directory").
			WithComponent("fuse").
			WithContext("target", target)
	}
	return nil
}

// mounted scans a mount table in /proc/mounts format for target.
func mounted(table, target string) bool {
	f, err := os.Open(table)
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.ReplaceAll(fields[1], `\040`, " ") == target {
			return true
		}
	}
	return false
}
