package fuse

import (
	"time"

	"github.com/sshfs/sshfs/internal/bridge"
)

// Host serves a bridge.FileSystem through a platform FUSE driver.
type Host interface {
	// Mount serves fs at target and blocks until the mount is torn down.
	// It returns an error only if the driver could not mount.
	Mount(target string, fs bridge.FileSystem, opts Options) error

	// Unmount asks the driver to remove the mount at target.
	Unmount(target string) error

	// Present reports whether something is currently mounted at target.
	Present(target string) bool
}

// Options contains mount options shared by the hosts.
type Options struct {
	FSName       string        `yaml:"fsname"`
	VolumeName   string        `yaml:"volume_name"`
	Threads      int           `yaml:"threads"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	AllowOther   bool          `yaml:"allow_other"`
	NetworkDrive bool          `yaml:"network_drive"`
	Debug        bool          `yaml:"debug"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		FSName:       bridge.FileSystemName,
		Threads:      32,
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FSName == "" {
		o.FSName = d.FSName
	}
	if o.Threads <= 0 {
		o.Threads = d.Threads
	}
	if o.AttrTimeout <= 0 {
		o.AttrTimeout = d.AttrTimeout
	}
	if o.EntryTimeout <= 0 {
		o.EntryTimeout = d.EntryTimeout
	}
	return o
}
