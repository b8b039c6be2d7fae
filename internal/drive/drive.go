// Package drive runs the mount lifecycle of one virtual drive: a spool of
// bridges served by a fuse.Host from a single worker goroutine.
package drive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/internal/fuse"
	"github.com/sshfs/sshfs/internal/spool"
	"github.com/sshfs/sshfs/pkg/errors"
	"github.com/sshfs/sshfs/pkg/types"
)

// Status is the lifecycle state of a drive.
type Status int

const (
	StatusUnmounted Status = iota
	StatusMounting
	StatusMounted
	StatusUnmounting
)

func (s Status) String() string {
	switch s {
	case StatusUnmounted:
		return "unmounted"
	case StatusMounting:
		return "mounting"
	case StatusMounted:
		return "mounted"
	case StatusUnmounting:
		return "unmounting"
	default:
		return "unknown"
	}
}

const defaultPollInterval = 200 * time.Millisecond

// Config describes where and how the drive is mounted. Letter wins over
// MountPoint when both are set.
type Config struct {
	Name         string
	Letter       string
	MountPoint   string
	VolumeName   string
	Threads      int
	NetworkDrive bool
	Debug        bool
	AttrTimeout  time.Duration
	PollInterval time.Duration
}

// StatusHandler observes transitions. It runs on the goroutine that made
// the transition and must not call back into Mount or Unmount.
type StatusHandler func(d *Drive, status Status)

type subFS struct {
	name string
	fs   bridge.FileSystem
}

type startRequest struct {
	fs     bridge.FileSystem
	abort  <-chan struct{}
	result chan error
}

// Drive owns one worker goroutine. The worker takes start requests from
// its inbox and runs the blocking host mount for each of them.
type Drive struct {
	config  Config
	host    fuse.Host
	logger  *zap.Logger
	metrics types.MetricsCollector

	mu       sync.Mutex
	status   Status
	subs     []subFS
	active   *spool.Spool
	abort    chan struct{}
	handlers []StatusHandler

	inbox     chan startRequest
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Drive.
type Option func(*Drive)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Drive) { d.logger = logger }
}

// WithMetrics sets the collector receiving drive status changes.
func WithMetrics(m types.MetricsCollector) Option {
	return func(d *Drive) { d.metrics = m }
}

// New creates a drive and starts its worker.
func New(config Config, host fuse.Host, opts ...Option) *Drive {
	if config.Threads <= 0 {
		config.Threads = 32
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.VolumeName == "" {
		config.VolumeName = spool.DefaultLabel
	}
	config.Letter = strings.TrimSuffix(strings.ToUpper(config.Letter), ":")

	d := &Drive{
		config:  config,
		host:    host,
		logger:  zap.NewNop(),
		metrics: types.NopCollector{},
		inbox:   make(chan startRequest),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("drive", d.String()))

	go d.run()
	return d
}

// String returns "{Name}[{Letter}:]", or the mount point in brackets when
// there is no letter.
func (d *Drive) String() string {
	if d.config.Letter != "" {
		return fmt.Sprintf("%s[%s:]", d.config.Name, d.config.Letter)
	}
	return fmt.Sprintf("%s[%s]", d.config.Name, d.config.MountPoint)
}

// Target is what the host mounts on.
func (d *Drive) Target() string {
	if d.config.Letter != "" {
		return d.config.Letter + ":"
	}
	return d.config.MountPoint
}

// Status returns the current state.
func (d *Drive) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// OnStatusChanged registers fn for every later transition.
func (d *Drive) OnStatusChanged(fn StatusHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// setStatus records s and notifies subscribers unless quiet is set.
func (d *Drive) setStatus(s Status, quiet bool) {
	d.mu.Lock()
	d.status = s
	handlers := append([]StatusHandler(nil), d.handlers...)
	d.mu.Unlock()

	d.metrics.SetDriveStatus(d.String(), int(s))
	d.logger.Info("drive status", zap.Stringer("status", s))
	if quiet {
		return
	}
	for _, fn := range handlers {
		fn(d, s)
	}
}

// AddSubFS registers a volume. A mounted drive picks it up immediately.
func (d *Drive) AddSubFS(name string, fs bridge.FileSystem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if s.name == name {
			return errors.NewError(errors.ErrCodeMountInUse, "volume already registered").
				WithComponent("drive").
				WithContext("name", name)
		}
	}
	if d.active != nil {
		if err := d.active.AddSubFS(name, fs); err != nil {
			return err
		}
	}
	d.subs = append(d.subs, subFS{name: name, fs: fs})
	return nil
}

// RemoveSubFS unregisters a volume and reports whether it was present.
func (d *Drive) RemoveSubFS(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.name == name {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			if d.active != nil {
				d.active.RemoveSubFS(name)
			}
			return true
		}
	}
	return false
}

// Volumes returns the registered volume names in order.
func (d *Drive) Volumes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.subs))
	for _, s := range d.subs {
		names = append(names, s.name)
	}
	return names
}

func (d *Drive) buildSpool() *spool.Spool {
	sp := spool.New(d.config.VolumeName, spool.WithLogger(d.logger))
	for _, s := range d.subs {
		// names were checked on registration
		_ = sp.AddSubFS(s.name, s.fs)
	}
	return sp
}

func (d *Drive) options() fuse.Options {
	return fuse.Options{
		FSName:       bridge.FileSystemName,
		VolumeName:   d.config.VolumeName,
		Threads:      d.config.Threads,
		AttrTimeout:  d.config.AttrTimeout,
		NetworkDrive: d.config.NetworkDrive,
		Debug:        d.config.Debug,
	}
}

// Mount starts the drive and blocks until the target is visible, the
// host fails, Unmount is called or ctx is done.
func (d *Drive) Mount(ctx context.Context) error {
	target := d.Target()
	if target == "" {
		return errors.NewError(errors.ErrCodePathInvalid, "no drive letter or mount point").WithComponent("drive")
	}

	d.mu.Lock()
	if d.status != StatusUnmounted {
		st := d.status
		d.mu.Unlock()
		return errors.NewError(errors.ErrCodeInvalidState, "drive is not unmounted").
			WithComponent("drive").
			WithContext("status", st.String())
	}
	if d.host.Present(target) {
		d.mu.Unlock()
		return errors.NewError(errors.ErrCodeMountInUse, "target is already in use").
			WithComponent("drive").
			WithContext("target", target)
	}
	sp := d.buildSpool()
	d.active = sp
	abort := make(chan struct{})
	d.abort = abort
	d.mu.Unlock()

	d.setStatus(StatusMounting, false)

	req := startRequest{fs: sp, abort: abort, result: make(chan error, 1)}
	select {
	case d.inbox <- req:
	case <-abort:
		d.reset()
		return errors.NewError(errors.ErrCodeOperationCanceled, "mount aborted by unmount").WithComponent("drive")
	case <-d.quit:
		d.reset()
		return errors.NewError(errors.ErrCodeClosed, "drive is closed").WithComponent("drive")
	case <-ctx.Done():
		d.reset()
		return errors.Wrap(errors.ErrCodeOperationCanceled, "mount canceled", ctx.Err()).WithComponent("drive")
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-req.result:
			if err != nil {
				return errors.Wrap(errors.ErrCodeMountFailed, "mount failed", err).
					WithComponent("drive").
					WithContext("target", target)
			}
			return errors.NewError(errors.ErrCodeMountFailed, "host returned before the mount was visible").
				WithComponent("drive").
				WithContext("target", target)
		case <-ticker.C:
			if d.host.Present(target) {
				d.setStatus(StatusMounted, false)
				return nil
			}
		case <-abort:
			return errors.NewError(errors.ErrCodeOperationCanceled, "mount aborted by unmount").WithComponent("drive")
		case <-ctx.Done():
			_ = d.Unmount()
			return errors.Wrap(errors.ErrCodeOperationCanceled, "mount canceled", ctx.Err()).WithComponent("drive")
		}
	}
}

// reset returns a drive whose start request never reached the worker to
// the unmounted state.
func (d *Drive) reset() {
	d.mu.Lock()
	d.active = nil
	d.abort = nil
	d.mu.Unlock()
	d.setStatus(StatusUnmounted, false)
}

// Unmount asks the worker to tear the drive down. The worker reports the
// final Unmounted transition once the host returns.
func (d *Drive) Unmount() error {
	d.mu.Lock()
	if d.status != StatusMounting && d.status != StatusMounted {
		d.mu.Unlock()
		return nil
	}
	abort := d.abort
	d.abort = nil
	d.active = nil
	d.mu.Unlock()

	d.setStatus(StatusUnmounting, false)
	if abort != nil {
		close(abort)
	}
	return nil
}

// Close unmounts, stops the worker and waits for it to exit or ctx to end.
func (d *Drive) Close(ctx context.Context) error {
	_ = d.Unmount()
	d.closeOnce.Do(func() { close(d.quit) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeOperationTimeout, "drive worker did not stop", ctx.Err()).WithComponent("drive")
	}
}

func (d *Drive) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case req := <-d.inbox:
			d.serve(req)
		}
	}
}

func (d *Drive) serve(req startRequest) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("host panicked: %v", r)).WithComponent("drive")
			}
		}()
		returned := make(chan struct{})
		defer close(returned)
		go d.unmountOnAbort(req.abort, returned)
		err = d.host.Mount(d.Target(), req.fs, d.options())
	}()

	d.mu.Lock()
	d.active = nil
	d.abort = nil
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("host mount failed", zap.Error(err))
	}
	// A failed mount reports to the waiting caller instead of subscribers.
	d.setStatus(StatusUnmounted, err != nil)
	req.result <- err
}

// unmountOnAbort tears the host down once abort is closed. The host may
// not have registered the mount yet, so a failed unmount is retried until
// the host returns.
func (d *Drive) unmountOnAbort(abort <-chan struct{}, returned <-chan struct{}) {
	select {
	case <-returned:
		return
	case <-abort:
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		err := d.host.Unmount(d.Target())
		if err == nil {
			return
		}
		d.logger.Debug("host unmount failed, retrying", zap.Error(err))
		select {
		case <-returned:
			return
		case <-ticker.C:
		}
	}
}
