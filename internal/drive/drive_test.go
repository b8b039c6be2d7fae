package drive

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/internal/fuse"
	"github.com/sshfs/sshfs/internal/remote/remotetest"
	"github.com/sshfs/sshfs/internal/spool"
	"github.com/sshfs/sshfs/pkg/errors"
	"github.com/sshfs/sshfs/pkg/types"
)

type fakeHost struct {
	mu           sync.Mutex
	present      map[string]bool
	release      map[string]chan struct{}
	served       bridge.FileSystem
	opts         fuse.Options
	mountErr     error
	neverVisible bool
	unmounts     int
	// gate, when set, holds Mount back before the target is registered.
	gate chan struct{}
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		present: make(map[string]bool),
		release: make(map[string]chan struct{}),
	}
}

func (h *fakeHost) Mount(target string, fs bridge.FileSystem, opts fuse.Options) error {
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	if h.mountErr != nil {
		err := h.mountErr
		h.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	h.release[target] = ch
	h.present[target] = !h.neverVisible
	h.served = fs
	h.opts = opts
	h.mu.Unlock()

	<-ch

	h.mu.Lock()
	h.present[target] = false
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) Unmount(target string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unmounts++
	ch, ok := h.release[target]
	if !ok {
		return stderrors.New("nothing mounted")
	}
	close(ch)
	delete(h.release, target)
	return nil
}

func (h *fakeHost) Present(target string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.present[target]
}

func (h *fakeHost) spool() *spool.Spool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sp, _ := h.served.(*spool.Spool)
	return sp
}

type statusRecorder struct {
	types.NopCollector
	mu   sync.Mutex
	seen []Status
}

func (r *statusRecorder) SetDriveStatus(drive string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, Status(status))
}

type observed struct {
	mu   sync.Mutex
	seen []Status
}

func (o *observed) handler(_ *Drive, s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, s)
}

func (o *observed) list() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.seen...)
}

func newTestDrive(t *testing.T, host *fakeHost, opts ...Option) (*Drive, *observed) {
	t.Helper()
	d := New(Config{Name: "srv", Letter: "s", PollInterval: 5 * time.Millisecond}, host, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	obs := &observed{}
	d.OnStatusChanged(obs.handler)
	return d, obs
}

func newVolume(label string) bridge.FileSystem {
	return bridge.New(remotetest.New(), bridge.Config{Label: label})
}

func codeOf(t *testing.T, err error) errors.ErrorCode {
	t.Helper()
	var se *errors.SSHFSError
	require.True(t, stderrors.As(err, &se), "unexpected error type %T", err)
	return se.Code
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unmounted", StatusUnmounted.String())
	assert.Equal(t, "mounting", StatusMounting.String())
	assert.Equal(t, "mounted", StatusMounted.String())
	assert.Equal(t, "unmounting", StatusUnmounting.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestDrive_String(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	d, _ := newTestDrive(t, host)
	assert.Equal(t, "srv[S:]", d.String())
	assert.Equal(t, "S:", d.Target())

	m := New(Config{Name: "srv", MountPoint: "/mnt/srv"}, host)
	defer m.Close(context.Background())
	assert.Equal(t, "srv[/mnt/srv]", m.String())
	assert.Equal(t, "/mnt/srv", m.Target())
}

func TestDrive_MountUnmount(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &statusRecorder{}
	d, obs := newTestDrive(t, host, WithMetrics(rec))

	require.NoError(t, d.Mount(context.Background()))
	assert.Equal(t, StatusMounted, d.Status())
	assert.Equal(t, 32, host.opts.Threads)
	assert.Equal(t, spool.DefaultLabel, host.opts.VolumeName)

	require.NoError(t, d.Unmount())
	require.Eventually(t, func() bool { return d.Status() == StatusUnmounted }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(obs.list()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusMounting, StatusMounted, StatusUnmounting, StatusUnmounted}, obs.list())

	rec.mu.Lock()
	assert.Equal(t, []Status{StatusMounting, StatusMounted, StatusUnmounting, StatusUnmounted}, rec.seen)
	rec.mu.Unlock()

	// A drive can be mounted again after it returned to Unmounted.
	require.NoError(t, d.Mount(context.Background()))
	assert.Equal(t, StatusMounted, d.Status())
}

func TestDrive_MountRejectsBusyTarget(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.present["S:"] = true
	d, obs := newTestDrive(t, host)

	err := d.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMountInUse, codeOf(t, err))
	assert.Equal(t, StatusUnmounted, d.Status())
	assert.Empty(t, obs.list())
}

func TestDrive_MountFailureGoesToCaller(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	boom := stderrors.New("winfsp not installed")
	host.mountErr = boom
	d, obs := newTestDrive(t, host)

	err := d.Mount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, errors.ErrCodeMountFailed, codeOf(t, err))
	assert.Equal(t, StatusUnmounted, d.Status())
	assert.Equal(t, []Status{StatusMounting}, obs.list(), "the failed run does not notify")
}

func TestDrive_MountCanceled(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.neverVisible = true
	d, _ := newTestDrive(t, host)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := d.Mount(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOperationCanceled, codeOf(t, err))
	require.Eventually(t, func() bool { return d.Status() == StatusUnmounted }, time.Second, 5*time.Millisecond)

	host.mu.Lock()
	assert.Equal(t, 1, host.unmounts)
	host.mu.Unlock()
}

func TestDrive_MountCanceledBeforeHostRegistered(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.gate = make(chan struct{})
	d, _ := newTestDrive(t, host)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Mount(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOperationCanceled, codeOf(t, err))
	assert.Equal(t, StatusUnmounting, d.Status())

	// The host registers only now; the worker must still tear it down.
	close(host.gate)
	require.Eventually(t, func() bool { return d.Status() == StatusUnmounted }, time.Second, 5*time.Millisecond)
	assert.False(t, host.Present("S:"))

	cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
	defer ccancel()
	require.NoError(t, d.Close(cctx))

	host.mu.Lock()
	assert.GreaterOrEqual(t, host.unmounts, 2, "the first attempt found nothing mounted")
	host.mu.Unlock()
}

func TestDrive_MountTwice(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	d, _ := newTestDrive(t, host)
	require.NoError(t, d.Mount(context.Background()))

	err := d.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, codeOf(t, err))
}

func TestDrive_UnmountWhenIdle(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	d, obs := newTestDrive(t, host)
	assert.NoError(t, d.Unmount())
	assert.Empty(t, obs.list())
	assert.Zero(t, host.unmounts)
}

func TestDrive_SubFSForwardedWhileMounted(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	d, _ := newTestDrive(t, host)

	require.NoError(t, d.AddSubFS("alpha", newVolume("alpha")))
	assert.Error(t, d.AddSubFS("alpha", newVolume("again")))
	require.NoError(t, d.Mount(context.Background()))

	sp := host.spool()
	require.NotNil(t, sp)
	assert.Equal(t, []string{"alpha"}, sp.Names())

	require.NoError(t, d.AddSubFS("beta", newVolume("beta")))
	assert.Equal(t, []string{"alpha", "beta"}, sp.Names())

	assert.True(t, d.RemoveSubFS("alpha"))
	assert.False(t, d.RemoveSubFS("alpha"))
	assert.Equal(t, []string{"beta"}, sp.Names())
	assert.Equal(t, []string{"beta"}, d.Volumes())
}

func TestDrive_Close(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	d := New(Config{Name: "srv", Letter: "S", PollInterval: 5 * time.Millisecond}, host)
	require.NoError(t, d.Mount(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, StatusUnmounted, d.Status())
	require.NoError(t, d.Close(ctx), "close is idempotent")

	err := d.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeClosed, codeOf(t, err))
}
