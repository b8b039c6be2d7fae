package spool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/internal/remote"
	"github.com/sshfs/sshfs/internal/remote/remotetest"
)

func newVolume(t *testing.T, label string) (*bridge.Bridge, *remotetest.Client) {
	t.Helper()
	fake := remotetest.New()
	fake.AddDir("/home/u", 0o755)
	b := bridge.New(fake, bridge.Config{Label: label, Root: "/home/u"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b, fake
}

func newTestSpool(t *testing.T) (*Spool, *remotetest.Client, *remotetest.Client) {
	t.Helper()
	a, fa := newVolume(t, "alpha")
	b, fb := newVolume(t, "beta")
	s := New("")
	require.NoError(t, s.AddSubFS("alpha", a))
	require.NoError(t, s.AddSubFS("beta", b))
	return s, fa, fb
}

func TestSpool_AddRemove(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSpool(t)
	assert.Equal(t, []string{"alpha", "beta"}, s.Names())

	v, _ := newVolume(t, "dup")
	assert.Error(t, s.AddSubFS("alpha", v), "duplicate names are rejected")
	assert.Error(t, s.AddSubFS("a/b", v))
	assert.Error(t, s.AddSubFS("", v))

	assert.True(t, s.RemoveSubFS("alpha"))
	assert.False(t, s.RemoveSubFS("alpha"))
	assert.Equal(t, []string{"beta"}, s.Names())

	_, st := s.GetFileInformation("/alpha", nil)
	assert.Equal(t, bridge.StatusNoSuchFile, st)
}

func TestSpool_Root(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSpool(t)

	info, st := s.GetFileInformation(`\`, nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.True(t, info.Attributes.Has(bridge.AttrDirectory|bridge.AttrReadOnly))

	infos, st := s.FindFiles("/", nil)
	require.Equal(t, bridge.StatusSuccess, st)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].FileName)
	assert.Equal(t, "beta", infos[1].FileName)

	fc := &bridge.FileContext{}
	assert.Equal(t, bridge.StatusSuccess, s.CreateFile("/", bridge.AccessGenericRead, bridge.ModeOpen, fc))
	assert.True(t, fc.IsDirectory)
	assert.Equal(t, bridge.StatusAccessDenied, s.CreateFile("/", bridge.AccessGenericWrite, bridge.ModeCreateNew, &bridge.FileContext{}))

	assert.Equal(t, bridge.StatusAccessDenied, s.DeleteDirectory("/alpha", nil))
	assert.Equal(t, bridge.StatusAccessDenied, s.MoveFile("/alpha", "/gamma", false, nil))
	assert.Equal(t, bridge.StatusAccessDenied, s.SetFileAttributes("/", bridge.AttrArchive, nil))

	sec, st := s.GetFileSecurity("/", nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Zero(t, sec.Allow&bridge.RightWriteData)
}

func TestSpool_UnknownVolume(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSpool(t)

	assert.Equal(t, bridge.StatusObjectNameNotFound, s.CreateFile("/gamma", bridge.AccessGenericRead, bridge.ModeOpen, &bridge.FileContext{IsDirectory: true}))
	assert.Equal(t, bridge.StatusNoSuchFile, s.CreateFile("/gamma/x", bridge.AccessGenericRead, bridge.ModeOpen, &bridge.FileContext{}))
	_, st := s.FindFiles("/gamma", nil)
	assert.Equal(t, bridge.StatusNoSuchFile, st)
	assert.Equal(t, bridge.StatusNoSuchFile, s.DeleteFile("/gamma/x", nil))
}

func TestSpool_RoutesToVolume(t *testing.T) {
	t.Parallel()

	s, fa, fb := newTestSpool(t)
	fa.AddFile("/home/u/notes.txt", []byte("alpha notes"), 0o644)
	fb.AddFile("/home/u/other.txt", []byte("beta"), 0o644)

	info, st := s.GetFileInformation("/alpha/notes.txt", nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Equal(t, int64(len("alpha notes")), info.Length)

	_, st = s.GetFileInformation("/beta/notes.txt", nil)
	assert.Equal(t, bridge.StatusNoSuchFile, st)

	info, st = s.GetFileInformation("/beta", nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Equal(t, "beta", info.FileName)
	assert.True(t, info.Attributes.Has(bridge.AttrDirectory))

	fc := &bridge.FileContext{}
	require.Equal(t, bridge.StatusSuccess, s.CreateFile(`\beta\new.txt`, bridge.AccessGenericWrite, bridge.ModeCreateNew, fc))
	n, st := s.WriteFile(`\beta\new.txt`, []byte("hi"), 0, fc)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Equal(t, 2, n)
	require.Equal(t, bridge.StatusSuccess, s.Cleanup(`\beta\new.txt`, fc))
	require.Equal(t, bridge.StatusSuccess, s.CloseFile(`\beta\new.txt`, fc))

	data, ok := fb.Data("/home/u/new.txt")
	require.True(t, ok)
	assert.Equal(t, "hi", string(data))
	assert.False(t, fa.Exists("/home/u/new.txt"))

	infos, st := s.FindFiles("/beta", nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Len(t, infos, 2)
}

func TestSpool_Move(t *testing.T) {
	t.Parallel()

	s, fa, _ := newTestSpool(t)
	fa.AddFile("/home/u/a", nil, 0o644)

	assert.Equal(t, bridge.StatusNotImplemented, s.MoveFile("/alpha/a", "/beta/a", false, nil), "cross-volume moves are unsupported")
	assert.Equal(t, bridge.StatusSuccess, s.MoveFile("/alpha/a", "/alpha/b", false, nil))
	assert.True(t, fa.Exists("/home/u/b"))
}

func TestSpool_VolumeInformation(t *testing.T) {
	t.Parallel()

	s, fa, _ := newTestSpool(t)
	fa.StatVFSResult = &remote.StatVFS{Frsize: 1024, Blocks: 10, Bfree: 4, Bavail: 3}

	info, st := s.GetVolumeInformation(nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Equal(t, DefaultLabel, info.Label)
	assert.Equal(t, bridge.FileSystemName, info.FileSystemName)

	space, st := s.GetDiskFreeSpace(nil)
	require.Equal(t, bridge.StatusSuccess, st)
	assert.Equal(t, uint64(10*1024), space.TotalBytes)

	empty := New("custom")
	info, _ = empty.GetVolumeInformation(nil)
	assert.Equal(t, "custom", info.Label)
	space, _ = empty.GetDiskFreeSpace(nil)
	assert.Equal(t, bridge.DefaultDiskSpace(), space)

	assert.Equal(t, bridge.StatusSuccess, s.Mounted(nil))
	assert.Equal(t, bridge.StatusSuccess, s.Unmounted(nil))
}
