package bridge

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshfs/sshfs/internal/cache"
	"github.com/sshfs/sshfs/internal/remote"
)

func openStream(t *testing.T, b *Bridge, p string, mode FileMode) *FileContext {
	t.Helper()
	fc := &FileContext{}
	require.Equal(t, StatusSuccess, b.CreateFile(p, AccessGenericRead|AccessGenericWrite, mode, fc))
	require.NotNil(t, fc.Handle)
	require.NotNil(t, fc.Handle.Stream)
	return fc
}

func TestReadWrite_WithHandle(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fc := openStream(t, b, "/f.txt", ModeCreate)

	n, st := b.WriteFile("/f.txt", []byte("hello world"), 0, fc)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, 11, n)
	assert.Zero(t, fake.Calls("Flush"), "writes are not synced one by one")

	buf := make([]byte, 5)
	n, st = b.ReadFile("/f.txt", buf, 6, fc)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, "world", string(buf[:n]))

	buf = make([]byte, 64)
	n, st = b.ReadFile("/f.txt", buf, 0, fc)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, "hello world", string(buf[:n]), "short read at EOF is not an error")
}

func TestReadWrite_WithoutHandle(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/f.txt", []byte("abcdef"), 0o644)

	buf := make([]byte, 3)
	n, st := b.ReadFile("/f.txt", buf, 2, nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, "cde", string(buf[:n]))
	assert.Equal(t, 1, fake.Calls("StreamClose"), "short-lived stream is closed")

	n, st = b.WriteFile("/f.txt", []byte("XY"), 1, &FileContext{})
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, 2, n)
	data, _ := fake.Data("/srv/f.txt")
	assert.Equal(t, "aXYdef", string(data), "detached write must not truncate")

	n, st = b.WriteFile("/new.txt", []byte("z"), 0, nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, 1, n)
	assert.True(t, fake.Exists("/srv/new.txt"))
}

func TestReadWrite_TransportFailureReportsError(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fc := openStream(t, b, "/f.txt", ModeCreate)
	fake.Fail("StreamRead", "", fmt.Errorf("read: %w", remote.ErrFailure))
	fake.Fail("StreamWrite", "", fmt.Errorf("write: %w", remote.ErrFailure))

	n, st := b.ReadFile("/f.txt", make([]byte, 4), 0, fc)
	assert.Equal(t, StatusError, st)
	assert.Zero(t, n)

	n, st = b.WriteFile("/f.txt", []byte("data"), 0, fc)
	assert.Equal(t, StatusError, st)
	assert.Zero(t, n)
}

func TestReadFile_CapsBuffer(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/big", make([]byte, maxIOSize+10), 0o644)

	n, st := b.ReadFile("/big", make([]byte, maxIOSize+10), 0, nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, maxIOSize, n)
}

func TestPendingWriteLifecycle(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fc := openStream(t, b, "/f.bin", ModeCreate)

	require.Equal(t, StatusSuccess, b.SetEndOfFile("/f.bin", 10, fc))
	length, ok := b.locks.Pending("/f.bin")
	require.True(t, ok)
	assert.Equal(t, int64(10), length)
	data, _ := fake.Data("/srv/f.bin")
	assert.Len(t, data, 10)

	require.Equal(t, StatusSuccess, b.SetAllocationSize("/f.bin", 20, fc))
	length, _ = b.locks.Pending("/f.bin")
	assert.Equal(t, int64(10), length, "a second resize does not re-register")

	_, st := b.WriteFile("/f.bin", []byte("012345"), 0, fc)
	require.Equal(t, StatusSuccess, st)
	_, ok = b.locks.Pending("/f.bin")
	assert.True(t, ok)

	_, st = b.WriteFile("/f.bin", []byte("6789"), 6, fc)
	require.Equal(t, StatusSuccess, st)
	_, ok = b.locks.Pending("/f.bin")
	assert.False(t, ok, "reaching the declared length completes the write")
}

func TestCloseFile_EndsPendingWriteWithoutHandle(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t)
	b.locks.Begin("/f.bin", 100)

	assert.Equal(t, StatusSuccess, b.CloseFile("/f.bin", &FileContext{}))
	_, ok := b.locks.Pending("/f.bin")
	assert.False(t, ok)
}

func TestSetEndOfFile_RequiresStream(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/f", nil, 0o644)

	assert.Equal(t, StatusError, b.SetEndOfFile("/f", 10, &FileContext{}))
	_, ok := b.locks.Pending("/f")
	assert.False(t, ok)
}

func TestFlushFileBuffers(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fc := openStream(t, b, "/f", ModeCreate)

	for i := 0; i < 3; i++ {
		_, st := b.WriteFile("/f", []byte("abc"), int64(3*i), fc)
		require.Equal(t, StatusSuccess, st)
	}
	assert.Zero(t, fake.Calls("Flush"))

	assert.Equal(t, StatusSuccess, b.FlushFileBuffers("/f", fc))
	assert.Equal(t, 1, fake.Calls("Flush"))
	assert.Equal(t, StatusSuccess, b.FlushFileBuffers("/f", nil))
}

func TestGetFileInformation(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t, asUser())
	fake.AddFile("/srv/.hidden", []byte("abc"), 0o644)
	fake.AddFile("/srv/foreign.txt", []byte("abcd"), 0o644)
	fake.SetAttrs("/srv/foreign.txt", func(a *remote.Attributes) { a.UID, a.GID = 2000, 2000 })
	fake.AddFile("/srv/plain.txt", []byte("x"), 0o644)

	info, st := b.GetFileInformation("/.hidden", nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, ".hidden", info.FileName)
	assert.Equal(t, AttrHidden, info.Attributes)
	assert.Equal(t, int64(3), info.Length)
	assert.Equal(t, info.LastWriteTime, info.CreationTime)

	info, st = b.GetFileInformation("/foreign.txt", nil)
	require.Equal(t, StatusSuccess, st)
	assert.True(t, info.Attributes.Has(AttrReadOnly))

	info, st = b.GetFileInformation("/plain.txt", nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, AttrNormal, info.Attributes)

	info, st = b.GetFileInformation("/", nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, AttrDirectory, info.Attributes)
	assert.Zero(t, info.Length)

	_, st = b.GetFileInformation("/gone", nil)
	assert.Equal(t, StatusNoSuchFile, st)
}

func TestGetFileInformation_Sources(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	b.config.UseOfflineAttribute = true
	fake.AddFile("/srv/f", []byte("abc"), 0o644)

	meta := &FileContext{}
	require.Equal(t, StatusSuccess, b.CreateFile("/f", AccessReadAttributes, ModeOpen, meta))
	fake.SetAttrs("/srv/f", func(a *remote.Attributes) { a.Size = 99 })
	fake.ResetCalls()

	info, st := b.GetFileInformation("/f", meta)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, int64(3), info.Length, "metadata handle reports its snapshot")
	assert.True(t, info.Attributes.Has(AttrOffline))
	assert.Zero(t, fake.Calls("Lstat"))

	live := openStream(t, b, "/f", ModeOpen)
	fake.ResetCalls()
	info, st = b.GetFileInformation("/f", live)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, int64(99), info.Length, "live stream forces a fresh fetch")
	assert.Equal(t, 1, fake.Calls("Lstat"))
}

func TestFindFiles(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t, asUser())
	fake.AddDir("/srv/dir/sub", 0o755)
	fake.AddSymlink("/srv/dir/link", "/srv/dir/sub")
	fake.AddFile("/srv/dir/shared.txt", []byte("12345"), 0o664)
	fake.AddFile("/srv/dir/.profile", []byte("1"), 0o644)
	fake.AddFile("/srv/dir/other", nil, 0o644)
	fake.SetAttrs("/srv/dir/other", func(a *remote.Attributes) { a.UID, a.GID = 2000, 2000 })
	fake.AddFile("/srv/dir/sock", nil, 0o644)
	fake.SetAttrs("/srv/dir/sock", func(a *remote.Attributes) { a.IsSocket = true })

	infos, st := b.FindFiles("/dir", nil)
	require.Equal(t, StatusSuccess, st)
	require.Len(t, infos, 6)

	byName := make(map[string]FileInformation, len(infos))
	for _, info := range infos {
		assert.True(t, info.Attributes.Has(AttrNotContentIndexed), info.FileName)
		byName[info.FileName] = info
	}

	link := byName["link"]
	assert.True(t, link.Attributes.Has(AttrReparsePoint|AttrDirectory))
	assert.Equal(t, int64(len("/srv/dir/sub")), link.Length, "link to a directory keeps its own size")

	sub := byName["sub"]
	assert.True(t, sub.Attributes.Has(AttrDirectory))
	assert.Equal(t, int64(nominalDirSize), sub.Length)

	shared := byName["shared.txt"]
	assert.True(t, shared.Attributes.Has(AttrNormal|AttrArchive))
	assert.Equal(t, int64(5), shared.Length)

	assert.True(t, byName[".profile"].Attributes.Has(AttrHidden))
	assert.False(t, byName[".profile"].Attributes.Has(AttrArchive))
	assert.True(t, byName["other"].Attributes.Has(AttrReadOnly))
	assert.True(t, byName["sock"].Attributes.Has(AttrNoScrubData|AttrSystem|AttrDevice))

	cached, ok := b.cache.GetAttr("/dir/link")
	require.True(t, ok)
	assert.True(t, cached.IsSymlinkToDir)
	assert.Equal(t, "/srv/dir/sub", cached.SymlinkTarget)

	fake.ResetCalls()
	info, st := b.GetFileInformation("/dir/link", nil)
	require.Equal(t, StatusSuccess, st)
	assert.True(t, info.Attributes.Has(AttrDirectory))
	assert.Zero(t, fake.Calls("Lstat"), "child attributes come from the listing")

	listing, ok := b.cache.GetDir("/dir")
	require.True(t, ok)
	assert.Len(t, listing.Entries, 6)
}

func TestFindFiles_Errors(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddDir("/srv/locked", 0o000)
	fake.Fail("ReadDir", "/srv/locked", fmt.Errorf("readdir: %w", remote.ErrPermission))

	_, st := b.FindFiles("/locked", nil)
	assert.Equal(t, StatusAccessDenied, st)

	_, st = b.FindFiles("/missing", nil)
	assert.Equal(t, StatusNoSuchFile, st)

	_, st = b.FindFilesWithPattern("/", "*", nil)
	assert.Equal(t, StatusNotImplemented, st)

	streams, st := b.FindStreams("/", nil)
	assert.Equal(t, StatusNotImplemented, st)
	assert.Empty(t, streams)
}

func TestSetFileAttributes_ArchiveMirrorsGroup(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/f", nil, 0o644)

	fc := &FileContext{}
	require.Equal(t, StatusSuccess, b.CreateFile("/f", AccessReadAttributes, ModeOpen, fc))

	require.Equal(t, StatusSuccess, b.SetFileAttributes("/f", AttrArchive|AttrNormal, fc))
	attrs, err := fake.Lstat("/srv/f")
	require.NoError(t, err)
	assert.Equal(t, 0o664, int(attrs.Mode))
	assert.Equal(t, 0o664, int(fc.Handle.Attrs.Mode), "context snapshot follows")
	_, ok := b.cache.GetAttr("/f")
	assert.False(t, ok)

	require.Equal(t, StatusSuccess, b.SetFileAttributes("/f", AttrNormal, nil))
	attrs, _ = fake.Lstat("/srv/f")
	assert.Equal(t, 0o644, int(attrs.Mode))

	fake.ResetCalls()
	require.Equal(t, StatusSuccess, b.SetFileAttributes("/f", AttrNormal, nil))
	assert.Zero(t, fake.Calls("Chmod"), "unchanged rights are not pushed")

	assert.Equal(t, StatusNoSuchFile, b.SetFileAttributes("/gone", AttrArchive, nil))

	fake.Fail("Chmod", "", fmt.Errorf("chmod: %w", remote.ErrPermission))
	assert.Equal(t, StatusAccessDenied, b.SetFileAttributes("/f", AttrArchive, nil))
}

func TestSetFileTime(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/f", nil, 0o644)
	before, _ := fake.Lstat("/srv/f")

	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, StatusSuccess, b.SetFileTime("/f", &created, nil, nil, nil))
	attrs, _ := fake.Lstat("/srv/f")
	assert.True(t, attrs.ModTime.Equal(created), "write falls back to created")
	assert.True(t, attrs.AccessTime.Equal(before.AccessTime))

	written := created.Add(time.Hour)
	accessed := created.Add(2 * time.Hour)
	require.Equal(t, StatusSuccess, b.SetFileTime("/f", &created, &accessed, &written, nil))
	attrs, _ = fake.Lstat("/srv/f")
	assert.True(t, attrs.ModTime.Equal(written))
	assert.True(t, attrs.AccessTime.Equal(accessed))

	assert.Equal(t, StatusNoSuchFile, b.SetFileTime("/gone", nil, nil, nil, nil))
}

func TestDeleteFile_GatedOnParent(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t, asUser())
	fake.AddFile("/srv/mine/f", nil, 0o644)
	fake.SetAttrs("/srv/mine", func(a *remote.Attributes) { a.UID = testUID })
	fake.AddFile("/srv/theirs/f", nil, 0o644)
	fake.SetAttrs("/srv/theirs", func(a *remote.Attributes) { a.UID, a.GID = 2000, 2000 })

	assert.Equal(t, StatusSuccess, b.DeleteFile("/mine/f", nil))
	assert.True(t, fake.Exists("/srv/mine/f"), "removal is deferred to Cleanup")
	assert.Equal(t, StatusAccessDenied, b.DeleteFile("/theirs/f", nil))
	assert.Equal(t, StatusAccessDenied, b.DeleteFile("/nowhere/f", nil))
}

func TestDeleteDirectory(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddDir("/srv/empty", 0o755)
	fake.AddFile("/srv/full/f", nil, 0o644)
	fake.AddDir("/srv/target/x", 0o755)
	fake.AddSymlink("/srv/link", "/srv/target")

	assert.Equal(t, StatusSuccess, b.DeleteDirectory("/empty", nil))
	assert.Equal(t, StatusDirectoryNotEmpty, b.DeleteDirectory("/full", nil))
	assert.Equal(t, StatusSuccess, b.DeleteDirectory("/link", nil), "links are always deletable")
	assert.Equal(t, StatusNoSuchFile, b.DeleteDirectory("/gone", nil))

	fake.Fail("ReadDir", "/srv/target", fmt.Errorf("readdir: %w", remote.ErrPermission))
	assert.Equal(t, StatusAccessDenied, b.DeleteDirectory("/target", nil))
}

func TestDeleteDirectory_UsesFreshListing(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddDir("/srv/d", 0o755)
	_, st := b.FindFiles("/d", nil)
	require.Equal(t, StatusSuccess, st)

	fake.ResetCalls()
	assert.Equal(t, StatusSuccess, b.DeleteDirectory("/d", nil))
	assert.Zero(t, fake.Calls("ReadDir"), "fresh cached listing is used")

	b.cache.Drop(cache.KindAttr, "/d")
	fake.AddFile("/srv/d/late", nil, 0o644)
	fake.SetAttrs("/srv/d", func(a *remote.Attributes) { a.ModTime = a.ModTime.Add(time.Hour) })
	fake.ResetCalls()
	assert.Equal(t, StatusDirectoryNotEmpty, b.DeleteDirectory("/d", nil))
	assert.Equal(t, 1, fake.Calls("ReadDir"))
}

func listingOf(names ...string) cache.DirListing {
	var listing cache.DirListing
	for _, name := range names {
		listing.Entries = append(listing.Entries, remote.DirEntry{Name: name, Attrs: &remote.Attributes{IsDir: true}})
	}
	return listing
}

func TestDeleteDirectory_DotEntriesCountAsEmpty(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddDir("/srv/d", 0o755)
	attrs, _ := fake.Lstat("/srv/d")

	listing := listingOf(".", "..")
	listing.WriteTime = attrs.ModTime
	b.cache.PutDir("/d", &listing, time.Minute)

	assert.Equal(t, StatusSuccess, b.DeleteDirectory("/d", nil))
	assert.Zero(t, fake.Calls("ReadDir"))
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/a", []byte("A"), 0o644)
	fake.AddFile("/srv/b", []byte("B"), 0o644)
	fake.AddDir("/srv/dir", 0o755)
	_, _ = b.lookup("/a")
	_, _ = b.lookup("/")

	assert.Equal(t, StatusObjectNameCollision, b.MoveFile("/a", "/b", false, nil))
	assert.Equal(t, StatusAccessDenied, b.MoveFile("/a", "/dir", true, nil), "never replace a directory")

	fc := openStream(t, b, "/a", ModeOpen)
	assert.Equal(t, StatusSuccess, b.MoveFile("/a", "/c", false, fc))
	assert.Nil(t, fc.Handle, "handle is released before renaming")
	assert.True(t, fake.Exists("/srv/c"))
	assert.False(t, fake.Exists("/srv/a"))
	_, ok := b.cache.GetAttr("/a")
	assert.False(t, ok)
	_, ok = b.cache.GetAttr("/")
	assert.False(t, ok, "parent is invalidated")

	assert.Equal(t, StatusSuccess, b.MoveFile("/c", "/b", true, nil))
	data, _ := fake.Data("/srv/b")
	assert.Equal(t, "A", string(data))
	assert.Equal(t, 1, fake.Calls("PosixRename"))
}

func TestMoveFile_FallbackWithoutPosixRename(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.PosixRenameUnsupported = true
	fake.AddFile("/srv/a", []byte("A"), 0o644)
	fake.AddFile("/srv/b", []byte("B"), 0o644)

	assert.Equal(t, StatusSuccess, b.MoveFile("/a", "/b", true, nil))
	assert.Equal(t, 1, fake.Calls("Remove"))
	assert.Equal(t, 1, fake.Calls("Rename"))
	data, _ := fake.Data("/srv/b")
	assert.Equal(t, "A", string(data))
}

func TestMoveFile_Denied(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.AddFile("/srv/a", nil, 0o644)
	fake.AddFile("/srv/b", nil, 0o644)
	fake.Fail("Rename", "", fmt.Errorf("rename: %w", remote.ErrPermission))
	fake.Fail("PosixRename", "", fmt.Errorf("rename: %w", remote.ErrNotFound))

	assert.Equal(t, StatusAccessDenied, b.MoveFile("/a", "/c", false, nil))
	assert.Equal(t, StatusAccessDenied, b.MoveFile("/a", "/b", true, nil), "vanished target is reported as denied")
}

func TestLockUnlockAreNoOps(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t)
	assert.Equal(t, StatusSuccess, b.LockFile("/f", 0, 10, nil))
	assert.Equal(t, StatusSuccess, b.UnlockFile("/f", 0, 10, nil))
	assert.Equal(t, StatusAccessDenied, b.SetFileSecurity("/f", Security{}, nil))
}

func TestGetDiskFreeSpace_StatVFS(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	fake.StatVFSResult = &remote.StatVFS{Frsize: 4096, Blocks: 1000, Bfree: 300, Bavail: 250}

	space, st := b.GetDiskFreeSpace(nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, DiskSpace{FreeBytesAvailable: 300 * 4096, TotalBytes: 1000 * 4096, TotalFreeBytes: 250 * 4096}, space)

	_, _ = b.GetDiskFreeSpace(nil)
	assert.Equal(t, 1, fake.Calls("StatVFS"), "cached for subsequent calls")
}

func TestGetDiskFreeSpace_DFFallback(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t)
	var cmds []string
	fake.Commands = func(cmd string) (string, int, error) {
		cmds = append(cmds, cmd)
		return "Filesystem 1024-blocks Used Available Capacity Mounted on\n" +
			"/dev/sda1 1000 400 600 40% /\n", 0, nil
	}

	space, st := b.GetDiskFreeSpace(nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, uint64(1000<<10), space.TotalBytes)
	assert.Equal(t, uint64(600<<10), space.FreeBytesAvailable)
	assert.Equal(t, uint64(400<<10), space.TotalFreeBytes)
	require.Len(t, cmds, 1)
	assert.True(t, strings.HasPrefix(cmds[0], "df -Pk "), cmds[0])
	assert.Contains(t, cmds[0], "/srv")

	_, _ = b.GetDiskFreeSpace(nil)
	assert.Len(t, cmds, 1, "triple is cached")
}

func TestGetDiskFreeSpace_Defaults(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t)
	space, st := b.GetDiskFreeSpace(nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, DefaultDiskSpace(), space)
}

func TestParseDF(t *testing.T) {
	t.Parallel()

	info, ok := parseDF("Filesystem 1024-blocks Used Available Capacity Mounted on\nmy disk 10 4 6 40% /mnt/x\n")
	require.True(t, ok)
	assert.Equal(t, uint64(10<<10), info.Total)
	assert.Equal(t, uint64(4<<10), info.Used)
	assert.Equal(t, uint64(6<<10), info.Free)

	_, ok = parseDF("garbage")
	assert.False(t, ok)
	_, ok = parseDF("a b c d e f")
	assert.False(t, ok)
}

func TestGetVolumeInformation(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t)
	info, st := b.GetVolumeInformation(nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, "test on 'host'", info.Label)
	assert.Equal(t, "SSHFS", info.FileSystemName)
	assert.Equal(t, uint32(256), info.MaximumComponentLength)
	assert.True(t, info.Features&FeatureSequentialWriteOnce != 0)
	assert.Equal(t, StatusSuccess, b.Mounted(nil))
	assert.Equal(t, StatusSuccess, b.Unmounted(nil))
}

func TestGetFileSecurity(t *testing.T) {
	t.Parallel()

	b, fake := newTestBridge(t, asUser())
	fake.AddDir("/srv/home", 0o755)
	fake.SetAttrs("/srv/home", func(a *remote.Attributes) { a.UID = testUID })
	fake.AddFile("/srv/ro.txt", nil, 0o644)
	fake.SetAttrs("/srv/ro.txt", func(a *remote.Attributes) { a.UID, a.GID = 2000, 2000 })

	sec, st := b.GetFileSecurity("/home", nil)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, "Everyone", sec.Principal)
	assert.Equal(t, "None", sec.Group)
	assert.True(t, sec.IsDirectory)
	for _, r := range []Rights{RightReadData, RightWrite, RightTraverse, RightSynchronize} {
		assert.Equal(t, r, sec.Allow&r)
	}
	assert.Equal(t, RightFullControl, sec.Allow|sec.Deny)
	assert.Zero(t, sec.Allow&sec.Deny)

	sec, st = b.GetFileSecurity("/ro.txt", nil)
	require.Equal(t, StatusSuccess, st)
	assert.NotZero(t, sec.Allow&RightReadData)
	assert.Zero(t, sec.Allow&RightWriteData)
	assert.Zero(t, sec.Allow&RightTraverse)
	assert.NotZero(t, sec.Deny&RightWriteData)

	_, st = b.GetFileSecurity("/gone", nil)
	assert.Equal(t, StatusNoSuchFile, st)
}
