/*
Package fuse serves a bridge.FileSystem through a platform FUSE driver.

The callback contract of the bridge is the one a Windows file system driver
expects: CreateFile with an access mask and a creation disposition, a
Cleanup/CloseFile pair per handle, delete-on-close and explicit status
codes. Ops translates POSIX style calls into that contract and owns the
table of open handles. Two hosts sit on top of Ops:

	go-fuse (default build)    mounts on a directory, Linux and macOS
	cgofuse (-tags cgofuse)    WinFsp drive letters on Windows, libfuse elsewhere

Build selection:

	go build ./...
	go build -tags cgofuse ./...

Both hosts implement Host. Host.Mount blocks for the lifetime of the mount,
which lets the drive package run it on a single worker goroutine.

# Status mapping

	StatusSuccess                    0
	NoSuchFile, ObjectName/PathNotFound  ENOENT
	ObjectNameCollision              EEXIST
	AccessDenied                     EACCES
	NotADirectory                    ENOTDIR
	DirectoryNotEmpty                ENOTEMPTY
	NotImplemented                   ENOSYS
	Error                            EIO

# Call sequences

unlink and rmdir open the path for delete, ask the bridge whether the delete
may proceed, then set delete-on-close and close the handle. rename opens the
source for delete and calls MoveFile with replace set unless the caller
passed RENAME_NOREPLACE. chmod maps the write bit onto ReadOnly and equal
owner and group bits onto Archive.
*/
package fuse
