package bridge

import (
	stderr "errors"
	"strings"

	"github.com/sshfs/sshfs/internal/cache"
	"github.com/sshfs/sshfs/internal/permission"
	"github.com/sshfs/sshfs/internal/remote"
)

// GetFileInformation describes path. A live stream forces a fresh fetch
// since an in-flight write makes cached sizes unreliable.
func (b *Bridge) GetFileInformation(p string, fc *FileContext) (FileInformation, Status) {
	p = normalize(p)
	var info FileInformation
	status := b.guard("GetFileInformation", p, fc, func() (Status, error) {
		var (
			attrs *remote.Attributes
			err   error
		)
		h := fc.handle()
		switch {
		case h.hasStream():
			attrs, err = b.stat(p)
		case h != nil && h.Attrs != nil:
			attrs = h.Attrs
		default:
			attrs, err = b.lookup(p)
		}
		if err != nil {
			return StatusError, err
		}
		if attrs == nil {
			return StatusNoSuchFile, nil
		}
		info = b.describe(p, attrs)
		return StatusSuccess, nil
	})
	return info, status
}

func (b *Bridge) describe(p string, attrs *remote.Attributes) FileInformation {
	name := baseName(p)
	info := FileInformation{
		FileName:       name,
		CreationTime:   attrs.ModTime,
		LastWriteTime:  attrs.ModTime,
		LastAccessTime: attrs.AccessTime,
		Length:         attrs.Size,
	}
	if attrs.IsDirLike() {
		info.Attributes |= AttrDirectory
		info.Length = 0
	}
	if strings.HasPrefix(name, ".") {
		info.Attributes |= AttrHidden
	}
	if b.config.UseOfflineAttribute {
		info.Attributes |= AttrOffline
	}
	if !b.perm.CanWrite(attrs) {
		info.Attributes |= AttrReadOnly
	}
	if info.Attributes == 0 {
		info.Attributes = AttrNormal
	}
	return info
}

// FindFiles lists path live, caching every child and the listing itself.
func (b *Bridge) FindFiles(p string, fc *FileContext) ([]FileInformation, Status) {
	p = normalize(p)
	var infos []FileInformation
	status := b.guard("FindFiles", p, fc, func() (Status, error) {
		entries, err := b.client.ReadDir(b.remotePath(p))
		if err != nil {
			if stderr.Is(err, remote.ErrPermission) {
				return StatusAccessDenied, nil
			}
			return StatusError, err
		}

		childTTL := cache.ChildTTL(b.config.AttrTTL, len(entries))
		resolved := make([]remote.DirEntry, 0, len(entries))
		infos = make([]FileInformation, 0, len(entries))
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." || e.Attrs == nil {
				continue
			}
			child := childPath(p, e.Name)
			attrs := e.Attrs.Clone()
			b.resolveLink(b.remotePath(child), attrs)

			infos = append(infos, b.describeEntry(e.Name, attrs))
			resolved = append(resolved, remote.DirEntry{Name: e.Name, Attrs: attrs})
			b.cache.PutAttr(child, attrs, childTTL)
		}

		listing := &cache.DirListing{Entries: resolved}
		if h := fc.handle(); h != nil && h.Attrs != nil {
			listing.WriteTime = h.Attrs.ModTime
		} else if attrs, _ := b.stat(p); attrs != nil {
			listing.WriteTime = attrs.ModTime
		}
		b.cache.PutDir(p, listing, cache.DirTTL(b.config.AttrTTL, b.config.DirTTL, len(entries)))
		return StatusSuccess, nil
	})
	return infos, status
}

func (b *Bridge) describeEntry(name string, attrs *remote.Attributes) FileInformation {
	info := FileInformation{
		FileName:       name,
		Attributes:     AttrNotContentIndexed,
		CreationTime:   attrs.ModTime,
		LastWriteTime:  attrs.ModTime,
		LastAccessTime: attrs.AccessTime,
		Length:         attrs.Size,
	}
	switch {
	case attrs.IsSymlink:
		info.Attributes |= AttrReparsePoint | AttrDirectory
	case attrs.IsSocket:
		info.Attributes |= AttrNoScrubData | AttrSystem | AttrDevice
	case attrs.IsDirLike():
		info.Attributes |= AttrDirectory
		info.Length = nominalDirSize
	default:
		info.Attributes |= AttrNormal
	}
	if strings.HasPrefix(name, ".") {
		info.Attributes |= AttrHidden
	}
	if permission.GroupRightsSameAsOwner(attrs.Mode) {
		info.Attributes |= AttrArchive
	}
	if !b.perm.CanWrite(attrs) {
		info.Attributes |= AttrReadOnly
	}
	if b.config.UseOfflineAttribute {
		info.Attributes |= AttrOffline
	}
	return info
}

// FindFilesWithPattern is left to the host, which filters FindFiles.
func (b *Bridge) FindFilesWithPattern(p, pattern string, fc *FileContext) ([]FileInformation, Status) {
	return nil, StatusNotImplemented
}

// FindStreams is unsupported; there are no alternate data streams remotely.
func (b *Bridge) FindStreams(p string, fc *FileContext) ([]FileInformation, Status) {
	return []FileInformation{}, StatusNotImplemented
}

// GetFileSecurity synthesizes an allow/deny pair for Everyone from the
// permission emulator.
func (b *Bridge) GetFileSecurity(p string, fc *FileContext) (Security, Status) {
	p = normalize(p)
	var sec Security
	status := b.guard("GetFileSecurity", p, fc, func() (Status, error) {
		var attrs *remote.Attributes
		if h := fc.handle(); h != nil && h.Attrs != nil {
			attrs = h.Attrs
		} else {
			var err error
			if attrs, err = b.lookup(p); err != nil {
				return StatusError, err
			}
		}
		if attrs == nil {
			return StatusNoSuchFile, nil
		}

		allow := RightReadPermissions | RightReadExtendedAttributes | RightReadAttributes | RightSynchronize
		if b.perm.CanRead(attrs) {
			allow |= RightReadData
		}
		if b.perm.CanWrite(attrs) {
			allow |= RightWrite
		}
		if attrs.IsDirLike() && b.perm.CanExecute(attrs) {
			allow |= RightTraverse
		}
		sec = Security{
			Principal:   "Everyone",
			Group:       "None",
			IsDirectory: attrs.IsDirLike(),
			Allow:       allow,
			Deny:        RightFullControl ^ allow,
		}
		return StatusSuccess, nil
	})
	return sec, status
}

// SetFileSecurity is refused; ACLs are not modelled.
func (b *Bridge) SetFileSecurity(p string, sec Security, fc *FileContext) Status {
	return StatusAccessDenied
}
