package bridge

import (
	"errors"
	"time"

	"github.com/sshfs/sshfs/internal/remote"
)

// Status is the reply of every callback operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusNoSuchFile
	StatusObjectNameNotFound
	StatusObjectPathNotFound
	StatusObjectNameCollision
	StatusAccessDenied
	StatusNotADirectory
	StatusDirectoryNotEmpty
	StatusNotImplemented
	StatusError
)

var statusNames = [...]string{
	StatusSuccess:             "Success",
	StatusNoSuchFile:          "NoSuchFile",
	StatusObjectNameNotFound:  "ObjectNameNotFound",
	StatusObjectPathNotFound:  "ObjectPathNotFound",
	StatusObjectNameCollision: "ObjectNameCollision",
	StatusAccessDenied:        "AccessDenied",
	StatusNotADirectory:       "NotADirectory",
	StatusDirectoryNotEmpty:   "DirectoryNotEmpty",
	StatusNotImplemented:      "NotImplemented",
	StatusError:               "Error",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// StatusFromError maps a remote error onto the closest status.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, remote.ErrNotFound):
		return StatusNoSuchFile
	case errors.Is(err, remote.ErrPermission):
		return StatusAccessDenied
	case errors.Is(err, remote.ErrNotSupported):
		return StatusNotImplemented
	default:
		return StatusError
	}
}

// FileAttributes are host-side attribute flags.
type FileAttributes uint32

const (
	AttrReadOnly          FileAttributes = 0x00000001
	AttrHidden            FileAttributes = 0x00000002
	AttrSystem            FileAttributes = 0x00000004
	AttrDirectory         FileAttributes = 0x00000010
	AttrArchive           FileAttributes = 0x00000020
	AttrDevice            FileAttributes = 0x00000040
	AttrNormal            FileAttributes = 0x00000080
	AttrReparsePoint      FileAttributes = 0x00000400
	AttrOffline           FileAttributes = 0x00001000
	AttrNotContentIndexed FileAttributes = 0x00002000
	AttrNoScrubData       FileAttributes = 0x00020000
)

// Has reports whether all bits of flag are set.
func (a FileAttributes) Has(flag FileAttributes) bool { return a&flag == flag }

// FileMode is the host's creation disposition.
type FileMode int

const (
	ModeCreateNew FileMode = iota + 1
	ModeCreate
	ModeOpen
	ModeOpenOrCreate
	ModeTruncate
	ModeAppend
)

func (m FileMode) String() string {
	switch m {
	case ModeCreateNew:
		return "CreateNew"
	case ModeCreate:
		return "Create"
	case ModeOpen:
		return "Open"
	case ModeOpenOrCreate:
		return "OpenOrCreate"
	case ModeTruncate:
		return "Truncate"
	case ModeAppend:
		return "Append"
	default:
		return "Unknown"
	}
}

// Access masks as passed by the host.
const (
	AccessReadData        uint32 = 0x00000001
	AccessWriteData       uint32 = 0x00000002
	AccessAppendData      uint32 = 0x00000004
	AccessExecute         uint32 = 0x00000020
	AccessDelete          uint32 = 0x00010000
	AccessGenericExecute  uint32 = 0x20000000
	AccessGenericWrite    uint32 = 0x40000000
	AccessGenericRead     uint32 = 0x80000000
	AccessReadAttributes  uint32 = 0x00000080
	AccessReadPermissions uint32 = 0x00020000

	// accessNeedsData is any access beyond attribute or security reads.
	accessNeedsData uint32 = 0xE0000027
	// accessWrites is any access that needs a writable stream.
	accessWrites uint32 = 0x40010006
)

// FileInformation is one stat or directory entry returned to the host.
type FileInformation struct {
	FileName       string
	Attributes     FileAttributes
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	Length         int64
}

// Rights are host access rights.
type Rights uint32

const (
	RightReadData               Rights = 0x000001
	RightWriteData              Rights = 0x000002
	RightAppendData             Rights = 0x000004
	RightReadExtendedAttributes Rights = 0x000008
	RightWriteExtendedAttrs     Rights = 0x000010
	RightTraverse               Rights = 0x000020
	RightDeleteSubdirectories   Rights = 0x000040
	RightReadAttributes         Rights = 0x000080
	RightWriteAttributes        Rights = 0x000100
	RightDelete                 Rights = 0x010000
	RightReadPermissions        Rights = 0x020000
	RightChangePermissions      Rights = 0x040000
	RightTakeOwnership          Rights = 0x080000
	RightSynchronize            Rights = 0x100000

	RightWrite       = RightWriteData | RightAppendData | RightWriteExtendedAttrs | RightWriteAttributes
	RightFullControl Rights = 0x1F01FF
)

// Security is the synthesized descriptor for one path.
type Security struct {
	Principal   string
	Group       string
	IsDirectory bool
	Allow       Rights
	Deny        Rights
}

// DiskSpace is the reply of GetDiskFreeSpace.
type DiskSpace struct {
	FreeBytesAvailable uint64
	TotalBytes         uint64
	TotalFreeBytes     uint64
}

// Features are volume capability flags.
type Features uint32

const (
	FeatureCaseSensitiveSearch   Features = 0x00000001
	FeatureCasePreservedNames    Features = 0x00000002
	FeatureUnicodeOnDisk         Features = 0x00000004
	FeatureSupportsRemoteStorage Features = 0x00000100
	FeatureSequentialWriteOnce   Features = 0x00100000
)

// VolumeInfo is the reply of GetVolumeInformation.
type VolumeInfo struct {
	Label                  string
	FileSystemName         string
	Features               Features
	MaximumComponentLength uint32
}
