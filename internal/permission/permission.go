// Package permission decides POSIX owner/group/other access for the remote account.
package permission

import (
	"os"

	"github.com/sshfs/sshfs/internal/remote"
)

const (
	ownerShift = 6
	groupShift = 3
	otherShift = 0

	bitRead  = 4
	bitWrite = 2
	bitExec  = 1
)

// Emulator holds the identity resolved at connect time.
type Emulator struct {
	uid    int
	groups map[int]struct{}
}

// New creates an emulator. A uid of -1 (unresolved) or 0 grants everything.
func New(uid int, groups []int) *Emulator {
	set := make(map[int]struct{}, len(groups))
	for _, g := range groups {
		set[g] = struct{}{}
	}
	return &Emulator{uid: uid, groups: set}
}

// UID returns the local user id, -1 when unresolved.
func (e *Emulator) UID() int { return e.uid }

func (e *Emulator) can(a *remote.Attributes, bit os.FileMode) bool {
	if e.uid <= 0 {
		return true
	}
	mode := a.Mode.Perm()
	if a.UID == e.uid && mode&(bit<<ownerShift) != 0 {
		return true
	}
	if _, ok := e.groups[a.GID]; ok && mode&(bit<<groupShift) != 0 {
		return true
	}
	return mode&(bit<<otherShift) != 0
}

func (e *Emulator) CanRead(a *remote.Attributes) bool    { return e.can(a, bitRead) }
func (e *Emulator) CanWrite(a *remote.Attributes) bool   { return e.can(a, bitWrite) }
func (e *Emulator) CanExecute(a *remote.Attributes) bool { return e.can(a, bitExec) }

// GroupRightsSameAsOwner reports whether the group rwx bits equal the owner's.
func GroupRightsSameAsOwner(mode os.FileMode) bool {
	return (mode>>ownerShift)&7 == (mode>>groupShift)&7
}

// MirrorOwner returns mode with the group bits replaced by the owner bits.
func MirrorOwner(mode os.FileMode) os.FileMode {
	return withGroup(mode, (mode>>ownerShift)&7)
}

// MirrorOther returns mode with the group bits replaced by the other bits.
func MirrorOther(mode os.FileMode) os.FileMode {
	return withGroup(mode, (mode>>otherShift)&7)
}

func withGroup(mode, bits os.FileMode) os.FileMode {
	return mode&^(7<<groupShift) | bits<<groupShift
}
