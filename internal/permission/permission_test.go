package permission

import (
	"os"
	"testing"

	"github.com/sshfs/sshfs/internal/remote"
)

func TestEmulator_Superuser(t *testing.T) {
	t.Parallel()

	none := &remote.Attributes{UID: 1, GID: 1, Mode: 0}
	for _, uid := range []int{-1, 0} {
		e := New(uid, nil)
		if !e.CanRead(none) || !e.CanWrite(none) || !e.CanExecute(none) {
			t.Errorf("uid %d should be granted everything", uid)
		}
	}
}

func TestEmulator_Precedence(t *testing.T) {
	t.Parallel()

	e := New(1000, []int{1000, 50})

	tests := []struct {
		name              string
		attrs             remote.Attributes
		read, write, exec bool
	}{
		{"owner bits", remote.Attributes{UID: 1000, GID: 7, Mode: 0o700}, true, true, true},
		{"owner read only", remote.Attributes{UID: 1000, GID: 7, Mode: 0o400}, true, false, false},
		{"group bits", remote.Attributes{UID: 1, GID: 50, Mode: 0o050}, true, false, true},
		{"foreign group", remote.Attributes{UID: 1, GID: 99, Mode: 0o070}, false, false, false},
		{"other bits", remote.Attributes{UID: 1, GID: 99, Mode: 0o006}, true, true, false},
		{"owner falls through to other", remote.Attributes{UID: 1000, GID: 7, Mode: 0o002}, false, true, false},
		{"nothing", remote.Attributes{UID: 1, GID: 99, Mode: 0o000}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.attrs
			if got := e.CanRead(&a); got != tt.read {
				t.Errorf("CanRead = %v, want %v", got, tt.read)
			}
			if got := e.CanWrite(&a); got != tt.write {
				t.Errorf("CanWrite = %v, want %v", got, tt.write)
			}
			if got := e.CanExecute(&a); got != tt.exec {
				t.Errorf("CanExecute = %v, want %v", got, tt.exec)
			}
		})
	}
}

func TestGroupMirroring(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode       os.FileMode
		same       bool
		owner, oth os.FileMode
	}{
		{0o754, false, 0o774, 0o744},
		{0o770, true, 0o770, 0o700},
		{0o640, false, 0o660, 0o600},
	}

	for _, tt := range tests {
		if got := GroupRightsSameAsOwner(tt.mode); got != tt.same {
			t.Errorf("GroupRightsSameAsOwner(%o) = %v, want %v", tt.mode, got, tt.same)
		}
		if got := MirrorOwner(tt.mode); got != tt.owner {
			t.Errorf("MirrorOwner(%o) = %o, want %o", tt.mode, got, tt.owner)
		}
		if got := MirrorOther(tt.mode); got != tt.oth {
			t.Errorf("MirrorOther(%o) = %o, want %o", tt.mode, got, tt.oth)
		}
	}
}
