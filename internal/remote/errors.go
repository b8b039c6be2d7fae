package remote

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/pkg/sftp"
)

var (
	ErrNotFound     = errors.New("remote: no such file")
	ErrPermission   = errors.New("remote: permission denied")
	ErrNotSupported = errors.New("remote: operation not supported")
	ErrFailure      = errors.New("remote: failure")
)

// classify maps an error from pkg/sftp or the os package onto a sentinel.
func classify(err error) error {
	var status *sftp.StatusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPermission),
		errors.Is(err, ErrNotSupported), errors.Is(err, ErrFailure):
		return sentinelOf(err)
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermission
	case errors.Is(err, sftp.ErrSSHFxOpUnsupported):
		return ErrNotSupported
	case errors.As(err, &status):
		switch status.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return ErrNotFound
		case sftp.ErrSSHFxPermissionDenied:
			return ErrPermission
		case sftp.ErrSSHFxOpUnsupported:
			return ErrNotSupported
		}
	}
	return ErrFailure
}

// wrap annotates err with op and path and attaches its sentinel.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	kind := classify(err)
	if errors.Is(err, kind) {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, path, kind, err)
}

func sentinelOf(err error) error {
	for _, s := range []error{ErrNotFound, ErrPermission, ErrNotSupported, ErrFailure} {
		if errors.Is(err, s) {
			return s
		}
	}
	return ErrFailure
}
