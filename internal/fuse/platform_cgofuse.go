//go:build cgofuse
// +build cgofuse

package fuse

import (
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// NewHost returns the host for this build.
func NewHost(logger *zap.Logger) Host {
	return NewCgoFuseHost(logger)
}

// driveExists reports whether a Windows drive letter target ("S:") is
// already visible in the logical drive list.
func driveExists(target string) bool {
	if runtime.GOOS != "windows" || len(target) != 2 || target[1] != ':' {
		return false
	}
	_, err := os.Stat(strings.ToUpper(target) + `\`)
	return err == nil
}
