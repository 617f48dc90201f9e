//go:build !windows

package ports

import (
	"path/filepath"
	"runtime"
)

var defaultPattern = globPattern(runtime.GOOS)

func globPattern(goos string) string {
	if goos == "darwin" {
		return "/dev/tty.*"
	}
	return "/dev/tty[A-Z]*"
}

func (e *Enumerator) list() []string {
	matches, err := filepath.Glob(e.pattern)
	if err != nil {
		e.log.WithField("pattern", e.pattern).WithField("error", err).Error("Invalid serial port pattern.")
		return nil
	}
	return matches
}
