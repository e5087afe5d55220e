//go:build unix

package tunnel

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// reopenTerminal opens the terminal behind f read-only on a new file
// description. The description shared by stdin, stdout and stderr is left
// in blocking mode.
func reopenTerminal(f *os.File) (*os.File, error) {
	want, err := f.Stat()
	if err != nil {
		return nil, err
	}

	for _, path := range []string{f.Name(), "/dev/tty"} {
		if path != "/dev/tty" && !ownDevicePath(path) {
			continue
		}
		tty, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOCTTY, 0)
		if err != nil {
			continue
		}
		if path == "/dev/tty" {
			return tty, nil
		}
		if got, err := tty.Stat(); err == nil && os.SameFile(want, got) {
			return tty, nil
		}
		_ = tty.Close()
	}
	return nil, fmt.Errorf("no separate device path for %s", f.Name())
}

// ownDevicePath rejects names that resolve to a duplicate of an existing
// descriptor on some systems.
func ownDevicePath(path string) bool {
	if !strings.HasPrefix(path, "/dev/") || path == "/dev/stdin" || path == "/dev/tty" {
		return false
	}
	return !strings.HasPrefix(path, "/dev/fd/")
}
