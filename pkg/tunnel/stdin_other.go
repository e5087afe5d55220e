//go:build !unix

package tunnel

import (
	"errors"
	"os"
)

func reopenTerminal(*os.File) (*os.File, error) {
	return nil, errors.New("terminal reopen is not supported on this platform")
}
