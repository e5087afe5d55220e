package tunnel

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// sessionInput returns a reader over f whose Close unblocks a pending Read
// and leaves f open. A terminal is reopened on its own file description,
// which the runtime poller can interrupt. Any other input is read by a
// goroutine that may outlive Close until f yields more data or EOF.
func sessionInput(f *os.File, terminal bool) io.ReadCloser {
	if terminal {
		tty, err := reopenTerminal(f)
		if err == nil {
			return tty
		}
		log.Debug().Err(err).Msg("Failed to reopen the terminal, reading input in the background.")
	}
	return detachedReader(f)
}

func detachedReader(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := CopyBuffered(pw, r)
		_ = pw.CloseWithError(err)
	}()
	return pr
}
