package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCombination is returned when local port, remote port and remote
	// host are populated in a way that matches no session mode.
	ErrInvalidCombination = errors.New("invalid combination of local port, remote port and remote host")

	// ErrInvalidHost is returned when a remote host cannot be parsed.
	ErrInvalidHost = errors.New("invalid remote host")

	// ErrInvalidRequest is returned when a required request field is missing.
	ErrInvalidRequest = errors.New("invalid session request")
)

// ValidationError reports which optional fields were present when the
// combination was rejected.
type ValidationError struct {
	LocalPort  bool
	RemotePort bool
	RemoteHost bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (local port: %s, remote port: %s, remote host: %s)",
		ErrInvalidCombination, presence(e.LocalPort), presence(e.RemotePort), presence(e.RemoteHost))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidCombination
}

func presence(set bool) string {
	if set {
		return "set"
	}
	return "unset"
}
