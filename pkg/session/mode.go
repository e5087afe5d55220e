package session

import "fmt"

// Mode is the kind of session the broker is asked to start.
type Mode int

const (
	ModeDirect Mode = iota
	ModePortForwarding
	ModePortForwardingToRemoteHost
)

// Document identifiers understood by the broker client.
const (
	DocumentPortForwarding             = "port-forwarding"
	DocumentPortForwardingToRemoteHost = "port-forwarding-to-remote-host"
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModePortForwarding:
		return "port-forwarding"
	case ModePortForwardingToRemoteHost:
		return "port-forwarding-to-remote-host"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Document returns the broker document for the mode, or "" for a direct
// shell session which uses the broker's default document.
func (m Mode) Document() string {
	switch m {
	case ModePortForwarding:
		return DocumentPortForwarding
	case ModePortForwardingToRemoteHost:
		return DocumentPortForwardingToRemoteHost
	default:
		return ""
	}
}

// IsForwarding reports whether the mode needs a local port.
func (m Mode) IsForwarding() bool {
	return m == ModePortForwarding || m == ModePortForwardingToRemoteHost
}

// Resolve classifies the request. Only three combinations are valid:
//
//	local  remote  host
//	  -      -      -    direct
//	  x      x      -    port forwarding
//	  x      x      x    port forwarding to remote host
func Resolve(req *Request) (Mode, error) {
	local := req.LocalPort != nil
	remote := req.RemotePort != nil
	host := req.RemoteHost != nil

	switch {
	case !local && !remote && !host:
		return ModeDirect, nil
	case local && remote && !host:
		return ModePortForwarding, nil
	case local && remote && host:
		return ModePortForwardingToRemoteHost, nil
	}
	return 0, &ValidationError{LocalPort: local, RemotePort: remote, RemoteHost: host}
}
