// Package session holds the request, mode and broker call types shared by the
// allocator, the broker client and the tunnel transports.
package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/go-playground/validator.v9"
)

var requestValidator = validator.New()

// Host is a remote host name or IP literal reachable from the target instance.
type Host struct {
	name string
	ip   net.IP
}

// ParseHost accepts a DNS name, an IPv4 literal or an IPv6 literal (with or
// without brackets). Schemes, paths and ports are rejected.
func ParseHost(s string) (Host, error) {
	raw := strings.TrimSpace(s)
	if raw == "" || raw != s {
		return Host{}, fmt.Errorf("%w: %q", ErrInvalidHost, s)
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		ip := net.ParseIP(raw[1 : len(raw)-1])
		if ip == nil || ip.To4() != nil {
			return Host{}, fmt.Errorf("%w: %q", ErrInvalidHost, s)
		}
		return Host{ip: ip}, nil
	}

	if ip := net.ParseIP(raw); ip != nil {
		return Host{ip: ip}, nil
	}

	if strings.ContainsAny(raw, ":/?#@[] \t") || len(raw) > 253 {
		return Host{}, fmt.Errorf("%w: %q", ErrInvalidHost, s)
	}
	for _, label := range strings.Split(strings.TrimSuffix(raw, "."), ".") {
		if !validLabel(label) {
			return Host{}, fmt.Errorf("%w: %q", ErrInvalidHost, s)
		}
	}
	return Host{name: strings.ToLower(raw)}, nil
}

func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// String renders the host the way the broker expects it. IPv6 literals are
// rendered without brackets.
func (h Host) String() string {
	if h.ip != nil {
		return h.ip.String()
	}
	return h.name
}

// Request is the caller's description of a session. LocalPort is rewritten
// once by the allocator before the broker call; nothing else mutates it.
type Request struct {
	Region     string  `validate:"required"`
	TargetID   string  `validate:"required"`
	LocalPort  *uint16
	RemotePort *uint16
	RemoteHost *Host
}

// Validate checks the required fields. The port/host combination is checked
// separately by Resolve.
func (r *Request) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Clone returns a deep copy so a retried lifecycle starts from the caller's
// values.
func (r *Request) Clone() *Request {
	c := &Request{Region: r.Region, TargetID: r.TargetID}
	if r.LocalPort != nil {
		c.LocalPort = Port(*r.LocalPort)
	}
	if r.RemotePort != nil {
		c.RemotePort = Port(*r.RemotePort)
	}
	if r.RemoteHost != nil {
		h := *r.RemoteHost
		c.RemoteHost = &h
	}
	return c
}

// SetLocalPort records the port actually used for the session.
func (r *Request) SetLocalPort(port uint16) {
	r.LocalPort = Port(port)
}

// Port returns a pointer to p, for filling optional request fields.
func Port(p uint16) *uint16 {
	return &p
}

func formatPort(p *uint16) string {
	return strconv.FormatUint(uint64(*p), 10)
}
