// Package tunnel moves session bytes between a local endpoint and the remote
// stream until either side ends or the session is cancelled.
package tunnel

import (
	"context"
	"errors"

	"github.com/alpacax/ssmtunnel/pkg/session"
)

var (
	// ErrConnectFailed is returned when the remote stream could not be
	// established.
	ErrConnectFailed = errors.New("failed to connect to session stream")

	// ErrStreamFailure is returned when an established stream broke with a
	// transport error.
	ErrStreamFailure = errors.New("session stream failed")

	// ErrEndpointBind is returned when the local endpoint could not be bound.
	// For forwarding sessions on an arbitrary port this is worth a retry.
	ErrEndpointBind = errors.New("failed to bind local endpoint")
)

// Transport carries one session. Relay blocks until the session ends and
// always closes the endpoint before returning. A session ended by ctx or by
// either side closing cleanly returns nil.
type Transport interface {
	Relay(ctx context.Context, creds *session.Credentials, endpoint Endpoint) error
}
