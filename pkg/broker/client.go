// Package broker asks the session broker to start and end sessions.
package broker

import (
	"context"
	"errors"

	"github.com/alpacax/ssmtunnel/pkg/session"
)

// ErrBroker wraps every failure reported by, or while talking to, the broker.
var ErrBroker = errors.New("session broker request failed")

// Client starts sessions on the broker. Calls are never retried.
type Client interface {
	StartSession(ctx context.Context, call session.BrokerCall) (*session.Credentials, error)
	TerminateSession(ctx context.Context, sessionID string) error
}

// DocumentName returns the broker-side name for document. Unmapped documents
// are passed through, and Direct sessions have none.
func DocumentName(documents map[string]string, document string) string {
	if document == "" {
		return ""
	}
	if name, ok := documents[document]; ok && name != "" {
		return name
	}
	return document
}
