package session

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Broker parameter names.
const (
	ParamHost            = "host"
	ParamPortNumber      = "portNumber"
	ParamLocalPortNumber = "localPortNumber"
)

// BrokerCall is what the broker client sends to start a session.
type BrokerCall struct {
	TargetID   string
	Document   string
	Parameters map[string][]string
}

// Build turns a resolved mode and its request into a broker call. It does not
// re-check the combination; callers resolve first.
func Build(mode Mode, req *Request) BrokerCall {
	call := BrokerCall{
		TargetID:   req.TargetID,
		Document:   mode.Document(),
		Parameters: map[string][]string{},
	}

	switch mode {
	case ModePortForwarding:
		call.Parameters[ParamPortNumber] = []string{formatPort(req.RemotePort)}
		call.Parameters[ParamLocalPortNumber] = []string{formatPort(req.LocalPort)}
	case ModePortForwardingToRemoteHost:
		call.Parameters[ParamHost] = []string{req.RemoteHost.String()}
		call.Parameters[ParamPortNumber] = []string{formatPort(req.RemotePort)}
		call.Parameters[ParamLocalPortNumber] = []string{formatPort(req.LocalPort)}
	}
	return call
}

// Descriptor is the second announcement handed to the session helper once
// the broker has accepted the call.
type Descriptor struct {
	Target       string              `json:"Target"`
	DocumentName string              `json:"DocumentName,omitempty"`
	Parameters   map[string][]string `json:"parameters,omitempty"`
}

// Descriptor returns the helper announcement for the call. documentName is
// the broker-side name of the document, which may differ from c.Document.
func (c BrokerCall) Descriptor(documentName string) Descriptor {
	d := Descriptor{Target: c.TargetID}
	if c.Document == "" {
		return d
	}
	d.DocumentName = documentName
	if len(c.Parameters) > 0 {
		d.Parameters = c.Parameters
	}
	return d
}

// Credentials are the short-lived stream credentials issued by the broker.
// They belong to one session and must not be reused.
type Credentials struct {
	SessionID string `json:"SessionId"`
	Token     string `json:"TokenValue"`
	StreamURL string `json:"StreamUrl"`
}

// Validate reports missing fields in a broker response.
func (c *Credentials) Validate() error {
	switch {
	case c.SessionID == "":
		return fmt.Errorf("broker response has no session id")
	case c.Token == "":
		return fmt.Errorf("broker response has no token")
	case c.StreamURL == "":
		return fmt.Errorf("broker response has no stream url")
	}
	return nil
}

// String never includes the token.
func (c *Credentials) String() string {
	return fmt.Sprintf("session %s (%s)", c.SessionID, c.StreamURL)
}

// MarshalZerologObject keeps the token out of log output.
func (c *Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("session_id", c.SessionID).Str("stream_url", c.StreamURL).Bool("token", c.Token != "")
}

// JSON renders the credentials in the broker's response shape, token
// included. Only the helper process receives this.
func (c *Credentials) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
