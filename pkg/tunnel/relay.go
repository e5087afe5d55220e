package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/alpacax/ssmtunnel/pkg/version"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	messageSchemaVersion    = "1.0"
)

// errSessionEnded stops the other direction when one side ends cleanly.
var errSessionEnded = errors.New("session ended")

// openDataChannel is the first text frame on a new stream. It authenticates
// the connection with the session token.
type openDataChannel struct {
	MessageSchemaVersion string `json:"MessageSchemaVersion"`
	RequestID            string `json:"RequestId"`
	TokenValue           string `json:"TokenValue"`
	ClientID             string `json:"ClientId"`
	ClientVersion        string `json:"ClientVersion"`
}

// RelayConfig configures the direct stream transport.
type RelayConfig struct {
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
}

// RelayTransport connects to the broker's stream URL itself and relays bytes
// between the stream and the local endpoint.
type RelayTransport struct {
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	clientID         string
}

// NewRelayTransport returns a transport that dials stream URLs directly.
func NewRelayTransport(cfg RelayConfig) *RelayTransport {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	return &RelayTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			TLSClientConfig:  cfg.TLSConfig,
			ReadBufferSize:   copyBufferSize,
			WriteBufferSize:  copyBufferSize,
		},
		handshakeTimeout: timeout,
		clientID:         uuid.NewString(),
	}
}

func (t *RelayTransport) Relay(ctx context.Context, creds *session.Credentials, endpoint Endpoint) error {
	defer func() { _ = endpoint.Close() }()

	conn, err := t.connect(ctx, creds)
	if err != nil {
		return err
	}
	remote := NewWebSocketConn(conn)
	defer func() { _ = remote.Close() }()

	local, err := endpoint.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Msg("Session cancelled before the local endpoint opened.")
			return nil
		}
		return err
	}

	log.Info().Msgf("Session %s started on %s.", creds.SessionID, endpoint)
	err = t.stream(ctx, remote, local)
	log.Debug().Err(err).Msgf("Session %s finished.", creds.SessionID)
	return err
}

func (t *RelayTransport) connect(ctx context.Context, creds *session.Credentials) (*websocket.Conn, error) {
	log.Debug().Msgf("Connecting to session stream %s.", creds.StreamURL)

	conn, resp, err := t.dialer.DialContext(ctx, creds.StreamURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	msg := openDataChannel{
		MessageSchemaVersion: messageSchemaVersion,
		RequestID:            uuid.NewString(),
		TokenValue:           creds.Token,
		ClientID:             t.clientID,
		ClientVersion:        version.Version,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(t.handshakeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to open data channel: %w", ErrConnectFailed, err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	return conn, nil
}

// stream runs the two copy directions until one ends, then closes both sides
// so the other returns too. Cancelling ctx has the same effect.
func (t *RelayTransport) stream(ctx context.Context, remote, local io.ReadWriteCloser) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pump(gctx, "local to remote", remote, local)
	})
	g.Go(func() error {
		return pump(gctx, "remote to local", local, remote)
	})

	<-gctx.Done()
	if ctx.Err() != nil {
		log.Info().Msg("Session interrupted, closing stream.")
	}
	_ = remote.Close()
	_ = local.Close()

	err := g.Wait()
	if errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

func pump(ctx context.Context, direction string, dst io.Writer, src io.Reader) error {
	n, err := CopyBuffered(dst, src)
	if ctx.Err() != nil {
		// Torn down by the other direction or by cancellation.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStreamFailure, direction, err)
	}
	log.Debug().Msgf("Stream %s ended after %d bytes.", direction, n)
	return errSessionEnded
}
