package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacax/ssmtunnel/pkg/broker"
	"github.com/alpacax/ssmtunnel/pkg/config"
	"github.com/alpacax/ssmtunnel/pkg/portalloc"
	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/alpacax/ssmtunnel/pkg/tunnel"
	"github.com/alpacax/ssmtunnel/pkg/utils"
	"github.com/rs/zerolog/log"
)

const terminateTimeout = 10 * time.Second

// Exit codes reported by the command for each error class.
const (
	ExitOK         = 0
	ExitOther      = 1
	ExitValidation = 2
	ExitAllocation = 3
	ExitBroker     = 4
	ExitConnect    = 5
	ExitStream     = 6
)

// ErrLocalPortRace is returned when an arbitrary local port was taken by
// another process between allocation and the endpoint binding it.
var ErrLocalPortRace = errors.New("local port was taken before the session could bind it")

type portAllocator interface {
	Allocate(ctx context.Context, requested uint16) (uint16, error)
}

// BrokerFactory returns a broker client for region.
type BrokerFactory func(ctx context.Context, region string) (broker.Client, error)

// SessionRunner runs one session from request to teardown.
type SessionRunner struct {
	settings     config.Settings
	allocator    portAllocator
	newBroker    BrokerFactory
	newTransport func(call session.BrokerCall, region string) (tunnel.Transport, error)
	newEndpoint  func(mode session.Mode, port uint16) tunnel.Endpoint
}

// NewSessionRunner returns a runner talking to AWS Systems Manager.
func NewSessionRunner(settings config.Settings) *SessionRunner {
	r := &SessionRunner{
		settings:    settings,
		allocator:   portalloc.NewAllocator(settings.ProbeAttempts),
		newEndpoint: endpointFor,
	}
	r.newBroker = r.ssmBroker
	r.newTransport = r.transportFor
	return r
}

// Run validates req, allocates a local port for forwarding sessions, starts
// the session on the broker and relays it until it ends. Validation and
// allocation happen before any network activity. req.LocalPort is updated
// with the allocated port.
func (r *SessionRunner) Run(ctx context.Context, req *session.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	mode, err := session.Resolve(req)
	if err != nil {
		return err
	}
	log.Debug().Msgf("Resolved %s session for %s in %s.", mode, req.TargetID, req.Region)

	var requested, port uint16
	if mode.IsForwarding() {
		if req.LocalPort != nil {
			requested = *req.LocalPort
		}
		port, err = r.allocator.Allocate(ctx, requested)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Interrupted while allocating a local port.")
				return nil
			}
			return err
		}
		req.SetLocalPort(port)
		log.Info().Msgf("Using local port %d.", port)
	}

	call := session.Build(mode, req)

	transport, err := r.newTransport(call, req.Region)
	if err != nil {
		return err
	}
	client, err := r.newBroker(ctx, req.Region)
	if err != nil {
		return err
	}

	creds, err := client.StartSession(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("Interrupted while starting the session.")
			return nil
		}
		return err
	}
	log.Info().Object("session", creds).Msgf("Starting %s session with %s.", mode, req.TargetID)
	defer r.terminate(ctx, client, creds.SessionID)

	endpoint := r.newEndpoint(mode, port)
	err = transport.Relay(ctx, creds, endpoint)
	if err != nil && mode.IsForwarding() && requested == 0 && errors.Is(err, tunnel.ErrEndpointBind) {
		return fmt.Errorf("%w: %w", ErrLocalPortRace, err)
	}
	return err
}

// RunWithRetries runs req up to attempts times. Only local port races are
// retried, each time from a fresh copy of req.
func (r *SessionRunner) RunWithRetries(ctx context.Context, req *session.Request, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.Run(ctx, req.Clone())
		if !Retryable(err) || ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Msgf("Retrying session (%d/%d).", attempt, attempts)
	}
	return err
}

// terminate ends the broker-side session. It runs after an interrupt too,
// so it does not inherit cancellation from ctx.
func (r *SessionRunner) terminate(ctx context.Context, client broker.Client, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()

	if err := client.TerminateSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Msgf("Failed to terminate session %s.", sessionID)
		return
	}
	log.Debug().Msgf("Session %s terminated.", sessionID)
}

func (r *SessionRunner) ssmBroker(ctx context.Context, region string) (broker.Client, error) {
	httpClient, err := utils.NewHTTPClient(r.settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrBroker, err)
	}
	return broker.NewSSMClient(ctx, broker.SSMOptions{
		Region:     region,
		Profile:    r.settings.Profile,
		Documents:  r.settings.Documents,
		HTTPClient: httpClient,
	})
}

func (r *SessionRunner) transportFor(call session.BrokerCall, region string) (tunnel.Transport, error) {
	switch r.settings.Transport {
	case config.TransportPlugin:
		return tunnel.NewPluginTransport(tunnel.PluginConfig{
			Path:         r.settings.PluginPath,
			Region:       region,
			Profile:      r.settings.Profile,
			DocumentName: broker.DocumentName(r.settings.Documents, call.Document),
			Grace:        r.settings.InterruptGrace,
		}, call), nil
	case config.TransportRelay, "":
		tlsConfig, err := utils.NewTLSConfig(r.settings)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", tunnel.ErrConnectFailed, err)
		}
		return tunnel.NewRelayTransport(tunnel.RelayConfig{
			HandshakeTimeout: r.settings.HandshakeTimeout,
			TLSConfig:        tlsConfig,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", r.settings.Transport)
	}
}

func endpointFor(mode session.Mode, port uint16) tunnel.Endpoint {
	if mode.IsForwarding() {
		return tunnel.NewTCPEndpoint(port)
	}
	return tunnel.NewStdioEndpoint()
}

// ExitCode maps an error returned by Run to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, session.ErrInvalidCombination),
		errors.Is(err, session.ErrInvalidHost):
		return ExitValidation
	case errors.Is(err, portalloc.ErrPortInUse),
		errors.Is(err, portalloc.ErrNoFreePort),
		errors.Is(err, portalloc.ErrPortUnavailable):
		return ExitAllocation
	case errors.Is(err, broker.ErrBroker):
		return ExitBroker
	case errors.Is(err, tunnel.ErrConnectFailed):
		return ExitConnect
	case errors.Is(err, tunnel.ErrStreamFailure):
		return ExitStream
	default:
		return ExitOther
	}
}

// Retryable reports whether a new attempt may succeed where err failed.
// Only a local port lost to another process after allocation qualifies.
func Retryable(err error) bool {
	return errors.Is(err, ErrLocalPortRace)
}
