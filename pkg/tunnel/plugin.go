package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/rs/zerolog/log"
)

const pluginInstallURL = "https://docs.aws.amazon.com/systems-manager/latest/userguide/session-manager-working-with-install-plugin.html"

// PluginConfig configures the helper process transport.
type PluginConfig struct {
	Path    string
	Region  string
	Profile string
	// DocumentName is the broker-side name of the call's document.
	DocumentName string
	// Grace is how long the helper may take to exit after an interrupt
	// before it is killed. Zero kills it at once.
	Grace time.Duration

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// PluginTransport hands an accepted session to session-manager-plugin, which
// owns the stream and the local port from then on.
type PluginTransport struct {
	cfg  PluginConfig
	call session.BrokerCall
}

// NewPluginTransport returns a transport that runs the helper for call.
// Unset streams default to the process stdio.
func NewPluginTransport(cfg PluginConfig, call session.BrokerCall) *PluginTransport {
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &PluginTransport{cfg: cfg, call: call}
}

// Args returns the helper arguments in the order it expects them.
func (t *PluginTransport) Args(creds *session.Credentials) ([]string, error) {
	credsJSON, err := creds.JSON()
	if err != nil {
		return nil, err
	}
	descriptor, err := json.Marshal(t.call.Descriptor(t.cfg.DocumentName))
	if err != nil {
		return nil, fmt.Errorf("failed to encode session descriptor: %w", err)
	}
	return []string{
		credsJSON,
		t.cfg.Region,
		"StartSession",
		t.cfg.Profile,
		string(descriptor),
		fmt.Sprintf("https://ssm.%s.amazonaws.com", t.cfg.Region),
	}, nil
}

func (t *PluginTransport) Relay(ctx context.Context, creds *session.Credentials, endpoint Endpoint) error {
	// The helper binds the local port itself.
	defer func() { _ = endpoint.Close() }()

	path, err := exec.LookPath(t.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: %s not found, see %s: %w", ErrConnectFailed, t.cfg.Path, pluginInstallURL, err)
	}

	args, err := t.Args(creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = t.cfg.Stdin
	cmd.Stdout = t.cfg.Stdout
	cmd.Stderr = t.cfg.Stderr
	if t.cfg.Grace > 0 {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
		cmd.WaitDelay = t.cfg.Grace
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: failed to start %s: %w", ErrConnectFailed, path, err)
	}
	log.Info().Msgf("Session %s handed to %s (pid %d).", creds.SessionID, t.cfg.Path, cmd.Process.Pid)

	err = cmd.Wait()
	if ctx.Err() != nil {
		log.Debug().Err(err).Msgf("%s exited after interrupt.", t.cfg.Path)
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with status %d", ErrStreamFailure, t.cfg.Path, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %w", ErrStreamFailure, err)
	}
	return nil
}
