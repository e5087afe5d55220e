package command

import (
	"bytes"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alpacax/ssmtunnel/pkg/config"
	"github.com/alpacax/ssmtunnel/pkg/runner"
	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// missingConfig keeps tests independent of config files on the host.
func missingConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return filepath.Join(t.TempDir(), "none.conf")
}

func TestRequestFromFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		localPort  *uint16
		remotePort *uint16
		remoteHost string
		wantMode   session.Mode
	}{
		{
			name:     "shell",
			args:     []string{"-i", "i-1"},
			wantMode: session.ModeDirect,
		},
		{
			name:       "explicit zero local port is present",
			args:       []string{"-i", "i-1", "-l", "0", "-p", "5432"},
			localPort:  session.Port(0),
			remotePort: session.Port(5432),
			wantMode:   session.ModePortForwarding,
		},
		{
			name:       "remote host",
			args:       []string{"--instance-id", "i-1", "--local-port", "15432", "--remote-port", "5432", "--remote-host", "DB.Internal"},
			localPort:  session.Port(15432),
			remotePort: session.Port(5432),
			remoteHost: "db.internal",
			wantMode:   session.ModePortForwardingToRemoteHost,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := &options{}
			cmd := newRootCmd(opts)
			require.NoError(t, cmd.ParseFlags(tc.args))

			req, err := requestFromFlags(cmd, opts)
			require.NoError(t, err)
			assert.Equal(t, "i-1", req.TargetID)
			assert.Equal(t, tc.localPort, req.LocalPort)
			assert.Equal(t, tc.remotePort, req.RemotePort)
			if tc.remoteHost == "" {
				assert.Nil(t, req.RemoteHost)
			} else {
				require.NotNil(t, req.RemoteHost)
				assert.Equal(t, tc.remoteHost, req.RemoteHost.String())
			}

			req.Region = "eu-west-1"
			mode, err := session.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantMode, mode)
		})
	}
}

func TestRequestFromFlagsInvalidHost(t *testing.T) {
	opts := &options{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{"-i", "i-1", "-p", "80", "-r", "http://example.com"}))

	_, err := requestFromFlags(cmd, opts)
	assert.ErrorIs(t, err, session.ErrInvalidHost)
	assert.Equal(t, runner.ExitValidation, runner.ExitCode(err))
}

func TestRemotePortRequiresLocalPort(t *testing.T) {
	opts := &options{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{"-i", "i-1", "-p", "5432"}))

	req, err := requestFromFlags(cmd, opts)
	require.NoError(t, err)
	assert.Nil(t, req.LocalPort)

	req.Region = "eu-west-1"
	_, err = session.Resolve(req)
	assert.ErrorIs(t, err, session.ErrInvalidCombination)
	assert.Equal(t, runner.ExitValidation, runner.ExitCode(err))

	help := cmd.Long + cmd.Flags().Lookup("local-port").Usage
	assert.Contains(t, help, "--local-port 0 picks any free local port")
	assert.Contains(t, help, "required with --remote-port")
}

func TestInteractiveConflictsWithFields(t *testing.T) {
	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{"-I", "-i", "i-1", "--config", missingConfig(t)})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func TestBadFlagIsValidationError(t *testing.T) {
	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{"-p", "70000"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	assert.Equal(t, runner.ExitValidation, runner.ExitCode(err))
}

func TestUnknownTransport(t *testing.T) {
	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{"version", "--transport", "ssh", "--config", missingConfig(t)})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	assert.ErrorIs(t, err, session.ErrInvalidRequest)
}

func TestResolveRegion(t *testing.T) {
	opts := &options{settings: config.Settings{Region: "from-config"}}

	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	assert.Equal(t, "from-config", opts.resolveRegion())

	t.Setenv("AWS_DEFAULT_REGION", "from-default-env")
	assert.Equal(t, "from-default-env", opts.resolveRegion())

	t.Setenv("AWS_REGION", "from-env")
	assert.Equal(t, "from-env", opts.resolveRegion())

	opts.region = "from-flag"
	assert.Equal(t, "from-flag", opts.resolveRegion())
}

func TestOptionsInitOverrides(t *testing.T) {
	opts := &options{configFile: missingConfig(t), profile: "ops", transport: config.TransportPlugin}
	require.NoError(t, opts.init())

	assert.Equal(t, "ops", opts.settings.Profile)
	assert.Equal(t, config.TransportPlugin, opts.settings.Transport)
	assert.Equal(t, config.DefaultMaxAttempts, opts.settings.MaxAttempts)
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd(&options{})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version", "--config", missingConfig(t)})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "ssmtunnel dev\n", out.String())
}

func TestPickPortCmd(t *testing.T) {
	cmd := newRootCmd(&options{})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"pick-port", "--config", missingConfig(t)})

	require.NoError(t, cmd.Execute())
	port, err := strconv.ParseUint(strings.TrimSpace(out.String()), 10, 16)
	require.NoError(t, err)
	assert.NotZero(t, port)
}

func TestPickPortCmdInvalidPort(t *testing.T) {
	cmd := newRootCmd(&options{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"pick-port", "http", "--config", missingConfig(t)})

	err := cmd.Execute()
	assert.Equal(t, runner.ExitValidation, runner.ExitCode(err))
}
