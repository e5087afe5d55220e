package session

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHost(t *testing.T, s string) *Host {
	t.Helper()
	h, err := ParseHost(s)
	require.NoError(t, err)
	return &h
}

func TestResolve(t *testing.T) {
	host := mustHost(t, "db.internal")

	tests := []struct {
		name       string
		localPort  *uint16
		remotePort *uint16
		remoteHost *Host
		want       Mode
		wantErr    bool
	}{
		{name: "nothing set is direct", want: ModeDirect},
		{name: "ports set is port forwarding", localPort: Port(12345), remotePort: Port(12345), want: ModePortForwarding},
		{name: "all set is remote host forwarding", localPort: Port(12345), remotePort: Port(12345), remoteHost: host, want: ModePortForwardingToRemoteHost},
		{name: "local port only", localPort: Port(12345), wantErr: true},
		{name: "remote port only", remotePort: Port(12345), wantErr: true},
		{name: "remote host only", remoteHost: host, wantErr: true},
		{name: "local port and host", localPort: Port(12345), remoteHost: host, wantErr: true},
		{name: "remote port and host", remotePort: Port(12345), remoteHost: host, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := &Request{
				Region:     "ap-northeast-2",
				TargetID:   "i-abc",
				LocalPort:  tc.localPort,
				RemotePort: tc.remotePort,
				RemoteHost: tc.remoteHost,
			}
			got, err := Resolve(req)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCombination))

				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tc.localPort != nil, verr.LocalPort)
				assert.Equal(t, tc.remotePort != nil, verr.RemotePort)
				assert.Equal(t, tc.remoteHost != nil, verr.RemoteHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveZeroLocalPortIsPresent(t *testing.T) {
	req := &Request{Region: "r", TargetID: "i-abc", LocalPort: Port(0), RemotePort: Port(22)}

	mode, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, ModePortForwarding, mode)
}

func TestModeDocument(t *testing.T) {
	assert.Equal(t, "", ModeDirect.Document())
	assert.Equal(t, "port-forwarding", ModePortForwarding.Document())
	assert.Equal(t, "port-forwarding-to-remote-host", ModePortForwardingToRemoteHost.Document())
	assert.False(t, ModeDirect.IsForwarding())
	assert.True(t, ModePortForwarding.IsForwarding())
	assert.True(t, ModePortForwardingToRemoteHost.IsForwarding())
	assert.Equal(t, "unknown(7)", Mode(7).String())
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		req  *Request
		want BrokerCall
	}{
		{
			name: "direct",
			mode: ModeDirect,
			req:  &Request{Region: "r", TargetID: "i-abc"},
			want: BrokerCall{TargetID: "i-abc", Parameters: map[string][]string{}},
		},
		{
			name: "port forwarding",
			mode: ModePortForwarding,
			req:  &Request{Region: "r", TargetID: "i-abc", LocalPort: Port(1234), RemotePort: Port(5678)},
			want: BrokerCall{
				TargetID: "i-abc",
				Document: "port-forwarding",
				Parameters: map[string][]string{
					"portNumber":      {"5678"},
					"localPortNumber": {"1234"},
				},
			},
		},
		{
			name: "port forwarding to remote host",
			mode: ModePortForwardingToRemoteHost,
			req: &Request{
				Region:     "r",
				TargetID:   "i-abc",
				LocalPort:  Port(15432),
				RemotePort: Port(5432),
				RemoteHost: mustHost(t, "mydb.cluster.local"),
			},
			want: BrokerCall{
				TargetID: "i-abc",
				Document: "port-forwarding-to-remote-host",
				Parameters: map[string][]string{
					"host":            {"mydb.cluster.local"},
					"portNumber":      {"5432"},
					"localPortNumber": {"15432"},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Build(tc.mode, tc.req)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("Build() mismatch (-want +got):\n%s", diff)
			}

			again := Build(tc.mode, tc.req)
			a, err := json.Marshal(got)
			require.NoError(t, err)
			b, err := json.Marshal(again)
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		})
	}
}

func TestBuildDoesNotAliasRequest(t *testing.T) {
	req := &Request{Region: "r", TargetID: "i-abc", LocalPort: Port(1234), RemotePort: Port(22)}
	call := Build(ModePortForwarding, req)

	req.SetLocalPort(4321)
	assert.Equal(t, []string{"1234"}, call.Parameters[ParamLocalPortNumber])
}

func TestDescriptor(t *testing.T) {
	direct := Build(ModeDirect, &Request{Region: "r", TargetID: "i-abc"})
	b, err := json.Marshal(direct.Descriptor(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Target":"i-abc"}`, string(b))

	fwd := Build(ModePortForwarding, &Request{Region: "r", TargetID: "i-abc", LocalPort: Port(8080), RemotePort: Port(80)})
	b, err = json.Marshal(fwd.Descriptor("AWS-StartPortForwardingSession"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Target": "i-abc",
		"DocumentName": "AWS-StartPortForwardingSession",
		"parameters": {"portNumber": ["80"], "localPortNumber": ["8080"]}
	}`, string(b))
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com", want: "example.com"},
		{in: "Example.COM", want: "example.com"},
		{in: "db_primary.internal", want: "db_primary.internal"},
		{in: "10.0.0.12", want: "10.0.0.12"},
		{in: "::1", want: "::1"},
		{in: "[fd00::1]", want: "fd00::1"},
		{in: "", wantErr: true},
		{in: " example.com", wantErr: true},
		{in: "https://example.com", wantErr: true},
		{in: "example.com:5432", wantErr: true},
		{in: "example.com/path", wantErr: true},
		{in: "-bad.example.com", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: "[10.0.0.1]", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			h, err := ParseHost(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidHost))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, h.String())
		})
	}
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, (&Request{Region: "us-east-1", TargetID: "i-abc"}).Validate())
	assert.ErrorIs(t, (&Request{Region: "us-east-1"}).Validate(), ErrInvalidRequest)
	assert.Error(t, (&Request{TargetID: "i-abc"}).Validate())
}

func TestRequestClone(t *testing.T) {
	orig := &Request{
		Region:     "r",
		TargetID:   "i-abc",
		LocalPort:  Port(0),
		RemotePort: Port(22),
		RemoteHost: mustHost(t, "bastion.local"),
	}
	clone := orig.Clone()
	clone.SetLocalPort(40000)

	assert.Equal(t, uint16(0), *orig.LocalPort)
	assert.Equal(t, uint16(40000), *clone.LocalPort)
	assert.Equal(t, "bastion.local", clone.RemoteHost.String())
	assert.NotSame(t, orig.RemotePort, clone.RemotePort)
}

func TestCredentialsNeverRenderToken(t *testing.T) {
	creds := &Credentials{SessionID: "sess-1", Token: "super-secret-token", StreamURL: "wss://stream.example/sess-1"}

	assert.NotContains(t, creds.String(), "super-secret-token")

	var buf strings.Builder
	logger := zerolog.New(&buf)
	logger.Info().Object("credentials", creds).Msg("started")
	assert.NotContains(t, buf.String(), "super-secret-token")
	assert.Contains(t, buf.String(), "sess-1")

	js, err := creds.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"SessionId":"sess-1","TokenValue":"super-secret-token","StreamUrl":"wss://stream.example/sess-1"}`, js)
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, (&Credentials{SessionID: "s", Token: "t", StreamURL: "wss://x"}).Validate())
	assert.Error(t, (&Credentials{Token: "t", StreamURL: "wss://x"}).Validate())
	assert.Error(t, (&Credentials{SessionID: "s", StreamURL: "wss://x"}).Validate())
	assert.Error(t, (&Credentials{SessionID: "s", Token: "t"}).Validate())
}
