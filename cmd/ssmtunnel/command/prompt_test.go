package command

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptRequest(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMode session.Mode
		wantErr  error
	}{
		{name: "shell", input: "i-1\n\n", wantMode: session.ModeDirect},
		{name: "forward any port", input: "i-1\n5432\n\n\n", wantMode: session.ModePortForwarding},
		{name: "forward to remote host", input: "i-1\n5432\n15432\ndb.internal\n", wantMode: session.ModePortForwardingToRemoteHost},
		{name: "missing instance", input: "\n", wantErr: session.ErrInvalidRequest},
		{name: "bad port", input: "i-1\nssh\n", wantErr: session.ErrInvalidRequest},
		{name: "bad host", input: "i-1\n5432\n\nhttps://db\n", wantErr: session.ErrInvalidHost},
		{name: "input ends early", input: "i-1\n5432\n", wantErr: session.ErrInvalidRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			req, err := promptRequest(strings.NewReader(tc.input), out)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "i-1", req.TargetID)
			assert.Contains(t, out.String(), "Instance ID: ")

			req.Region = "eu-west-1"
			mode, err := session.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantMode, mode)
		})
	}
}

func TestPromptRequestBlankLocalPortMeansAny(t *testing.T) {
	req, err := promptRequest(strings.NewReader("i-1\n22\n\n\n"), &bytes.Buffer{})
	require.NoError(t, err)
	require.NotNil(t, req.LocalPort)
	assert.Equal(t, uint16(0), *req.LocalPort)
	assert.Equal(t, uint16(22), *req.RemotePort)
}
