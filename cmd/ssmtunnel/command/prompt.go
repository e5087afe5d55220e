package command

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alpacax/ssmtunnel/pkg/session"
)

// promptRequest asks for the session details one line at a time. Blank
// answers leave optional fields absent.
func promptRequest(in io.Reader, out io.Writer) (*session.Request, error) {
	scanner := bufio.NewScanner(in)
	ask := func(label string) (string, error) {
		_, _ = fmt.Fprintf(out, "%s: ", label)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("%w: no answer for %s", session.ErrInvalidRequest, strings.ToLower(label))
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	req := &session.Request{}

	targetID, err := ask("Instance ID")
	if err != nil {
		return nil, err
	}
	if targetID == "" {
		return nil, fmt.Errorf("%w: instance id is required", session.ErrInvalidRequest)
	}
	req.TargetID = targetID

	answer, err := ask("Remote port (blank for a shell)")
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return req, nil
	}
	if req.RemotePort, err = parsePort(answer); err != nil {
		return nil, err
	}

	answer, err = ask("Local port (blank for any)")
	if err != nil {
		return nil, err
	}
	if answer == "" {
		answer = "0"
	}
	if req.LocalPort, err = parsePort(answer); err != nil {
		return nil, err
	}

	answer, err = ask("Remote host (blank for the instance itself)")
	if err != nil {
		return nil, err
	}
	if answer != "" {
		host, err := session.ParseHost(answer)
		if err != nil {
			return nil, err
		}
		req.RemoteHost = &host
	}
	return req, nil
}

func parsePort(s string) (*uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port %q", session.ErrInvalidRequest, s)
	}
	return session.Port(uint16(port)), nil
}
