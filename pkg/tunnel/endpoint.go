package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/alpacax/ssmtunnel/pkg/portalloc"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Endpoint is the local side of a session.
type Endpoint interface {
	// Open returns the byte stream for the session. It may block, e.g. until
	// a local client connects, and returns ctx.Err() when cancelled.
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	// Close releases the endpoint and unblocks pending reads. It is safe to
	// call more than once.
	Close() error
	String() string
}

// StdioEndpoint carries an interactive shell session over the terminal.
// When In is a terminal it is switched to raw mode until Close.
type StdioEndpoint struct {
	In  *os.File
	Out io.Writer

	mu       sync.Mutex
	rawState *term.State
	rwc      *stdio
}

// NewStdioEndpoint returns an endpoint on the process stdin and stdout.
func NewStdioEndpoint() *StdioEndpoint {
	return &StdioEndpoint{In: os.Stdin, Out: os.Stdout}
}

func (e *StdioEndpoint) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fd := int(e.In.Fd())
	terminal := term.IsTerminal(fd)
	if terminal {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("failed to set terminal to raw mode: %w", err)
		}
		e.rawState = state
		log.Debug().Msg("Terminal switched to raw mode.")
	}

	e.rwc = &stdio{in: sessionInput(e.In, terminal), out: e.Out}
	return e.rwc, nil
}

// Close restores the terminal and closes the session input. The process
// stdin itself stays open.
func (e *StdioEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.rwc != nil {
		err = e.rwc.Close()
	}
	if e.rawState != nil {
		if restoreErr := term.Restore(int(e.In.Fd()), e.rawState); restoreErr != nil && err == nil {
			err = restoreErr
		}
		e.rawState = nil
	}
	return err
}

// Raw reports whether the terminal is currently in raw mode.
func (e *StdioEndpoint) Raw() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rawState != nil
}

func (e *StdioEndpoint) String() string {
	return "stdio"
}

type stdio struct {
	in   io.ReadCloser
	out  io.Writer
	once sync.Once
	err  error
}

func (s *stdio) Read(p []byte) (int, error) {
	return s.in.Read(p)
}

func (s *stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *stdio) Close() error {
	s.once.Do(func() {
		s.err = s.in.Close()
	})
	return s.err
}

// TCPEndpoint listens on a loopback port and serves the first client that
// connects. The port is bound lazily by Open.
type TCPEndpoint struct {
	port uint16

	mu     sync.Mutex
	ln     net.Listener
	conn   net.Conn
	closed bool
}

// NewTCPEndpoint returns an endpoint for 127.0.0.1:port.
func NewTCPEndpoint(port uint16) *TCPEndpoint {
	return &TCPEndpoint{port: port}
}

// Port is the local port the endpoint listens on.
func (e *TCPEndpoint) Port() uint16 {
	return e.port
}

func (e *TCPEndpoint) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	ln, err := net.Listen("tcp", e.String())
	if err != nil {
		log.Debug().Err(err).Msgf("Failed to bind %s.", e)
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %w", ErrEndpointBind, &portalloc.PortInUseError{Port: e.port})
		}
		return nil, fmt.Errorf("%w: %w: %w", ErrEndpointBind, portalloc.ErrPortUnavailable, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = ln.Close()
		return nil, net.ErrClosed
	}
	e.ln = ln
	e.mu.Unlock()

	log.Info().Msgf("Waiting for connections on %s.", e)

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	conn, err := ln.Accept()
	stop()

	// One client per session.
	_ = ln.Close()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to accept connection on %s: %w", e, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
	}
	log.Info().Msgf("Connection accepted from %s.", conn.RemoteAddr())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		_ = conn.Close()
		return nil, net.ErrClosed
	}
	e.conn = conn
	return conn, nil
}

func (e *TCPEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.ln != nil {
		_ = e.ln.Close()
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *TCPEndpoint) String() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(int(e.port)))
}
