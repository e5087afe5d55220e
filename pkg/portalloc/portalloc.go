// Package portalloc picks the local port a forwarding session listens on.
package portalloc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProbeAttempts = 10
	defaultProbeInterval = 50 * time.Millisecond
)

var (
	// ErrNoFreePort is returned when probing for an arbitrary port gave up.
	ErrNoFreePort = errors.New("no free local port found")

	// ErrPortInUse is returned when a requested port is already bound.
	ErrPortInUse = errors.New("local port is already in use")

	// ErrPortUnavailable is returned when a requested port cannot be bound
	// for another reason, such as missing privileges.
	ErrPortUnavailable = errors.New("local port cannot be bound")
)

// PortInUseError names the busy port and, when it could be determined, the
// process holding it.
type PortInUseError struct {
	Port    uint16
	PID     int32
	Process string
}

func (e *PortInUseError) Error() string {
	if e.PID > 0 {
		if e.Process != "" {
			return fmt.Sprintf("local port %d is already in use by %s (pid %d)", e.Port, e.Process, e.PID)
		}
		return fmt.Sprintf("local port %d is already in use by pid %d", e.Port, e.PID)
	}
	return fmt.Sprintf("local port %d is already in use", e.Port)
}

func (e *PortInUseError) Is(target error) bool {
	return target == ErrPortInUse
}

// OwnerLookup finds the process listening on a TCP port. It returns a zero
// pid when the owner is unknown.
type OwnerLookup func(ctx context.Context, port uint16) (pid int32, name string)

// Allocator checks requested ports and finds free ones.
type Allocator struct {
	probeAttempts int
	probeInterval time.Duration
	lookupOwner   OwnerLookup
	ephemeral     func() (uint16, error)
	bind          func(port uint16) error
}

// NewAllocator returns an allocator that probes at most probeAttempts times
// when asked for an arbitrary port.
func NewAllocator(probeAttempts int) *Allocator {
	if probeAttempts <= 0 {
		probeAttempts = DefaultProbeAttempts
	}
	return &Allocator{
		probeAttempts: probeAttempts,
		probeInterval: defaultProbeInterval,
		lookupOwner:   listeningProcess,
		ephemeral:     ephemeralPort,
		bind:          bindable,
	}
}

// Allocate returns requested if it is free, or any free port when requested
// is 0. The port is released before returning, so a narrow race with other
// processes remains until the tunnel binds it.
func (a *Allocator) Allocate(ctx context.Context, requested uint16) (uint16, error) {
	if requested != 0 {
		return a.checkPort(ctx, requested)
	}
	return a.probe(ctx)
}

func (a *Allocator) checkPort(ctx context.Context, port uint16) (uint16, error) {
	if err := a.bind(port); err != nil {
		log.Debug().Err(err).Msgf("Local port %d is not bindable.", port)
		if !errors.Is(err, syscall.EADDRINUSE) {
			return 0, fmt.Errorf("%w: port %d: %w", ErrPortUnavailable, port, err)
		}
		perr := &PortInUseError{Port: port}
		if a.lookupOwner != nil {
			perr.PID, perr.Process = a.lookupOwner(ctx, port)
		}
		return 0, perr
	}
	return port, nil
}

func (a *Allocator) probe(ctx context.Context) (uint16, error) {
	var port uint16
	attempt := 0

	operation := func() error {
		attempt++
		p, err := a.ephemeral()
		if err != nil {
			log.Debug().Err(err).Msgf("Port probe %d/%d failed.", attempt, a.probeAttempts)
			return err
		}
		if err := a.bind(p); err != nil {
			log.Debug().Err(err).Msgf("Probed port %d was taken before it could be confirmed.", p)
			return err
		}
		port = p
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.probeInterval), uint64(a.probeAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w after %d probes: %v", ErrNoFreePort, attempt, err)
	}

	log.Debug().Msgf("Allocated local port %d after %d probe(s).", port, attempt)
	return port, nil
}

// ephemeralPort asks the kernel for an unused port on all interfaces.
func ephemeralPort() (uint16, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", ln.Addr())
	}
	return uint16(addr.Port), nil
}

// bindable reports whether port can be bound on all interfaces and on the
// loopback address the tunnel endpoint uses.
func bindable(port uint16) error {
	p := strconv.Itoa(int(port))
	for _, addr := range []string{":" + p, net.JoinHostPort("127.0.0.1", p)} {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		_ = ln.Close()
	}
	return nil
}
