package portalloc

import (
	"context"

	"github.com/rs/zerolog/log"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// listeningProcess looks up the owner of a listening TCP socket. Lookups can
// fail without privileges; the caller only uses the result for messages.
func listeningProcess(ctx context.Context, port uint16) (int32, string) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		log.Debug().Err(err).Msg("Failed to list TCP connections.")
		return 0, ""
	}

	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		proc, err := process.NewProcessWithContext(ctx, c.Pid)
		if err != nil {
			return c.Pid, ""
		}
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			return c.Pid, ""
		}
		return c.Pid, name
	}
	return 0, ""
}
