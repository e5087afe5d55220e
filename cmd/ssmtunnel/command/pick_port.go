package command

import (
	"fmt"
	"strconv"

	"github.com/alpacax/ssmtunnel/pkg/portalloc"
	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/spf13/cobra"
)

func newPickPortCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pick-port [port]",
		Short: "Print a local port a forwarding session could listen on",
		Long: "Without an argument, prints a free port chosen by the kernel. With a port,\n" +
			"prints it if it is free and fails naming the owning process if not.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var requested uint16
			if len(args) == 1 {
				p, err := strconv.ParseUint(args[0], 10, 16)
				if err != nil {
					return fmt.Errorf("%w: invalid port %q", session.ErrInvalidRequest, args[0])
				}
				requested = uint16(p)
			}

			port, err := portalloc.NewAllocator(opts.settings.ProbeAttempts).Allocate(cmd.Context(), requested)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
}
