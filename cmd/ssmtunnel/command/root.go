package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alpacax/ssmtunnel/pkg/config"
	"github.com/alpacax/ssmtunnel/pkg/logger"
	"github.com/alpacax/ssmtunnel/pkg/runner"
	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/alpacax/ssmtunnel/pkg/version"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const name = "ssmtunnel"

type options struct {
	instanceID  string
	localPort   uint16
	remotePort  uint16
	remoteHost  string
	interactive bool

	region     string
	profile    string
	transport  string
	configFile string
	verbose    bool

	settings  config.Settings
	logRotate *lumberjack.Logger
}

var RootCmd = newRootCmd(&options{})

// Execute runs the root command and returns the process exit status.
func Execute() int {
	logger.InitLogger(config.DefaultSettings(), false)

	err := RootCmd.Execute()
	if err != nil {
		log.Error().Err(err).Msgf("%s failed.", name)
	}
	return runner.ExitCode(err)
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: "Open a shell or forward a local port through AWS Systems Manager",
		Long: "Starts an AWS Systems Manager session with an instance.\n\n" +
			"Without ports an interactive shell is opened. With --local-port and\n" +
			"--remote-port the local port is forwarded to that port on the instance,\n" +
			"or on --remote-host as seen from the instance. Both ports are required\n" +
			"for forwarding; --local-port 0 picks any free local port.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Debug().Msg("Bye.")
			if opts.logRotate != nil {
				_ = opts.logRotate.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.instanceID, "instance-id", "i", "", "target instance id (required unless --interactive)")
	flags.Uint16VarP(&opts.localPort, "local-port", "l", 0, "local port to listen on, required with --remote-port (0 for any free port)")
	flags.Uint16VarP(&opts.remotePort, "remote-port", "p", 0, "port to forward to, required with --local-port")
	flags.StringVarP(&opts.remoteHost, "remote-host", "r", "", "host to forward to, as reachable from the instance")
	flags.BoolVarP(&opts.interactive, "interactive", "I", false, "prompt for the session details")
	for _, other := range []string{"instance-id", "local-port", "remote-port", "remote-host"} {
		cmd.MarkFlagsMutuallyExclusive("interactive", other)
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&opts.region, "region", "", "AWS region (default from AWS_REGION or the config file)")
	persistent.StringVar(&opts.profile, "profile", "", "AWS shared config profile")
	persistent.StringVar(&opts.transport, "transport", "", "session transport: relay or plugin")
	persistent.StringVar(&opts.configFile, "config", "", "config file path")
	persistent.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", session.ErrInvalidRequest, err)
	})

	cmd.AddCommand(newVersionCmd(), newPickPortCmd(opts))
	return cmd
}

// init loads the config file and applies the command line overrides.
func (o *options) init() error {
	settings, err := config.LoadConfig(config.Files(name, o.configFile))
	if err != nil {
		return err
	}
	if o.profile != "" {
		settings.Profile = o.profile
	}
	if o.transport != "" {
		if o.transport != config.TransportRelay && o.transport != config.TransportPlugin {
			return fmt.Errorf("%w: unknown transport %q", session.ErrInvalidRequest, o.transport)
		}
		settings.Transport = o.transport
	}
	o.settings = settings
	o.logRotate = logger.InitLogger(settings, o.verbose)

	log.Debug().Msgf("Starting %s... (version: %s)", name, version.Version)
	return nil
}

// resolveRegion picks the region from the flag, then the environment, then
// the config file.
func (o *options) resolveRegion() string {
	if o.region != "" {
		return o.region
	}
	for _, key := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if region := os.Getenv(key); region != "" {
			return region
		}
	}
	return o.settings.Region
}

// requestFromFlags builds a request from the flags that were given. An
// omitted port flag stays absent, while an explicit 0 asks for any port.
func requestFromFlags(cmd *cobra.Command, opts *options) (*session.Request, error) {
	req := &session.Request{TargetID: opts.instanceID}

	flags := cmd.Flags()
	if flags.Changed("local-port") {
		req.LocalPort = session.Port(opts.localPort)
	}
	if flags.Changed("remote-port") {
		req.RemotePort = session.Port(opts.remotePort)
	}
	if flags.Changed("remote-host") {
		host, err := session.ParseHost(opts.remoteHost)
		if err != nil {
			return nil, err
		}
		req.RemoteHost = &host
	}
	return req, nil
}

func runSession(cmd *cobra.Command, opts *options) error {
	var (
		req *session.Request
		err error
	)
	if opts.interactive {
		req, err = promptRequest(cmd.InOrStdin(), cmd.ErrOrStderr())
	} else {
		req, err = requestFromFlags(cmd, opts)
	}
	if err != nil {
		return err
	}
	req.Region = opts.resolveRegion()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	err = runner.NewSessionRunner(opts.settings).RunWithRetries(ctx, req, opts.settings.MaxAttempts)
	if ctx.Err() != nil && err == nil {
		log.Info().Msg("Session interrupted.")
	}
	return err
}
