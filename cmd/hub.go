package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/fabric/internal/config"
	"firestige.xyz/fabric/internal/daemon"
)

type hubFlags struct {
	listen       string
	mode         string
	maxEndpoints int
	capture      string
	skipSSH      bool
	pidFile      string
}

func newHubCmd() *cobra.Command {
	var f hubFlags
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run a tunnel hub in foreground",
		Long: `Run a UDP tunnel hub in foreground.

Every endpoint that sends a datagram to the hub joins the virtual LAN. In
hub mode each frame is flooded to all other endpoints; in switch mode the
hub learns which endpoint each MAC address sits behind. When the hub is
full the oldest endpoint is disconnected.

Flags override the config file.

Examples:
  fabric hub                                   # hub on :7002
  fabric hub --mode switch --max-endpoints 64
  fabric hub -c fabric.yml -w hub.pcap --skip-ssh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := daemon.New(configFile, f.pidFile)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, d.Config()); err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}
			if err := d.Run(); err != nil {
				slog.Error("daemon failed", "error", err)
				return err
			}
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (f *hubFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.listen, "listen", "l", ":7002", "UDP address to listen on")
	fs.StringVarP(&f.mode, "mode", "m", config.ModeHub, "hub or switch")
	fs.IntVarP(&f.maxEndpoints, "max-endpoints", "n", 32, "maximum number of endpoints, 0 for unbounded")
	fs.StringVarP(&f.capture, "write", "w", "", "record the frames entering the hub to a pcap file")
	fs.BoolVar(&f.skipSSH, "skip-ssh", false, "do not record ssh traffic")
	fs.StringVarP(&f.pidFile, "pidfile", "p", "", "PID file path")
}

// apply copies the flags set on the command line into cfg.
func (f *hubFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		if cfg.Hub.Name == cfg.Hub.Listen {
			cfg.Hub.Name = ""
		}
		cfg.Hub.Listen = f.listen
	}
	if flags.Changed("mode") {
		cfg.Hub.Mode = f.mode
	}
	if flags.Changed("max-endpoints") {
		cfg.Hub.MaxEndpoints = f.maxEndpoints
	}
	if flags.Changed("write") {
		cfg.Capture.File = f.capture
	}
	if flags.Changed("skip-ssh") {
		cfg.Capture.SkipSSH = f.skipSSH
	}
	return cfg.ValidateAndApplyDefaults()
}
