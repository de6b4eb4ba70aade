// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/fabric/internal/daemon"
)

// configFile is the global --config flag. Empty means built-in defaults.
var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fabric",
		Short: "fabric - a user-space packet-switching fabric",
		Long: `fabric joins hosts into virtual Ethernet segments over UDP and works
with libpcap capture files.

Commands:
  hub      run a tunnel hub or learning switch
  read     print the packets of a capture file, tcpdump style
  version  print the version`,
		Version:       daemon.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults)")

	root.AddCommand(newHubCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}
