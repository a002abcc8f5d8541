// Package commands implements the shadowfs command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/cmd/shadowfs/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	apiURL   string
	outputFl string
	noColor  bool
)

// DefaultAPIURL is where the control commands look for a running server.
const DefaultAPIURL = "http://localhost:7070"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shadowfs",
	Short: "shadowfs - on-demand directory tree migration",
	Long: `shadowfs migrates a directory tree from a remote location into a local
one while the local tree is already in use. Objects are copied on first
access and a background scheduler drains whatever has not been touched.

Server commands (start, migrate) read the configuration file. Control
commands (status, pending, process, standby, control) talk to a running
server over its HTTP API.

Use "shadowfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/shadowfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", DefaultAPIURL, "Control API URL of a running server")
	rootCmd.PersistentFlags().StringVarP(&outputFl, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(standbyCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
