// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage shadowfs configuration files.

Subcommands:
  init      Create a sample configuration file
  edit      Open configuration in editor
  validate  Validate configuration file
  show      Display current configuration
  schema    Generate JSON schema for IDE/validation`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(editCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}

// configPath returns the --config flag inherited from the root command.
func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}
