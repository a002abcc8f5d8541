package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective configuration: file values, SHADOWFS_* environment
overrides and defaults merged together.

YAML is printed unless --output json is given.

Examples:
  shadowfs config show
  shadowfs config show -o json
  shadowfs config show --config /etc/shadowfs/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	s, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(s)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
