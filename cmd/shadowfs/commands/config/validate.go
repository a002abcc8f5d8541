package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the shadowfs configuration file.

Checks for syntax errors, missing required fields and invalid values, then
looks at the configured directories and reports anything that would stop
the server from starting.

Examples:
  shadowfs config validate
  shadowfs config validate --config /etc/shadowfs/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	warnings := Warnings(cfg)

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Local root:   %s\n", cfg.Shadow.LocalRoot)
	_, _ = fmt.Fprintf(out, "  Remote root:  %s\n", cfg.Shadow.RemoteRoot)
	_, _ = fmt.Fprintf(out, "  State dir:    %s\n", cfg.Shadow.StateDir)
	_, _ = fmt.Fprintf(out, "  Chunk size:   %s\n", cfg.Shadow.ChunkSize)
	_, _ = fmt.Fprintf(out, "  API address:  %s\n", cfg.API.Address())
	_, _ = fmt.Fprintf(out, "  Log level:    %s\n", cfg.Logging.Level)
	return nil
}

// Warnings reports problems with the environment that validation of the
// file alone cannot see.
func Warnings(cfg *config.Config) []string {
	var warnings []string
	for _, d := range []struct{ name, path string }{
		{"local_root", cfg.Shadow.LocalRoot},
		{"remote_root", cfg.Shadow.RemoteRoot},
	} {
		fi, err := os.Stat(d.path)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("shadow.%s: %v", d.name, err))
		case !fi.IsDir():
			warnings = append(warnings, fmt.Sprintf("shadow.%s: %s is not a directory", d.name, d.path))
		}
	}
	if !cfg.API.IsEnabled() {
		warnings = append(warnings, "API server disabled - control commands will not reach this server")
	}
	if cfg.Metrics.Enabled && !cfg.API.IsEnabled() {
		warnings = append(warnings, "metrics enabled but /metrics is served by the disabled API server")
	}
	return warnings
}
