package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/prompt"
	"github.com/marmos91/shadowfs/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Long: `Create a sample shadowfs configuration file.

By default the file is created at $XDG_CONFIG_HOME/shadowfs/config.yaml.
Use --config to choose another path.

Examples:
  # Initialize with default location
  shadowfs config init

  # Initialize with custom path, overwriting an existing file
  shadowfs config init --config /etc/shadowfs/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(path); err == nil && !force {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Overwrite %s", path), false)
		if prompt.IsAborted(err) {
			return nil
		}
		if err != nil {
			return err
		}
		force = ok
	}

	if err := config.InitConfigToPath(path, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set shadow.local_root, shadow.remote_root and shadow.state_dir")
	_, _ = fmt.Fprintf(out, "  2. Check it with: shadowfs config validate --config %s\n", path)
	_, _ = fmt.Fprintf(out, "  3. Start the server with: shadowfs start --config %s\n", path)
	return nil
}
