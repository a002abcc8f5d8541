package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/prompt"
	"github.com/marmos91/shadowfs/pkg/config"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in $VISUAL or $EDITOR (vi when neither is
set). The file is validated when the editor exits; on a terminal an invalid
file can be reopened straight away.

Examples:
  shadowfs config edit
  shadowfs config edit --config /etc/shadowfs/config.yaml`,
	RunE: runConfigEdit,
}

func editor() string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if e := os.Getenv(env); e != "" {
			return e
		}
	}
	return "vi"
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no configuration at %s (create one with: shadowfs config init --config %s)", path, path)
	}

	for {
		ed := exec.CommandContext(cmd.Context(), editor(), path)
		ed.Stdin, ed.Stdout, ed.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := ed.Run(); err != nil {
			return fmt.Errorf("editor: %w", err)
		}

		_, loadErr := config.Load(path)
		if loadErr == nil {
			return nil
		}
		if !prompt.Interactive() {
			return fmt.Errorf("edited configuration is invalid: %w", loadErr)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Invalid configuration: %v\n", loadErr)
		again, err := prompt.Confirm("Edit again", true)
		if prompt.IsAborted(err) || (err == nil && !again) {
			return fmt.Errorf("edited configuration is invalid: %w", loadErr)
		}
		if err != nil {
			return err
		}
	}
}
