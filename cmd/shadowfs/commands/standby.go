package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
)

var standbyCmd = &cobra.Command{
	Use:   "standby on|off",
	Short: "Pause or resume migration",
	Long: `Pause or resume all migration on a running server.

While in standby, accesses that need migration wait (or fail with
WouldBlock when non-blocking) and the scheduler skips its cycles.

Examples:
  shadowfs standby on
  shadowfs standby off`,
	ValidArgs: []string{"on", "off"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      runStandby,
}

func runStandby(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	on, err := newClient().SetStandby(cmd.Context(), args[0] == "on")
	if err != nil {
		return err
	}
	if printer.Format() != output.FormatTable {
		return printer.Print(handlers.StandbyRequest{Enabled: on})
	}
	if on {
		printer.Warning("Migration paused")
	} else {
		printer.Success("Migration resumed")
	}
	return nil
}
