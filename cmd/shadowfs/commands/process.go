package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

var (
	processCount    int
	processBlocking bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Migrate entries from the pending log",
	Long: `Ask a running server to take entries from its pending log and migrate
them, one at a time. Stops early when the log is empty.

Without --blocking, an entry whose object is busy fails with WouldBlock
instead of waiting.

Examples:
  # Process one entry
  shadowfs process

  # Process up to 100 entries, waiting on busy objects
  shadowfs process -n 100 --blocking`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().IntVarP(&processCount, "count", "n", 1, "Maximum entries to process")
	processCmd.Flags().BoolVar(&processBlocking, "blocking", false, "Wait for busy objects")
}

// ProcessResult counts the entries a process run handled.
type ProcessResult struct {
	Processed int  `json:"processed" yaml:"processed"`
	Empty     bool `json:"empty" yaml:"empty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	client := newClient()

	var res ProcessResult
	for range processCount {
		out, err := client.Control(cmd.Context(), shadow.OpProcessOnePending, handlers.ControlJSONRequest{Blocking: processBlocking})
		if err != nil {
			return err
		}
		if !out.Processed {
			res.Empty = true
			break
		}
		res.Processed++
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(res)
	}
	if res.Empty {
		printer.Printf("Processed %d entries; pending log is empty\n", res.Processed)
	} else {
		printer.Printf("Processed %d entries\n", res.Processed)
	}
	return nil
}
