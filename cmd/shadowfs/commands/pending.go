package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
)

var pendingLimit int

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect the pending log",
	Long: `Inspect the objects a running server still has to migrate.

Subcommands:
  list  List queued handles and their paths`,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued handles",
	Long: `List the handles in the pending log of a running server, with the local
path each one resolves to. Handles that no longer resolve are shown without
a path; they are dropped the next time the log is processed.

Examples:
  # Show the first 1000 entries
  shadowfs pending list

  # Show only the count
  shadowfs pending list --limit 0 -o json`,
	RunE: runPendingList,
}

func init() {
	pendingListCmd.Flags().IntVar(&pendingLimit, "limit", handlers.DefaultPendingLimit, "Maximum entries to show")
	pendingCmd.AddCommand(pendingListCmd)
}

// PendingList renders a pending response as a table.
type PendingList handlers.PendingResponse

// Headers implements output.TableRenderer.
func (l PendingList) Headers() []string {
	return []string{"HANDLE", "PATH"}
}

// Rows implements output.TableRenderer.
func (l PendingList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		path := e.Path
		if path == "" {
			path = "-"
		}
		rows = append(rows, []string{e.Handle, path})
	}
	return rows
}

func runPendingList(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	resp, err := newClient().Pending(cmd.Context(), pendingLimit)
	if err != nil {
		return err
	}
	if err := printer.Print(PendingList(*resp)); err != nil {
		return err
	}
	if printer.Format() == output.FormatTable && resp.Total > len(resp.Entries) {
		printer.Printf("\n%d of %d entries shown\n", len(resp.Entries), resp.Total)
	}
	return nil
}
