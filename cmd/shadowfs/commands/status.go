package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mount status",
	Long: `Display the status of a running shadowfs server: whether the mount is
configured or in standby, the pending log, objects by migration status,
scheduler activity and migration counters.

Examples:
  # Check status of the local server
  shadowfs status

  # Check a remote server and print JSON
  shadowfs status --api-url http://host:7070 -o json`,
	RunE: runStatus,
}

// ServerStatus is the combined liveness and mount status.
type ServerStatus struct {
	Server    string                   `json:"server" yaml:"server"`
	Healthy   bool                     `json:"healthy" yaml:"healthy"`
	StartedAt string                   `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string                   `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Mount     *handlers.StatusResponse `json:"mount,omitempty" yaml:"mount,omitempty"`
	Error     string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	client := newClient()
	status := ServerStatus{Server: client.BaseURL()}
	if live, err := client.Liveness(ctx); err != nil {
		status.Error = err.Error()
	} else {
		status.Healthy = true
		status.StartedAt = live.StartedAt
		status.Uptime = live.Uptime
		if st, err := client.Status(ctx); err != nil {
			status.Error = err.Error()
		} else {
			status.Mount = st
		}
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(status)
	}
	printStatusTable(printer, status)
	return nil
}

func printStatusTable(p *output.Printer, status ServerStatus) {
	w := p.Writer()
	p.Println()
	p.Println("shadowfs Server Status")
	p.Println("======================")
	p.Println()

	if !status.Healthy {
		p.Error("  ○ Unreachable: " + status.Server)
		if status.Error != "" {
			p.Printf("\n  %s\n\n", status.Error)
		}
		return
	}

	p.Success("  ● Running: " + status.Server)
	pairs := [][2]string{
		{"Started", formatStarted(status.StartedAt, time.Now())},
		{"Uptime", formatUptime(status.Uptime)},
	}
	if m := status.Mount; m != nil {
		pairs = append(pairs,
			[2]string{"Mount", m.ID},
			[2]string{"Configured", fmt.Sprint(m.Configured)},
			[2]string{"Standby", fmt.Sprint(m.Standby)},
			[2]string{"Pending records", fmt.Sprint(m.Pending.Records)},
			[2]string{"Pending removed", fmt.Sprint(m.Pending.Removed)},
			[2]string{"Log collapses", fmt.Sprint(m.Pending.Collapses)},
			[2]string{"Scheduler cycles", fmt.Sprint(m.Scheduler.Cycles)},
			[2]string{"Scheduler processed", fmt.Sprint(m.Scheduler.Processed)},
			[2]string{"Objects migrated", fmt.Sprint(m.Migration.ObjectsMigrated)},
			[2]string{"Bytes copied", formatBytes(m.Migration.BytesCopied)},
			[2]string{"Hole bytes", formatBytes(m.Migration.HoleBytes)},
			[2]string{"Errors", fmt.Sprint(m.Migration.Errors)},
		)
	}
	p.Println()
	_ = output.SimpleTable(w, pairs)

	if status.Mount != nil && len(status.Mount.Objects) > 0 {
		p.Println()
		_ = output.PrintTable(w, objectsTable(status.Mount.Objects))
	}
	if status.Error != "" {
		p.Println()
		p.Warning("  " + status.Error)
	}
	p.Println()
}

func objectsTable(objects map[string]int) *output.TableData {
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)
	t := output.NewTableData("STATUS", "OBJECTS")
	for _, name := range names {
		t.AddRow(name, fmt.Sprint(objects[name]))
	}
	return t
}
