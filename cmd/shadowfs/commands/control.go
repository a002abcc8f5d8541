package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
	"github.com/marmos91/shadowfs/pkg/shadow"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
)

var (
	controlHandle   string
	controlPath     string
	controlStart    int64
	controlEnd      int64
	controlBlocking bool
	controlBinary   bool
)

var controlCmd = &cobra.Command{
	Use:   "control <op>",
	Short: "Run a control operation",
	Long: `Run one control operation on a running server.

Operations:
  process-one-pending  Migrate one entry from the pending log
  remote-path          Print the remote path of a not yet migrated object
  force-migrate        Migrate an object, or a byte range of a file
  handle-to-path       Print the local path of a handle

The target is named by --handle (hex) or --path (relative to the local
root). With --binary the fixed-size binary encoding is used, which only
accepts --handle.

Examples:
  shadowfs control remote-path --path data/file
  shadowfs control force-migrate --path data/big --start 0 --end 1048576 --blocking
  shadowfs control handle-to-path --handle 0a0b0c --binary`,
	ValidArgs: []string{
		shadow.OpProcessOnePending.String(),
		shadow.OpRemotePath.String(),
		shadow.OpForceMigrate.String(),
		shadow.OpHandleToPath.String(),
	},
	Args: cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: runControl,
}

func init() {
	controlCmd.Flags().StringVar(&controlHandle, "handle", "", "Target handle (hex)")
	controlCmd.Flags().StringVar(&controlPath, "path", "", "Target path relative to the local root")
	controlCmd.Flags().Int64Var(&controlStart, "start", 0, "First byte for force-migrate")
	controlCmd.Flags().Int64Var(&controlEnd, "end", -1, "End byte (exclusive) for force-migrate, -1 for end of file")
	controlCmd.Flags().BoolVar(&controlBlocking, "blocking", false, "Wait for busy objects")
	controlCmd.Flags().BoolVar(&controlBinary, "binary", false, "Use the binary request encoding")
	controlCmd.MarkFlagsMutuallyExclusive("handle", "path")
}

func runControl(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	op, _ := shadow.ParseOp(args[0])

	var out *handlers.ControlJSONResponse
	if controlBinary {
		out, err = controlViaBinary(cmd, op)
	} else {
		end := controlEnd
		out, err = newClient().Control(cmd.Context(), op, handlers.ControlJSONRequest{
			Handle:   controlHandle,
			Path:     controlPath,
			Start:    controlStart,
			End:      &end,
			Blocking: controlBlocking,
		})
	}
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(out)
	}
	switch {
	case out.Path != "":
		printer.Println(out.Path)
	case op == shadow.OpProcessOnePending && !out.Processed:
		printer.Println("pending log is empty")
	default:
		printer.Success(out.Op + ": ok")
	}
	return nil
}

func controlViaBinary(cmd *cobra.Command, op shadow.Op) (*handlers.ControlJSONResponse, error) {
	if controlPath != "" {
		return nil, errors.New("--binary requires --handle")
	}
	req := shadow.ControlRequest{Op: op, Blocking: controlBlocking, Start: controlStart, End: controlEnd}
	if op != shadow.OpProcessOnePending {
		h, err := fid.ParseHex(controlHandle)
		if err != nil {
			return nil, fmt.Errorf("invalid handle: %w", err)
		}
		req.Handle = h
	}
	resp, err := newClient().ControlBinary(cmd.Context(), req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &handlers.ControlJSONResponse{Op: op.String(), Processed: resp.Processed, Path: resp.Path}, nil
}
