package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
	logsMount  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail server logs",
	Long: `Display and optionally follow the shadowfs server log file named by
logging.output in the configuration.

Examples:
  # Show last 100 lines (default)
  shadowfs logs

  # Follow, starting from the last 20 lines
  shadowfs logs -f -n 20

  # Only lines after a point in time
  shadowfs logs --since 2026-01-15T10:00:00Z

  # Only lines about one mount (JSON or text format)
  shadowfs logs --mount prod-home`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since timestamp (RFC3339 format)")
	logsCmd.Flags().StringVar(&logsMount, "mount", "", "Show only lines for this mount id")
}

// lineFilter selects the log lines to print.
type lineFilter struct {
	since time.Time
	mount string
}

func (f lineFilter) match(line string) bool {
	if !f.since.IsZero() {
		if t := extractTimestamp(line); !t.IsZero() && t.Before(f.since) {
			return false
		}
	}
	if f.mount != "" && !strings.Contains(line, "mount_id="+f.mount) &&
		!strings.Contains(line, `"mount_id":"`+f.mount+`"`) {
		return false
	}
	return true
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile := cfg.Logging.Output
	if logFile == "stdout" || logFile == "stderr" {
		return fmt.Errorf("server is configured to log to %s, not a file\n"+
			"Set 'logging.output' to a file path to use this command", logFile)
	}
	if _, err := os.Stat(logFile); err != nil {
		return fmt.Errorf("log file not available: %w", err)
	}

	filter := lineFilter{mount: logsMount}
	if logsSince != "" {
		filter.since, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
	}

	out := cmd.OutOrStdout()
	offset, err := showLogs(out, logFile, logsLines, filter)
	if err != nil || !logsFollow {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)...\n", logFile)
	return followLogs(ctx, out, logFile, offset, filter)
}

// showLogs prints the last n matching lines and returns the offset reached.
func showLogs(w io.Writer, logFile string, n int, filter lineFilter) (int64, error) {
	file, err := os.Open(logFile)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if n == 0 || !filter.match(line) {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error reading log file: %w", err)
	}
	for _, line := range ring {
		_, _ = fmt.Fprintln(w, line)
	}

	off, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("failed to read log offset: %w", err)
	}
	return off, nil
}

// followLogs prints lines appended after offset until ctx is done. The
// directory is watched so a rotated or recreated file is picked up.
func followLogs(ctx context.Context, w io.Writer, logFile string, offset int64, filter lineFilter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(logFile)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	t := &tailer{path: logFile, filter: filter, w: w}
	defer t.close()
	if err := t.open(offset); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(logFile) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				if err := t.open(0); err != nil {
					return err
				}
				t.drain()
			case event.Has(fsnotify.Write):
				t.drain()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

type tailer struct {
	path   string
	filter lineFilter
	w      io.Writer

	file    *os.File
	reader  *bufio.Reader
	partial string
}

func (t *tailer) open(offset int64) error {
	t.close()
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to seek log file: %w", err)
	}
	t.file, t.reader, t.partial = file, bufio.NewReader(file), ""
	return nil
}

// drain prints every complete line available. A trailing partial line is
// kept until its newline arrives.
func (t *tailer) drain() {
	if t.reader == nil {
		return
	}
	for {
		chunk, err := t.reader.ReadString('\n')
		t.partial += chunk
		if err != nil {
			return
		}
		line := strings.TrimSuffix(t.partial, "\n")
		t.partial = ""
		if t.filter.match(line) {
			_, _ = fmt.Fprintln(t.w, line)
		}
	}
}

func (t *tailer) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file, t.reader = nil, nil
	}
}

// extractTimestamp finds the record time of a log line written by the text
// handler ("[2006-01-02 15:04:05] ...") or the JSON handler ("time":"...").
func extractTimestamp(line string) time.Time {
	if strings.HasPrefix(line, "{") {
		var rec struct {
			Time time.Time `json:"time"`
		}
		if json.Unmarshal([]byte(line), &rec) == nil {
			return rec.Time
		}
		return time.Time{}
	}
	if len(line) > len(logger.TextTimeLayout)+1 && line[0] == '[' {
		t, err := time.ParseInLocation(logger.TextTimeLayout, line[1:1+len(logger.TextTimeLayout)], time.Local)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
