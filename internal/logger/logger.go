// Package logger is the process-wide structured logger.
//
// It wraps log/slog with a level that can change at runtime, a colored text
// format for terminals, a JSON format for collectors, and *Ctx variants
// that prefix records with the mount, operation and trace carried by a
// context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]

	// mu guards the fields used to rebuild the handler.
	mu     sync.Mutex
	out    io.Writer = os.Stdout
	format           = "text"
	color            = isTerminal(os.Stdout)
)

func init() {
	rebuild()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// rebuild swaps in a handler for the current output and format. Callers
// hold mu, except init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = newTextHandler(out, level, color)
	}
	current.Store(slog.New(h))
}

// ParseLevel maps DEBUG, INFO, WARN (or WARNING) and ERROR, in any case,
// to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

// Init configures level, format and output. Output is "stdout", "stderr"
// or a file path opened for appending. Empty fields keep their current
// value.
func Init(cfg Config) error {
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "":
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		w = f
	}

	mu.Lock()
	if w != nil {
		out, color = w, isTerminal(w)
	}
	if f := strings.ToLower(cfg.Format); f == "text" || f == "json" {
		format = f
	}
	rebuild()
	mu.Unlock()

	SetLevel(cfg.Level)
	return nil
}

// InitWithWriter points the logger at w. Tests use it to capture output.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	mu.Lock()
	out, color = w, enableColor
	if f := strings.ToLower(fmtName); f == "text" || f == "json" {
		format = f
	}
	rebuild()
	mu.Unlock()

	SetLevel(lvl)
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		level.Set(l)
	}
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(name string) {
	name = strings.ToLower(name)
	if name != "text" && name != "json" {
		return
	}
	mu.Lock()
	format = name
	rebuild()
	mu.Unlock()
}

// Enabled reports whether records at l are written.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

func emit(ctx context.Context, l slog.Level, msg string, args []any) {
	if !Enabled(l) {
		return
	}
	current.Load().Log(ctx, l, msg, appendContextFields(ctx, args)...)
}

// Debug logs msg with alternating key/value pairs or slog.Attr values.
func Debug(msg string, args ...any) { emit(context.Background(), slog.LevelDebug, msg, args) }
func Info(msg string, args ...any)  { emit(context.Background(), slog.LevelInfo, msg, args) }
func Warn(msg string, args ...any)  { emit(context.Background(), slog.LevelWarn, msg, args) }
func Error(msg string, args ...any) { emit(context.Background(), slog.LevelError, msg, args) }

// DebugCtx is Debug prefixed with the fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelDebug, msg, args)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, msg, args)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, msg, args)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelError, msg, args)
}

// With returns a logger that adds args to every record.
func With(args ...any) *slog.Logger {
	return current.Load().With(args...)
}
