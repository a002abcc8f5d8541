package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

// capture points the logger at a buffer for the duration of the test.
func capture(t *testing.T, lvl, fmtName string) *bytes.Buffer {
	t.Helper()
	mu.Lock()
	prevOut, prevColor, prevFormat := out, color, format
	mu.Unlock()
	prevLevel := level.Level()
	t.Cleanup(func() {
		mu.Lock()
		out, color, format = prevOut, prevColor, prevFormat
		rebuild()
		mu.Unlock()
		level.Set(prevLevel)
	})

	buf := new(bytes.Buffer)
	InitWithWriter(buf, lvl, fmtName, false)
	return buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "WARN", "text")

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn")
	Error("shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn")
	assert.Contains(t, out, "[ERROR] shown error")

	SetLevel("debug")
	Debug("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")

	SetLevel("verbose")
	assert.True(t, Enabled(slog.LevelDebug), "unknown level names are ignored")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
	} {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseLevel("trace")
	assert.False(t, ok)
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("object migrated",
		MountID("m1"),
		Size(4096),
		"note", "two words",
		"empty", "",
		Err(nil),
		slog.Group("sched", "cycles", 3),
	)

	line := strings.TrimSuffix(buf.String(), "\n")
	require.True(t, strings.HasPrefix(line, "["), line)
	ts, rest, ok := strings.Cut(line[1:], "] ")
	require.True(t, ok)
	_, err := time.ParseInLocation(TextTimeLayout, ts, time.Local)
	require.NoError(t, err)

	assert.Equal(t, `[INFO] object migrated mount_id=m1 size=4096 note="two words" empty="" sched.cycles=3`, rest)
}

func TestTextFormat_WithAttrsAndGroups(t *testing.T) {
	buf := capture(t, "INFO", "text")

	With(MountID("m2")).WithGroup("pending").Info("collapsed", "records", 5)
	assert.Contains(t, buf.String(), "collapsed mount_id=m2 pending.records=5")
}

func TestTextFormat_Color(t *testing.T) {
	var buf bytes.Buffer
	h := newTextHandler(&buf, slog.LevelInfo, true)
	slog.New(h).Warn("careful", "k", "v")
	assert.Contains(t, buf.String(), ansiYellow+"WARN"+ansiReset)
	assert.Contains(t, buf.String(), ansiCyan+"k"+ansiReset+"=v")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("walk complete", MountID("m1"), Entries(7))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "walk complete", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "m1", rec[KeyMountID])
	assert.Equal(t, float64(7), rec[KeyEntries])

	buf.Reset()
	SetFormat("text")
	Info("back to text")
	assert.Contains(t, buf.String(), "[INFO] back to text")

	SetFormat("xml")
	buf.Reset()
	Info("still text")
	assert.Contains(t, buf.String(), "[INFO] still text")
}

func TestContextFields(t *testing.T) {
	buf := capture(t, "DEBUG", "text")

	lc := NewLogContext("m1").WithOperation("resolve").WithObject("0a0b", "dir/f")
	ctx := WithContext(context.Background(), lc)

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))

	InfoCtx(ctx, "copied", Size(1))
	assert.Contains(t, buf.String(),
		"copied trace_id=0102030405060708090a0b0c0d0e0f10 span_id=0102030405060708 mount_id=m1 operation=resolve handle=0a0b path=dir/f size=1")

	buf.Reset()
	WarnCtx(context.Background(), "plain")
	assert.Contains(t, buf.String(), "[WARN] plain\n")
}

func TestLogContext(t *testing.T) {
	var nilCtx *LogContext
	assert.Nil(t, nilCtx.WithOperation("x"))
	assert.Zero(t, nilCtx.Elapsed())
	assert.Nil(t, FromContext(context.Background()))

	base := NewLogContext("m1")
	op := base.WithOperation("walk")
	assert.Empty(t, base.Operation, "copies do not alias")
	assert.Equal(t, "walk", op.Operation)
	assert.GreaterOrEqual(t, op.Elapsed(), time.Duration(0))
}

func TestErrField(t *testing.T) {
	assert.Equal(t, slog.String(KeyError, "boom"), Err(errors.New("boom")))
	assert.True(t, Err(nil).Equal(slog.Attr{}))
}

func TestInit_FileOutput(t *testing.T) {
	capture(t, "INFO", "text")
	path := filepath.Join(t.TempDir(), "shadowfs.log")

	require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
	Info("to file", MountID("m9"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file mount_id=m9")

	err = Init(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestConcurrentLogging(t *testing.T) {
	buf := capture(t, "INFO", "text")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for range 50 {
				Info("tick", "worker", id)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
	for _, l := range lines {
		assert.Contains(t, l, "[INFO] tick worker=")
	}
}
