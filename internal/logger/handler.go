package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// TextTimeLayout is the timestamp layout of the text format. Times are
// local.
const TextTimeLayout = "2006-01-02 15:04:05"

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// textHandler writes one line per record:
//
//	[2006-01-02 15:04:05] [LEVEL] message key=value key="quoted value"
//
// Attributes inside groups are written as group.key=value.
type textHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	color  bool
	prefix string // open groups, each followed by "."
	pre    []byte // attributes added with WithAttrs, already formatted
}

func newTextHandler(w io.Writer, level slog.Leveler, color bool) *textHandler {
	return &textHandler{mu: &sync.Mutex{}, w: w, level: level, color: color}
}

func (h *textHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128)
	buf = append(buf, '[')
	buf = r.Time.Local().AppendFormat(buf, TextTimeLayout)
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)
	buf = append(buf, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *textHandler) appendLevel(buf []byte, l slog.Level) []byte {
	name, c := "ERROR", ansiRed
	switch {
	case l < slog.LevelInfo:
		name, c = "DEBUG", ansiGray
	case l < slog.LevelWarn:
		name, c = "INFO", ansiGreen
	case l < slog.LevelError:
		name, c = "WARN", ansiYellow
	}
	if !h.color {
		return append(buf, name...)
	}
	return append(append(append(buf, c...), name...), ansiReset...)
}

func (h *textHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	if h.color {
		buf = append(buf, ansiCyan...)
	}
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	if h.color {
		buf = append(buf, ansiReset...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	}
	return appendString(buf, v.String())
}

// appendString quotes s when it would not read back as a single token.
func appendString(buf []byte, s string) []byte {
	if s == "" || strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '=' || !unicode.IsPrint(r)
	}) >= 0 {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.pre = append([]byte(nil), h.pre...)
	for _, a := range attrs {
		c.pre = h.appendAttr(c.pre, h.prefix, a)
	}
	return &c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}
