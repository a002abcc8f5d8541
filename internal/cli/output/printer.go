// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format selects how a Printer renders results.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses the value of an --output flag. The empty string means
// table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format %q (valid: table, json, yaml)", s)
}

func (f Format) String() string { return string(f) }

// ANSI colors for status lines.
const (
	red    = "31"
	green  = "32"
	yellow = "33"
)

// Printer writes results and status lines to one writer.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter returns a printer rendering to out. color enables ANSI colors
// on status lines.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

func (p *Printer) Format() Format    { return p.format }
func (p *Printer) Writer() io.Writer { return p.out }

// Print renders data in the printer's format. In table format data should
// implement TableRenderer; anything else is printed as JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	case FormatTable:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, data)
	}
	return fmt.Errorf("unknown format %q", p.format)
}

func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) Success(msg string) { p.status(green, msg) }
func (p *Printer) Warning(msg string) { p.status(yellow, msg) }
func (p *Printer) Error(msg string)   { p.status(red, msg) }

func (p *Printer) status(color, msg string) {
	if p.color {
		msg = "\033[" + color + "m" + msg + "\033[0m"
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
