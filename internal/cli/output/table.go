package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that print as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// TableData is a TableRenderer built row by row.
type TableData struct {
	headers []string
	rows    [][]string
}

func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

func (t *TableData) AddRow(row ...string) { t.rows = append(t.rows, row) }
func (t *TableData) Headers() []string    { return t.headers }
func (t *TableData) Rows() [][]string     { return t.rows }

// newTable returns a borderless left-aligned table. sep separates columns.
func newTable(w io.Writer, sep string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetCenterSeparator("")
	t.SetColumnSeparator(sep)
	t.SetRowSeparator("")
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}

// PrintTable writes data with its headers as the first line.
func PrintTable(w io.Writer, data TableRenderer) error {
	t := newTable(w, "")
	t.SetHeader(data.Headers())
	t.AppendBulk(data.Rows())
	t.Render()
	return nil
}

// SimpleTable writes key/value pairs, one per line.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	t := newTable(w, ":")
	t.SetAutoFormatHeaders(false)
	for _, kv := range pairs {
		t.Append([]string{kv[0], kv[1]})
	}
	t.Render()
	return nil
}
