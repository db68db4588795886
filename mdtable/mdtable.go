// Package mdtable renders left-aligned markdown tables for
// command-line reports.
package mdtable

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// A Table is a header row followed by body rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// New creates a table with the given column names.
func New(header ...string) *Table {
	return &Table{Header: header}
}

// Add appends a row, formatting each cell with %v.
// Floats are printed with %f.
func (t *Table) Add(cells ...any) {
	row := make([]string, len(cells))
	for i, cell := range cells {
		if f, ok := cell.(float64); ok {
			row[i] = fmt.Sprintf("%f", f)
		} else {
			row[i] = fmt.Sprint(cell)
		}
	}
	t.Rows = append(t.Rows, row)
}

// Write renders the table.
//
// Every row must have as many cells as the header.
func (t *Table) Write(w io.Writer) error {
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return errors.Errorf("row %d has %d cells but the header has %d", i, len(row), len(t.Header))
		}
	}
	lines := []string{
		line(t.Header),
		strings.Repeat("|:--", len(t.Header)) + "|",
	}
	for _, row := range t.Rows {
		lines = append(lines, line(row))
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

func line(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}
