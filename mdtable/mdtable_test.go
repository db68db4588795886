package mdtable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableWrite(t *testing.T) {
	table := New("Step", "Loss", "Name")
	table.Add(3, 0.5, "fc.weight")
	table.Add(4, 0.25, "fc.bias")

	var buf bytes.Buffer
	require.NoError(t, table.Write(&buf))
	expected := "| Step | Loss | Name |\n" +
		"|:--|:--|:--|\n" +
		"| 3 | 0.500000 | fc.weight |\n" +
		"| 4 | 0.250000 | fc.bias |\n"
	assert.Equal(t, expected, buf.String())
}

func TestTableRaggedRow(t *testing.T) {
	table := New("a", "b")
	table.Add(1)
	assert.ErrorContains(t, table.Write(&bytes.Buffer{}), "row 0 has 1 cells")
}
