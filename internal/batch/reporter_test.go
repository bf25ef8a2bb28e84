package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_GenerateReport(t *testing.T) {
	in := "Branch,Product line,Unit price,Quantity\nA,Sports and travel,10,2\nB,Sports and travel,20,1\nA,Fashion accessories,30,3\n"
	summary, err := NewRunner(lineTotal{}, nil, nil).Run(context.Background(), strings.NewReader(in), &bytes.Buffer{}, "inline.csv")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "reports")
	r := NewReporter(summary, dir)
	require.NoError(t, r.GenerateReport())

	text, err := os.ReadFile(filepath.Join(dir, "batch_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "Rows: 3")
	assert.Contains(t, string(text), "Total: $130.00")
	assert.Contains(t, string(text), "A: 2 rows, $110.00 total, $55.00 mean")
	assert.Contains(t, string(text), "Sports and travel: 2 rows")

	data, err := os.ReadFile(filepath.Join(dir, "batch_summary.json"))
	require.NoError(t, err)
	var decoded struct {
		Summary struct {
			Rows  int     `json:"rows"`
			Total float64 `json:"total"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 3, decoded.Summary.Rows)
	assert.Equal(t, 130.0, decoded.Summary.Total)

	var console bytes.Buffer
	r.PrintSummary(&console)
	assert.Contains(t, console.String(), "Total Predicted Sales: $130.00")
}
