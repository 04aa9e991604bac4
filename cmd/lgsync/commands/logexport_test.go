package commands

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExportJSONL(t *testing.T) {
	path := writeCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	require.NoError(t, RunExport(path, "jsonl", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 7)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, connA, first["ConnectionID"])
	assert.Equal(t, "p1", first["Place"])
}

func TestRunExportCSV(t *testing.T) {
	path := writeCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, RunExport(path, "csv", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 8)

	assert.Equal(t, []string{"timestamp", "connection_id", "direction", "layer", "category", "place", "type", "message_id", "method", "status"}, rows[0])
	assert.Equal(t, []string{
		"2026-01-28T10:15:32.123456Z", connA, "OUT", "WIRE", "MESSAGE", "p1", "REQUEST", "7", "AcquirePlace", "",
	}, rows[1])
	assert.Equal(t, "PERMISSION_DENIED", rows[3][9])
	assert.Equal(t, "Frame", rows[6][6])
}

func TestRunExportUnknownFormat(t *testing.T) {
	path := writeCapture(t, sampleEvents())
	err := RunExport(path, "xml", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
