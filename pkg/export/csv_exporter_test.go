package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRenderBOMAndHeader(t *testing.T) {
	exporter := NewCSVExporter()
	out, err := exporter.Render(Dataset{
		Headers: []string{"timestamp", "event"},
		Rows:    []map[string]string{{"timestamp": "2026-01-02T03:04:05Z", "event": "upload"}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, utf8BOM))
	assert.Contains(t, string(out), "timestamp,event")
}

func TestCSVRenderEscapesRoundTrip(t *testing.T) {
	exporter := NewCSVExporter()
	tricky := []map[string]string{
		{"file": `report,final.pdf`, "actor": `alice`},
		{"file": `quo"ted.txt`, "actor": "bob\nthe builder"},
	}
	out, err := exporter.Render(Dataset{Headers: []string{"file", "actor"}, Rows: tricky})
	require.NoError(t, err)

	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(out, utf8BOM)))
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, `report,final.pdf`, records[1][0])
	assert.Equal(t, `quo"ted.txt`, records[2][0])
	assert.Equal(t, "bob\nthe builder", records[2][1])
}

func TestCSVRenderRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFRender(t *testing.T) {
	exporter := NewPDFExporter()
	out, err := exporter.Render(Dataset{
		Headers: []string{"timestamp", "event", "status"},
		Rows: []map[string]string{
			{"timestamp": "2026-01-02T03:04:05Z", "event": "upload", "status": "success"},
		},
	}, "audit trail")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
