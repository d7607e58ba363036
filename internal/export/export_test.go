package export_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/internal/export"
	"visitrack/internal/visitors"
)

func sample() []visitors.Visitor {
	return []visitors.Visitor{
		{
			ID: 1, IPAddress: "1.2.3.4", ProjectName: "blog",
			Browser: "Chrome 120.0", Device: "Desktop", Location: "Madrid, Spain",
			LastVisit: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			ID: 2, IPAddress: "5.6.7.8", ProjectName: "shop",
			Browser: "Safari 17.2", Device: "iPhone", Location: "Lyon, France",
			LastVisit: time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    export.Format
		wantErr bool
	}{
		{"", export.JSON, false},
		{"JSON", export.JSON, false},
		{"csv", export.CSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run("format "+tt.in, func(t *testing.T) {
			got, err := export.ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, export.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.CSV, sample(), false))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.CSVHeader, rows[0])
	assert.Equal(t, []string{"1.2.3.4", "blog", "Chrome 120.0", "Desktop", "Madrid, Spain", "2024-03-15T10:30:00Z"}, rows[1])
	assert.Equal(t, "Lyon, France", rows[2][4], "commas inside values are quoted")
}

func TestWriteJSON(t *testing.T) {
	t.Run("Encodes the visitor list", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, export.Write(&buf, export.JSON, sample(), true))

		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "1.2.3.4", decoded[0]["ipAddress"])
		assert.Contains(t, buf.String(), "\n  ")
	})

	t.Run("An empty export is an empty array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, export.Write(&buf, export.JSON, nil, false))
		assert.Equal(t, "[]\n", buf.String())
	})
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 30, 5, 0, time.UTC)
	assert.Equal(t, "visitors-20240315-103005.csv", export.CSV.Filename(at))
	assert.Equal(t, "text/csv; charset=utf-8", export.CSV.ContentType())
}
