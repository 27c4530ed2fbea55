package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockscout/stockscout/internal/catalog"
)

func sampleRecords() []catalog.StockRecord {
	return []catalog.StockRecord{
		{
			ID:         "r1",
			Key:        "https://shop.example/p1|Size=S",
			ProductURL: "https://shop.example/p1",
			Selections: []catalog.Selection{{Axis: "Size", Value: "S"}},
			Quantity:   3,
			ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Fields:     catalog.ProductFields{Brand: "Black Eagle", Name: "Carbon Hunter", Price: "$129.99"},
		},
		{
			ID:         "r2",
			Key:        "https://shop.example/p2",
			ProductURL: "https://shop.example/p2",
			Quantity:   0,
			ObservedAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
			Fields:     catalog.ProductFields{Name: "Spartan"},
		},
		{
			ID:         "r3",
			Key:        "https://shop.example/p3",
			ProductURL: "https://shop.example/p3",
			Quantity:   250,
			ObservedAt: time.Date(2025, 6, 1, 12, 9, 0, 0, time.UTC),
			Fields:     catalog.ProductFields{Name: "X Impact"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.csv")
	require.NoError(t, WriteCSV(sampleRecords(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	header := rows[0]
	assert.Equal(t, "SKU", header[0])
	assert.Contains(t, header, "1DroplistDesc")
	assert.Contains(t, header, "Current Stock")

	first := rows[1]
	assert.Equal(t, "Black Eagle", first[1])
	assert.Equal(t, "Carbon Hunter", first[2])
	assert.Contains(t, first, "Size")
	assert.Contains(t, first, "S")
	assert.Contains(t, first, "3")
}

func TestSummarize(t *testing.T) {
	stats := Summarize(sampleRecords(), []catalog.FailedTask{
		{ID: "f1", Key: "https://shop.example/p9", Reason: catalog.ReasonNavigation},
	})

	assert.Equal(t, 3, stats.TotalVariants)
	assert.Equal(t, 2, stats.InStock)
	assert.Equal(t, 1, stats.OutOfStock)
	assert.Equal(t, 253, stats.TotalInventory)
	assert.Equal(t, 1, stats.Failures)
	require.Len(t, stats.LowStock, 1)
	assert.Equal(t, 3, stats.LowStock[0].Quantity)
}

func TestRender(t *testing.T) {
	var sb strings.Builder
	Render(&sb, Summarize(sampleRecords(), nil))

	out := sb.String()
	assert.Contains(t, out, "Variants observed")
	assert.Contains(t, out, "Total inventory")
	assert.Contains(t, out, "Low stock")
	assert.Contains(t, out, "Carbon Hunter")
}
