package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/stockscout/stockscout/internal/catalog"
)

// maxAxisColumns mirrors the export layout's fixed attribute columns; a
// storefront with more than four axes still exports, extra axes fold into
// the variant key column.
const maxAxisColumns = 4

// WriteCSV writes all stock records to path in the downstream spreadsheet
// layout: one row per variant with paired attribute name/value columns.
func WriteCSV(records []catalog.StockRecord, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{"SKU", "Brand", "Product Name", "URL", "Variant Key"}
	for i := 1; i <= maxAxisColumns; i++ {
		header = append(header,
			fmt.Sprintf("%dDroplistDesc", i),
			fmt.Sprintf("%dDroplistValue", i))
	}
	header = append(header, "Price", "Current Stock", "Observed At", "Item Photo URL", "Description")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.Fields.SKU,
			rec.Fields.Brand,
			rec.Fields.Name,
			rec.ProductURL,
			rec.Key,
		}
		for i := 0; i < maxAxisColumns; i++ {
			if i < len(rec.Selections) {
				row = append(row, rec.Selections[i].Axis, rec.Selections[i].Value)
			} else {
				row = append(row, "", "")
			}
		}
		row = append(row,
			rec.Fields.Price,
			strconv.Itoa(rec.Quantity),
			rec.ObservedAt.Format("2006-01-02 15:04:05"),
			rec.Fields.ImageURL,
			rec.Fields.Description,
		)
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// Stats summarizes one run's observations.
type Stats struct {
	TotalVariants  int
	InStock        int
	OutOfStock     int
	TotalInventory int
	LowStock       []catalog.StockRecord // in stock but under the low-stock threshold
	Failures       int
}

const lowStockThreshold = 10

// Summarize computes run statistics from the records and failure ledger.
func Summarize(records []catalog.StockRecord, failures []catalog.FailedTask) Stats {
	stats := Stats{
		TotalVariants: len(records),
		Failures:      len(failures),
	}

	for _, rec := range records {
		stats.TotalInventory += rec.Quantity
		switch {
		case rec.Quantity == 0:
			stats.OutOfStock++
		default:
			stats.InStock++
			if rec.Quantity < lowStockThreshold {
				stats.LowStock = append(stats.LowStock, rec)
			}
		}
	}

	sort.Slice(stats.LowStock, func(i, j int) bool {
		return stats.LowStock[i].Quantity < stats.LowStock[j].Quantity
	})
	return stats
}

// Render prints the run summary and the low-stock list as console tables.
func Render(w io.Writer, stats Stats) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.AppendHeader(table.Row{"Metric", "Value"})
	summary.AppendRows([]table.Row{
		{"Variants observed", stats.TotalVariants},
		{"In stock", stats.InStock},
		{"Out of stock", stats.OutOfStock},
		{"Total inventory", stats.TotalInventory},
		{"Task failures", stats.Failures},
	})
	summary.Render()

	if len(stats.LowStock) == 0 {
		return
	}

	low := table.NewWriter()
	low.SetOutputMirror(w)
	low.SetStyle(table.StyleLight)
	low.SetTitle("Low stock (under %d units)", lowStockThreshold)
	low.AppendHeader(table.Row{"Product", "Variant", "Stock"})
	for _, rec := range stats.LowStock {
		low.AppendRow(table.Row{rec.Fields.Name, rec.Key, rec.Quantity})
	}
	low.Render()
}
