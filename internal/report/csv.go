package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"rental-order-service/internal/models"
)

// Header is the first line of every order export
var Header = []string{
	"Rented at",
	"Facebook user",
	"Facebook order",
	"Status",
	"Total credits",
	"Total price",
	"Refund",
	"Tax Amount",
	"Zip Code",
}

// WriteOrdersCSV writes the header and one line per row
func WriteOrdersCSV(w io.Writer, rows []models.ReportRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range rows {
		if err := cw.Write(record(row)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func record(row models.ReportRow) []string {
	rentedAt := ""
	if row.RentedAt != nil {
		rentedAt = row.RentedAt.UTC().Format(time.RFC3339)
	}

	refund := ""
	if row.Status == models.OrderStatusDisputed {
		refund = "Refund"
	}

	return []string{
		rentedAt,
		row.PurchaserName,
		row.ProviderOrderID,
		string(row.Status),
		strconv.FormatInt(row.TotalCredits, 10),
		row.TotalPrice.StringFixed(2),
		refund,
		row.TaxCollected.StringFixed(2),
		row.ZipCode,
	}
}
