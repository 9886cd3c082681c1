package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"gatehouse/internal/identity"
)

// SchemaVersion identifies the CSV export format version.
// This version should be incremented when adding new columns or changing the format.
const SchemaVersion = "1"

// csvColumns defines the column order for export. These columns are a superset
// of the import format to ensure round-trip compatibility. Password hashes are
// never exported; re-imported accounts get fresh credentials.
var csvColumns = []string{
	"schemaVersion",
	"email",
	"firstName",
	"lastName",
	"role",
	"emailConfirmedAt",
	"createdAt",
	"lastLoginAt",
}

// CSVExporter exports accounts to CSV format.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes accounts to the given writer in CSV format.
// The export format is designed to be compatible with the CSV import feature.
func (e *CSVExporter) Export(w io.Writer, users []identity.User) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, user := range users {
		row := e.userToRow(user)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return writer.Error()
}

// userToRow converts an account to a CSV row following the column order.
func (e *CSVExporter) userToRow(user identity.User) []string {
	row := make([]string, len(csvColumns))

	row[0] = SchemaVersion
	row[1] = user.Email
	row[2] = user.FirstName
	row[3] = user.LastName
	row[4] = user.RoleName
	row[5] = formatOptionalTime(user.EmailConfirmedAt)
	row[6] = formatTime(user.CreatedAt)
	row[7] = formatTime(user.LastLoginAt)

	return row
}

// formatOptionalTime formats an optional time pointer to RFC3339 string.
func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(time.RFC3339)
}

// formatTime formats a time to RFC3339 string.
func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(time.RFC3339)
}
