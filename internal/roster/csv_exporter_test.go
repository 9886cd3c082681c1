package roster

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/identity"
)

func TestCSVExporter_ExportEmpty(t *testing.T) {
	exporter := NewCSVExporter()
	var buf bytes.Buffer

	err := exporter.Export(&buf, []identity.User{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	reader := csv.NewReader(&buf)
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}

	// Should have only header row
	if len(records) != 1 {
		t.Fatalf("expected 1 row (header), got %d", len(records))
	}

	if len(records[0]) != len(csvColumns) {
		t.Fatalf("expected %d columns, got %d", len(csvColumns), len(records[0]))
	}
}

func TestCSVExporter_ExportAccounts(t *testing.T) {
	exporter := NewCSVExporter()
	var buf bytes.Buffer

	confirmedAt := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	users := []identity.User{
		{
			ID:               uuid.New(),
			Email:            "confirmed@example.com",
			FirstName:        "Connie",
			LastName:         "Firmed",
			RoleName:         identity.RoleManager,
			EmailConfirmedAt: &confirmedAt,
			CreatedAt:        createdAt,
			LastLoginAt:      confirmedAt,
		},
		{
			ID:        uuid.New(),
			Email:     "pending@example.com",
			RoleName:  identity.RoleUser,
			CreatedAt: createdAt,
		},
	}

	if err := exporter.Export(&buf, users); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	reader := csv.NewReader(&buf)
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}

	first := records[1]
	if first[0] != SchemaVersion {
		t.Fatalf("expected schema version %q, got %q", SchemaVersion, first[0])
	}
	if first[1] != "confirmed@example.com" || first[4] != identity.RoleManager {
		t.Fatalf("unexpected row: %v", first)
	}
	if first[5] != confirmedAt.Format(time.RFC3339) {
		t.Fatalf("expected confirmation timestamp, got %q", first[5])
	}

	second := records[2]
	if second[5] != "" {
		t.Fatalf("expected empty confirmation for pending account, got %q", second[5])
	}
	if second[7] != "" {
		t.Fatalf("expected empty last login for never-seen account, got %q", second[7])
	}
}

func TestCSVExporter_RoundTripsThroughImporter(t *testing.T) {
	exporter := NewCSVExporter()
	var buf bytes.Buffer

	users := []identity.User{
		{ID: uuid.New(), Email: "round@example.com", FirstName: "Round", LastName: "Trip", RoleName: identity.RoleUser},
	}
	if err := exporter.Export(&buf, users); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	store := &stubStore{}
	importer := NewCSVImporter(store)
	summary, err := importer.Import(context.Background(), &buf, adminActor())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if summary.Imported != 1 {
		t.Fatalf("expected 1 import, got %d", summary.Imported)
	}
	if store.users[0].Email != "round@example.com" {
		t.Fatalf("unexpected imported account %v", store.users[0])
	}
}
