package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"gatehouse/internal/admin"
	"gatehouse/internal/identity"
)

type stubStore struct {
	users     []identity.User
	createErr error
	listed    bool
}

func (s *stubStore) CreateUser(ctx context.Context, actor admin.Actor, input admin.CreateUserInput) (*identity.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	user := identity.User{ID: uuid.New(), Email: input.Email, FirstName: input.FirstName, LastName: input.LastName}
	s.users = append(s.users, user)
	return &user, nil
}

func (s *stubStore) ListUsers(ctx context.Context, actor admin.Actor, opts identity.ListOptions) ([]identity.User, error) {
	s.listed = true
	if opts.Offset >= len(s.users) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(s.users) {
		end = len(s.users)
	}
	copies := make([]identity.User, end-opts.Offset)
	copy(copies, s.users[opts.Offset:end])
	return copies, nil
}

func adminActor() admin.Actor {
	return admin.Actor{ID: uuid.New(), Role: identity.RoleAdmin}
}

func TestCSVImporter_ImportCreatesAccountsAndSkipsDuplicates(t *testing.T) {
	store := &stubStore{users: []identity.User{{ID: uuid.New(), Email: "existing@example.com"}}}
	importer := NewCSVImporter(store)
	csv := "email,password,firstName,lastName,role\n" +
		"new@example.com,Str0ngPassw0rd,New,Person,user\n" +
		"existing@example.com,Str0ngPassw0rd,Old,Person,user\n"
	summary, err := importer.Import(context.Background(), bytes.NewBufferString(csv), adminActor())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if summary.Imported != 1 {
		t.Fatalf("expected 1 import, got %d", summary.Imported)
	}
	if len(summary.SkippedDuplicates) != 1 {
		t.Fatalf("expected 1 skipped record, got %d", len(summary.SkippedDuplicates))
	}
	if !store.listed {
		t.Fatal("expected existing accounts to be listed")
	}
}

func TestCSVImporter_GeneratesPlaceholderPasswords(t *testing.T) {
	store := &stubStore{}
	importer := NewCSVImporter(store)
	csv := "email\nfresh@example.com\n"
	summary, err := importer.Import(context.Background(), bytes.NewBufferString(csv), adminActor())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if summary.Imported != 1 {
		t.Fatalf("expected 1 import, got %d", summary.Imported)
	}
}

func TestCSVImporter_ReturnsRowErrors(t *testing.T) {
	store := &stubStore{}
	importer := NewCSVImporter(store)
	csv := "email\nnot-an-email\n"
	summary, err := importer.Import(context.Background(), bytes.NewBufferString(csv), adminActor())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("expected 1 failed record, got %d", len(summary.Failed))
	}
}

func TestCSVImporter_MissingColumns(t *testing.T) {
	store := &stubStore{}
	importer := NewCSVImporter(store)
	csv := "firstName,lastName\nTest,Person\n"
	_, err := importer.Import(context.Background(), strings.NewReader(csv), adminActor())
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	if !strings.Contains(err.Error(), "missing required columns") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCSVImporter_AbortsWhenForbidden(t *testing.T) {
	store := &stubStore{createErr: admin.ErrForbidden}
	importer := NewCSVImporter(store)
	csv := "email\none@example.com\ntwo@example.com\n"
	_, err := importer.Import(context.Background(), strings.NewReader(csv), admin.Actor{ID: uuid.New(), Role: identity.RoleManager})
	if !errors.Is(err, admin.ErrForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestCSVImporter_RejectsOversizedUploadBeforeWriting(t *testing.T) {
	store := &stubStore{}
	importer := NewCSVImporter(store)

	var builder strings.Builder
	builder.WriteString("email\n")
	for idx := 0; idx < MaxImportRows+1; idx++ {
		fmt.Fprintf(&builder, "user%d@example.com\n", idx)
	}

	_, err := importer.Import(context.Background(), strings.NewReader(builder.String()), adminActor())
	if err == nil {
		t.Fatal("expected error for oversized CSV")
	}
	if len(store.users) != 0 {
		t.Fatalf("expected no accounts to be created, got %d", len(store.users))
	}
}
