package roster

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"gatehouse/internal/admin"
	"gatehouse/internal/identity"
)

// AccountStore is the slice of the management service the importer needs.
// admin.Service satisfies it, so every provisioned row passes the same
// permission checks as a single account creation.
type AccountStore interface {
	CreateUser(ctx context.Context, actor admin.Actor, input admin.CreateUserInput) (*identity.User, error)
	ListUsers(ctx context.Context, actor admin.Actor, opts identity.ListOptions) ([]identity.User, error)
}

type Summary struct {
	TotalRows         int             `json:"totalRows"`
	Imported          int             `json:"imported"`
	SkippedDuplicates []SkippedRecord `json:"skippedDuplicates"`
	Failed            []FailedRecord  `json:"failed"`
	TruncatedRecords  bool            `json:"truncatedRecords,omitempty"`
}

type SkippedRecord struct {
	Row    int    `json:"row"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason"`
}

type FailedRecord struct {
	Row   int    `json:"row"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

var ErrInvalidCSV = errors.New("invalid csv upload")

// MaxImportRows limits the number of data rows processed per CSV import to
// prevent excessive memory usage and long-running requests.
const MaxImportRows = 1000

// MaxFailedRecords caps the number of failed/skipped records stored in the
// summary to avoid unbounded memory growth from malformed uploads.
const MaxFailedRecords = 100

var requiredColumns = []string{
	"email",
}

// CSVImporter bulk-provisions accounts from a CSV upload. Rows without a
// password column get a random throwaway credential; those users sign in by
// completing the password reset flow.
type CSVImporter struct {
	accounts AccountStore
}

func NewCSVImporter(accounts AccountStore) *CSVImporter {
	return &CSVImporter{accounts: accounts}
}

func (i *CSVImporter) Import(ctx context.Context, reader io.Reader, actor admin.Actor) (Summary, error) {
	if i.accounts == nil {
		return Summary{}, fmt.Errorf("%w: account store is not configured", ErrInvalidCSV)
	}

	existing, err := i.listAll(ctx, actor)
	if err != nil {
		return Summary{}, err
	}

	tracker := newDuplicateTracker(existing)

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Summary{}, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
		}
		return Summary{}, fmt.Errorf("%w: failed to read header", ErrInvalidCSV)
	}

	columns, err := normalizeHeader(header)
	if err != nil {
		return Summary{}, err
	}

	type parsedRow struct {
		number int
		values map[string]string
	}

	var rows []parsedRow
	rowNumber := 1
	totalRows := 0

	for {
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Summary{}, fmt.Errorf("%w: failed to read row %d", ErrInvalidCSV, rowNumber+1)
		}
		rowNumber++
		values := mapRecord(columns, record)
		if isRowEmpty(values) {
			continue
		}

		totalRows++
		if totalRows > MaxImportRows {
			return Summary{}, fmt.Errorf("%w: CSV exceeds maximum of %d rows", ErrInvalidCSV, MaxImportRows)
		}

		rows = append(rows, parsedRow{
			number: rowNumber,
			values: values,
		})
	}

	summary := Summary{TotalRows: totalRows}

	for _, row := range rows {
		input, email, rowErr := buildInput(row.values)
		if rowErr != nil {
			if len(summary.Failed) < MaxFailedRecords {
				summary.Failed = append(summary.Failed, FailedRecord{
					Row:   row.number,
					Email: email,
					Error: rowErr.Error(),
				})
			} else {
				summary.TruncatedRecords = true
			}
			continue
		}

		if tracker.Seen(email) {
			if len(summary.SkippedDuplicates) < MaxFailedRecords {
				summary.SkippedDuplicates = append(summary.SkippedDuplicates, SkippedRecord{
					Row:    row.number,
					Email:  email,
					Reason: "duplicate email",
				})
			} else {
				summary.TruncatedRecords = true
			}
			continue
		}

		if _, err := i.accounts.CreateUser(ctx, actor, input); err != nil {
			if errors.Is(err, admin.ErrForbidden) {
				return Summary{}, err
			}
			if len(summary.Failed) < MaxFailedRecords {
				summary.Failed = append(summary.Failed, FailedRecord{
					Row:   row.number,
					Email: email,
					Error: err.Error(),
				})
			} else {
				summary.TruncatedRecords = true
			}
			continue
		}

		tracker.Add(email)
		summary.Imported++
	}

	return summary, nil
}

// listAll pages through the full account list to seed the duplicate tracker.
func (i *CSVImporter) listAll(ctx context.Context, actor admin.Actor) ([]identity.User, error) {
	const pageSize = 100

	var all []identity.User
	for offset := 0; ; offset += pageSize {
		page, err := i.accounts.ListUsers(ctx, actor, identity.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func buildInput(values map[string]string) (admin.CreateUserInput, string, error) {
	rawEmail := strings.TrimSpace(values["email"])
	email, err := identity.NormalizeEmail(rawEmail)
	if err != nil {
		return admin.CreateUserInput{}, rawEmail, fmt.Errorf("email %q is not valid", rawEmail)
	}

	password := values["password"]
	if password == "" {
		password, err = randomPassword()
		if err != nil {
			return admin.CreateUserInput{}, email, err
		}
	}

	return admin.CreateUserInput{
		Email:     email,
		Password:  password,
		FirstName: strings.TrimSpace(values["firstname"]),
		LastName:  strings.TrimSpace(values["lastname"]),
		RoleName:  strings.ToLower(strings.TrimSpace(values["role"])),
	}, email, nil
}

// randomPassword generates an unguessable placeholder credential for rows
// imported without one.
func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating placeholder password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeHeader(header []string) (map[int]string, error) {
	columns := make(map[int]string, len(header))
	seen := map[string]bool{}
	for idx, raw := range header {
		cleaned := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if cleaned == "" {
			continue
		}
		columns[idx] = cleaned
		seen[cleaned] = true
	}

	missing := make([]string, 0)
	for _, column := range requiredColumns {
		if !seen[column] {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrInvalidCSV, strings.Join(missing, ", "))
	}
	return columns, nil
}

func mapRecord(columns map[int]string, record []string) map[string]string {
	values := make(map[string]string, len(columns))
	for idx, column := range columns {
		if idx >= len(record) {
			values[column] = ""
			continue
		}
		values[column] = strings.TrimSpace(record[idx])
	}
	return values
}

func isRowEmpty(values map[string]string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

type duplicateTracker struct {
	known map[string]bool
}

func newDuplicateTracker(existing []identity.User) *duplicateTracker {
	tracker := &duplicateTracker{known: map[string]bool{}}
	for _, user := range existing {
		tracker.Add(user.Email)
	}
	return tracker
}

func (t *duplicateTracker) Seen(email string) bool {
	return t.known[strings.ToLower(strings.TrimSpace(email))]
}

func (t *duplicateTracker) Add(email string) {
	cleaned := strings.ToLower(strings.TrimSpace(email))
	if cleaned == "" {
		return
	}
	t.known[cleaned] = true
}
