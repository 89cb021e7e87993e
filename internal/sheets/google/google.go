package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	applog "splitledger/internal/log"
	ports "splitledger/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID string
	// SheetName is the base tab name; the event year is prefixed to it.
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// Client appends audit rows to one tab per year ("2024 Ledger").
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	mu   sync.Mutex
	seen map[string]map[string]struct{} // sheet -> event ids already written
}

var _ ports.AuditWriter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Ledger"
	}

	svc, err := newSheetsService(ctx, cfg.ServiceAccountJSON, cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, spreadsheetID, base), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, base string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     base,
		seen:          make(map[string]map[string]struct{}),
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when neither inline JSON nor a
// file path is configured.
func newSheetsService(ctx context.Context, serviceAccountJSON, serviceAccountFile string) (*gsheet.Service, error) {
	serviceAccountJSON = strings.TrimSpace(serviceAccountJSON)
	serviceAccountFile = strings.TrimSpace(serviceAccountFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// AppendAudit appends r to the tab of the event's year. Events already
// present in column A are skipped, so redelivered messages are harmless.
func (c *Client) AppendAudit(ctx context.Context, r ports.AuditRow) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(r.EventID) == "" {
		return "", errors.New("audit row without event id")
	}
	sheet := yearPrefixedName(c.sheetBase, r.OccurredAt.Year())

	seen, err := c.seenIDs(ctx, sheet)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	_, dup := seen[r.EventID]
	c.mu.Unlock()
	if dup {
		slog.DebugContext(ctx, "Audit row already mirrored", applog.FieldEventID, r.EventID, "sheet", sheet)
		return "", nil
	}

	rows := [][]any{r.Values()}
	if len(seen) == 0 {
		rows = [][]any{ports.Header, r.Values()}
	}
	rng := fmt.Sprintf("%s!A:M", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	c.mu.Lock()
	seen[r.EventID] = struct{}{}
	c.mu.Unlock()

	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// seenIDs loads the event ids of a tab once per process.
func (c *Client) seenIDs(ctx context.Context, sheet string) (map[string]struct{}, error) {
	c.mu.Lock()
	ids, ok := c.seen[sheet]
	c.mu.Unlock()
	if ok {
		return ids, nil
	}

	col, err := c.readCol(ctx, sheet, "A:A")
	if err != nil {
		return nil, fmt.Errorf("load mirrored events: %w", err)
	}
	ids = eventIDSet(col)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.seen[sheet]; ok {
		return existing, nil
	}
	c.seen[sheet] = ids
	return ids, nil
}

func (c *Client) readCol(ctx context.Context, sheetName, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		if isMissingSheet(err) {
			return nil, fmt.Errorf("sheet %q does not exist in the spreadsheet: %w", sheetName, err)
		}
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	var out []string
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		out = append(out, strings.TrimSpace(fmt.Sprint(row[0])))
	}
	return out, nil
}

func isMissingSheet(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unable to parse range")
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
