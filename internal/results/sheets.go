package results

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// SheetsConfig configures the Google Sheets write-back.
type SheetsConfig struct {
	CredentialsFile string
	SpreadsheetID   string
	// Tab is the worksheet name. Defaults to "results".
	Tab string
	// Options are appended to the client options, e.g. a test endpoint.
	Options []option.ClientOption
}

// SheetsWriter mirrors result sheets into a Google spreadsheet tab.
type SheetsWriter struct {
	srv           *sheetsv4.Service
	spreadsheetID string
	tab           string
}

// NewSheetsWriter creates a writer authenticated with a service account.
func NewSheetsWriter(ctx context.Context, cfg SheetsConfig) (*SheetsWriter, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	if cfg.Tab == "" {
		cfg.Tab = "results"
	}

	opts := []option.ClientOption{option.WithScopes(sheetsv4.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account json: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.Options...)

	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsWriter{srv: srv, spreadsheetID: cfg.SpreadsheetID, tab: cfg.Tab}, nil
}

// Write replaces the tab contents with the sheet.
func (w *SheetsWriter) Write(ctx context.Context, s Sheet) error {
	if _, err := w.srv.Spreadsheets.Values.Clear(w.spreadsheetID, w.tab, &sheetsv4.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", w.tab, err)
	}

	rows := make([][]any, 0, len(s.Rows)+1)
	rows = append(rows, toValues(Headers))
	for _, r := range s.Rows {
		rows = append(rows, toValues(r.Cells()))
	}

	vr := &sheetsv4.ValueRange{Values: rows}
	if _, err := w.srv.Spreadsheets.Values.Update(w.spreadsheetID, w.tab+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", w.tab, err)
	}
	return nil
}

func toValues(cells []string) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}
