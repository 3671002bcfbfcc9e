package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsConfig configures the Google Sheets ledger adapter.
type SheetsConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON []byte
	APIKey          string
}

// Sheets is a Ledger backed by a shared Google Sheets spreadsheet. Each
// revocation is one appended row [id, reason, revoked_at]; the transaction
// reference is the updated range reported by the append call. Rows are never
// deleted, which keeps revocation provable after the fact.
type Sheets struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// NewSheets creates a Sheets ledger. Exactly one credential source from the
// config is used, preferring inline JSON, then a credentials file, then an
// API key.
func NewSheets(ctx context.Context, cfg SheetsConfig, logger *slog.Logger) (*Sheets, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Revocations"
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("no Google Sheets credentials configured")
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Sheets{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		logger:        logger.With(slog.String("component", "sheets_ledger")),
	}, nil
}

// Append records a revocation row on the ledger sheet.
func (s *Sheets) Append(ctx context.Context, id, reason string) (string, error) {
	revoked, err := s.IsRevoked(ctx, id)
	if err != nil {
		return "", err
	}
	if revoked {
		s.logger.DebugContext(ctx, "ledger append skipped, id already revoked",
			slog.String("license_id", id),
		)
		return fmt.Sprintf("%s!%s", s.sheetName, id), nil
	}

	row := &sheets.ValueRange{
		Values: [][]interface{}{{
			id,
			reason,
			time.Now().UTC().Format(time.RFC3339),
		}},
	}

	resp, err := s.service.Spreadsheets.Values.
		Append(s.spreadsheetID, s.sheetName+"!A:C", row).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append revocation row: %w", err)
	}

	txRef := resp.Updates.UpdatedRange
	s.logger.InfoContext(ctx, "revocation appended to ledger",
		slog.String("license_id", id),
		slog.String("reason", reason),
		slog.String("tx_ref", txRef),
	)
	return txRef, nil
}

// IsRevoked scans the id column of the ledger sheet for a tombstone.
func (s *Sheets) IsRevoked(ctx context.Context, id string) (bool, error) {
	resp, err := s.service.Spreadsheets.Values.
		Get(s.spreadsheetID, s.sheetName+"!A:A").
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("read ledger id column: %w", err)
	}

	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if cell, ok := row[0].(string); ok && cell == id {
			return true, nil
		}
	}
	return false, nil
}
