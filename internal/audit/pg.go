package audit

import (
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/internal/errpolicy"
	"main/internal/lifecycle"
	"main/internal/reconcile"
	"main/pkg/conn"
)

// PGStore persists run artifacts into Postgres. It is optional wiring; runs
// without a DSN keep artifacts on the structured log only.
type PGStore struct {
	client *conn.Client
}

type errorRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"index"`
	TimestampUTC time.Time
	RequestID    *int
	Code         *int
	Message      string
	Disposition  string
	PolicyAction string
	Blocking     bool
	Reason       string
}

func (errorRecord) TableName() string { return "api_error_rows" }

type transitionRecord struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         string `gorm:"index"`
	TimestampUTC  time.Time
	OrderID       int
	PermID        int
	Symbol        string
	EventType     string
	RawStatus     string
	PreviousState string
	NextState     string
	Allowed       bool
	Reason        string
}

func (transitionRecord) TableName() string { return "order_transition_rows" }

type ledgerRecord struct {
	ID               uint   `gorm:"primaryKey"`
	RunID            string `gorm:"index"`
	CanonicalKey     string `gorm:"index"`
	OrderID          *int
	PermID           *int
	Account          string
	Symbol           string
	SecurityType     string
	Action           string
	OrderType        string
	Status           string
	TotalQuantity    float64
	FilledQuantity   float64
	AverageFillPrice *float64
	ExecutionCount   int
	Commission       *float64
	Sources          string
}

func (ledgerRecord) TableName() string { return "order_ledger_rows" }

type diagnosticRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"index"`
	Kind         string
	CanonicalKey string
	Message      string
}

func (diagnosticRecord) TableName() string { return "reconcile_diagnostic_rows" }

// NewPGStore connects and migrates the artifact tables.
func NewPGStore(dsn string) (*PGStore, error) {
	client, err := conn.New(conn.Option{ConnString: dsn})
	if err != nil {
		return nil, errors.Wrap(err, "connect audit store")
	}
	if err := client.DB().AutoMigrate(
		&errorRecord{}, &transitionRecord{}, &ledgerRecord{}, &diagnosticRecord{},
	); err != nil {
		return nil, errors.Wrap(err, "migrate audit tables")
	}
	return &PGStore{client: client}, nil
}

func (s *PGStore) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

// SaveErrorRows persists the normalized error-classification rows of one run.
func (s *PGStore) SaveErrorRows(runID string, rows []errpolicy.NormalizationRow) error {
	if s == nil || len(rows) == 0 {
		return nil
	}
	records := make([]errorRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, errorRecord{
			RunID:        runID,
			TimestampUTC: row.TimestampUTC,
			RequestID:    row.ID,
			Code:         row.Code,
			Message:      row.Message,
			Disposition:  row.Disposition.String(),
			PolicyAction: row.PolicyAction.String(),
			Blocking:     row.Blocking,
			Reason:       row.Reason,
		})
	}
	return s.create(&records)
}

// SaveTransitions persists one batch of order lifecycle transitions.
func (s *PGStore) SaveTransitions(runID string, rows []lifecycle.TransitionRow) error {
	if s == nil || len(rows) == 0 {
		return nil
	}
	records := make([]transitionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, transitionRecord{
			RunID:         runID,
			TimestampUTC:  row.TimestampUTC,
			OrderID:       row.OrderID,
			PermID:        row.PermID,
			Symbol:        row.Symbol,
			EventType:     row.EventType,
			RawStatus:     row.RawStatus,
			PreviousState: row.PreviousState.String(),
			NextState:     row.NextState.String(),
			Allowed:       row.Allowed,
			Reason:        row.Reason,
		})
	}
	return s.create(&records)
}

// SaveReconciliation persists the canonical ledger and its diagnostics.
// Commission stays null; an external enrichment job fills it.
func (s *PGStore) SaveReconciliation(runID string, result reconcile.Result) error {
	if s == nil {
		return nil
	}

	if len(result.Ledger) > 0 {
		records := make([]ledgerRecord, 0, len(result.Ledger))
		for _, row := range result.Ledger {
			records = append(records, ledgerRecord{
				RunID:            runID,
				CanonicalKey:     row.CanonicalKey,
				OrderID:          row.OrderID,
				PermID:           row.PermID,
				Account:          row.Account,
				Symbol:           row.Symbol,
				SecurityType:     row.SecurityType,
				Action:           row.Action,
				OrderType:        row.OrderType,
				Status:           row.Status,
				TotalQuantity:    row.TotalQuantity,
				FilledQuantity:   row.FilledQuantity,
				AverageFillPrice: row.AverageFillPrice,
				ExecutionCount:   row.ExecutionCount,
				Commission:       row.Commission,
				Sources:          joinSources(row.Sources),
			})
		}
		if err := s.create(&records); err != nil {
			return err
		}
	}

	if len(result.Diagnostics) > 0 {
		records := make([]diagnosticRecord, 0, len(result.Diagnostics))
		for _, diag := range result.Diagnostics {
			records = append(records, diagnosticRecord{
				RunID:        runID,
				Kind:         diag.Kind,
				CanonicalKey: diag.CanonicalKey,
				Message:      diag.Message,
			})
		}
		if err := s.create(&records); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) create(records any) error {
	return s.client.DB().Session(&gorm.Session{CreateBatchSize: 200}).Create(records).Error
}

func joinSources(sources []string) string {
	out := ""
	for i, source := range sources {
		if i > 0 {
			out += ","
		}
		out += source
	}
	return out
}
