package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/infra/storage"
)

// AuditRepo implements storage.AuditRepository using PostgreSQL.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

type auditRow struct {
	ID              string    `db:"id"`
	SessionID       string    `db:"session_id"`
	Source          string    `db:"source"`
	Destination     string    `db:"destination"`
	AmountCurrency  string    `db:"amount_currency"`
	AmountUnits     int64     `db:"amount_units"`
	FeeCurrency     string    `db:"fee_currency"`
	FeeUnits        int64     `db:"fee_units"`
	ValidationState string    `db:"validation_state"`
	ReceiptID       string    `db:"receipt_id"`
	SubmittedAt     time.Time `db:"submitted_at"`
}

func (r auditRow) toDomain() *domain.AuditRecord {
	return &domain.AuditRecord{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Source:          r.Source,
		Destination:     r.Destination,
		Amount:          domain.NewMoney(domain.Currency(r.AmountCurrency), r.AmountUnits),
		Fee:             domain.NewMoney(domain.Currency(r.FeeCurrency), r.FeeUnits),
		ValidationState: domain.ValidationState(r.ValidationState),
		ReceiptID:       r.ReceiptID,
		SubmittedAt:     r.SubmittedAt,
	}
}

// Save stores an audit record.
func (r *AuditRepo) Save(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			id, session_id, source, destination,
			amount_currency, amount_units, fee_currency, fee_units,
			validation_state, receipt_id, submitted_at
		) VALUES (
			:id, :session_id, :source, :destination,
			:amount_currency, :amount_units, :fee_currency, :fee_units,
			:validation_state, :receipt_id, :submitted_at
		)
	`
	row := auditRow{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		Source:          rec.Source,
		Destination:     rec.Destination,
		AmountCurrency:  string(rec.Amount.Currency),
		AmountUnits:     rec.Amount.Units,
		FeeCurrency:     string(rec.Fee.Currency),
		FeeUnits:        rec.Fee.Units,
		ValidationState: string(rec.ValidationState),
		ReceiptID:       rec.ReceiptID,
		SubmittedAt:     rec.SubmittedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	return nil
}

// GetBySession retrieves the audit record for a staging session.
func (r *AuditRepo) GetBySession(ctx context.Context, sessionID string) (*domain.AuditRecord, error) {
	query := `
		SELECT id, session_id, source, destination,
		       amount_currency, amount_units, fee_currency, fee_units,
		       validation_state, receipt_id, submitted_at
		FROM audit_records
		WHERE session_id = $1
	`
	var row auditRow
	err := r.db.GetContext(ctx, &row, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAuditNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return row.toDomain(), nil
}

// List retrieves the most recent audit records.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]*domain.AuditRecord, error) {
	query := `
		SELECT id, session_id, source, destination,
		       amount_currency, amount_units, fee_currency, fee_units,
		       validation_state, receipt_id, submitted_at
		FROM audit_records
		ORDER BY submitted_at DESC
		LIMIT $1
	`
	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	records := make([]*domain.AuditRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// DeleteOlderThan removes audit records submitted before cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_records WHERE submitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit records: %w", err)
	}
	return res.RowsAffected()
}
