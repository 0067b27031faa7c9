package domain

import "time"

// AuditRecord is the durable trace of an executed transfer. The pending
// transaction is consumed, not destroyed, by execution; this is what
// remains of it.
type AuditRecord struct {
	ID              string          `db:"id"`
	SessionID       string          `db:"session_id"`
	Source          string          `db:"source"`
	Destination     string          `db:"destination"`
	Amount          Money           `db:"-"`
	Fee             Money           `db:"-"`
	ValidationState ValidationState `db:"validation_state"`
	ReceiptID       string          `db:"receipt_id"`
	SubmittedAt     time.Time       `db:"submitted_at"`
}
