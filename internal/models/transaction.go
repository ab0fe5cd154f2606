package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds. A transfer writes two rows, a DEBIT leg and a CREDIT
// leg, sharing amount and remarks but with distinct ids.
const (
	KindCredit = "CREDIT"
	KindDebit  = "DEBIT"
)

// Transaction is an immutable audit record of one balance-changing event.
// Rows are append-only: never updated, never deleted.
type Transaction struct {
	ID          int64           `json:"id" db:"id"`
	ReferenceID string          `json:"reference_id" db:"reference_id"`
	SenderID    *int64          `json:"sender_id,omitempty" db:"sender_id"`     // nil for a pure credit
	ReceiverID  *int64          `json:"receiver_id,omitempty" db:"receiver_id"` // nil for a pure debit
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Kind        string          `json:"kind" db:"kind"` // CREDIT or DEBIT
	Remarks     string          `json:"remarks" db:"remarks"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
