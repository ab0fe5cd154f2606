package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the spendable balance for one user. A wallet row is created
// together with its user and is only ever mutated under a row lock held by
// the ledger engine. Invariant: balance >= 0 at every committed state.
type Wallet struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int             `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
