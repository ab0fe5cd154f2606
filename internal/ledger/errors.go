package ledger

import (
	"errors"

	"github.com/lib/pq"
	"github.com/lokanetra/backend/internal/money"
)

var (
	// ErrInvalidAmount is rejected before any lock is taken.
	ErrInvalidAmount = money.ErrInvalidAmount

	// ErrInsufficientFunds is detected only after the sender's row lock is
	// held; the enclosing transaction rolls back without writing anything.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrReceiverNotFound = errors.New("receiver not found")
	ErrSameAccount      = errors.New("cannot transfer to own wallet")
	ErrWalletNotFound   = errors.New("wallet not found")

	// ErrLockTimeout is retryable: the row lock could not be acquired within
	// the configured bound.
	ErrLockTimeout = errors.New("wallet lock wait timed out")
)

// translateDBError maps Postgres lock_not_available (55P03) onto the
// retryable sentinel; everything else passes through for opaque handling.
func translateDBError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
		return ErrLockTimeout
	}
	return err
}
