package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lokanetra/backend/internal/models"
	"github.com/lokanetra/backend/internal/money"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Receipt is returned by Credit and Debit so callers can render the new
// balance without a second read.
type Receipt struct {
	Balance       decimal.Decimal `json:"balance"`
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
}

// TransferReceipt carries both post-transfer balances and both legs of the
// audit trail.
type TransferReceipt struct {
	SenderBalance       decimal.Decimal `json:"sender_balance"`
	ReceiverBalance     decimal.Decimal `json:"receiver_balance"`
	DebitTransactionID  int64           `json:"debit_transaction_id"`
	CreditTransactionID int64           `json:"credit_transaction_id"`
}

// Service is the wallet ledger engine. Every operation runs as a single
// database transaction: lock the wallet rows FOR UPDATE, validate under the
// lock, mutate balances, append audit rows, commit. Nothing is written
// unless everything is.
type Service struct {
	db                *sql.DB
	lockTimeout       time.Duration
	allowSelfTransfer bool
}

func NewService(db *sql.DB) *Service {
	viper.SetDefault("ledger.lock_timeout", 5*time.Second)
	viper.SetDefault("ledger.allow_self_transfer", false)
	return &Service{
		db:                db,
		lockTimeout:       viper.GetDuration("ledger.lock_timeout"),
		allowSelfTransfer: viper.GetBool("ledger.allow_self_transfer"),
	}
}

// Credit adds amount to the user's wallet and appends one CREDIT row.
func (s *Service) Credit(ctx context.Context, userID int64, amount decimal.Decimal, remarks string) (*Receipt, error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("credit"))
	defer timer.ObserveDuration()

	amount, err := money.ValidateAmount(amount)
	if err != nil {
		return nil, s.fail("credit", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("credit", fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback()

	if err := s.applyLockTimeout(ctx, tx); err != nil {
		return nil, s.fail("credit", err)
	}

	wallet, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, s.fail("credit", err)
	}

	newBalance := wallet.Balance.Add(amount)

	txID, refID, err := s.appendTransaction(ctx, tx, nil, &userID, amount, models.KindCredit, remarks)
	if err != nil {
		return nil, s.fail("credit", err)
	}

	if err := s.updateWalletBalance(ctx, tx, wallet.ID, newBalance, wallet.Version); err != nil {
		return nil, s.fail("credit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail("credit", fmt.Errorf("tx commit failed: %w", err))
	}

	operationsTotal.WithLabelValues("credit", "ok").Inc()
	log.Printf("[LEDGER] CREDIT user=%d amount=%s tx=%d", userID, money.FormatAmount(amount), txID)
	return &Receipt{Balance: newBalance, TransactionID: txID, ReferenceID: refID}, nil
}

// Debit removes amount from the user's wallet if the balance covers it,
// appending one DEBIT row. The balance check happens after the row lock is
// acquired, never before.
func (s *Service) Debit(ctx context.Context, userID int64, amount decimal.Decimal, remarks string) (*Receipt, error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("debit"))
	defer timer.ObserveDuration()

	amount, err := money.ValidateAmount(amount)
	if err != nil {
		return nil, s.fail("debit", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("debit", fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback()

	if err := s.applyLockTimeout(ctx, tx); err != nil {
		return nil, s.fail("debit", err)
	}

	wallet, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, s.fail("debit", err)
	}

	if wallet.Balance.LessThan(amount) {
		return nil, s.fail("debit", ErrInsufficientFunds)
	}

	newBalance := wallet.Balance.Sub(amount)

	txID, refID, err := s.appendTransaction(ctx, tx, &userID, nil, amount, models.KindDebit, remarks)
	if err != nil {
		return nil, s.fail("debit", err)
	}

	if err := s.updateWalletBalance(ctx, tx, wallet.ID, newBalance, wallet.Version); err != nil {
		return nil, s.fail("debit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail("debit", fmt.Errorf("tx commit failed: %w", err))
	}

	operationsTotal.WithLabelValues("debit", "ok").Inc()
	log.Printf("[LEDGER] DEBIT user=%d amount=%s tx=%d", userID, money.FormatAmount(amount), txID)
	return &Receipt{Balance: newBalance, TransactionID: txID, ReferenceID: refID}, nil
}

// Transfer moves amount from the sender to the wallet owned by the phone
// number, writing a DEBIT leg and a CREDIT leg with the same amount and
// remarks. Sum of both balances is unchanged by a committed transfer.
func (s *Service) Transfer(ctx context.Context, senderID int64, receiverPhone string, amount decimal.Decimal, remarks string) (*TransferReceipt, error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("transfer"))
	defer timer.ObserveDuration()

	amount, err := money.ValidateAmount(amount)
	if err != nil {
		return nil, s.fail("transfer", err)
	}

	// Receiver resolution happens before any lock is taken.
	receiverID, err := s.ResolveByPhone(ctx, receiverPhone)
	if err != nil {
		return nil, s.fail("transfer", err)
	}

	if receiverID == senderID && !s.allowSelfTransfer {
		return nil, s.fail("transfer", ErrSameAccount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("transfer", fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback()

	if err := s.applyLockTimeout(ctx, tx); err != nil {
		return nil, s.fail("transfer", err)
	}

	if receiverID == senderID {
		receipt, err := s.selfTransfer(ctx, tx, senderID, receiverID, amount, remarks)
		if err != nil {
			return nil, s.fail("transfer", err)
		}
		operationsTotal.WithLabelValues("transfer", "ok").Inc()
		return receipt, nil
	}

	// Lock both wallets in ascending user-id order regardless of which side
	// is sending. This ordering is the sole deadlock-avoidance invariant.
	firstID, secondID := senderID, receiverID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	first, err := s.lockWallet(ctx, tx, firstID)
	if err != nil {
		return nil, s.fail("transfer", err)
	}
	second, err := s.lockWallet(ctx, tx, secondID)
	if err != nil {
		return nil, s.fail("transfer", err)
	}

	senderWallet, receiverWallet := first, second
	if firstID != senderID {
		senderWallet, receiverWallet = second, first
	}

	// Re-check under both locks.
	if senderWallet.Balance.LessThan(amount) {
		return nil, s.fail("transfer", ErrInsufficientFunds)
	}

	senderBalance := senderWallet.Balance.Sub(amount)
	receiverBalance := receiverWallet.Balance.Add(amount)

	debitID, _, err := s.appendTransaction(ctx, tx, &senderID, &receiverID, amount, models.KindDebit, remarks)
	if err != nil {
		return nil, s.fail("transfer", err)
	}
	creditID, _, err := s.appendTransaction(ctx, tx, &senderID, &receiverID, amount, models.KindCredit, remarks)
	if err != nil {
		return nil, s.fail("transfer", err)
	}

	if err := s.updateWalletBalance(ctx, tx, senderWallet.ID, senderBalance, senderWallet.Version); err != nil {
		return nil, s.fail("transfer", err)
	}
	if err := s.updateWalletBalance(ctx, tx, receiverWallet.ID, receiverBalance, receiverWallet.Version); err != nil {
		return nil, s.fail("transfer", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail("transfer", fmt.Errorf("tx commit failed: %w", err))
	}

	operationsTotal.WithLabelValues("transfer", "ok").Inc()
	log.Printf("[LEDGER] TRANSFER sender=%d receiver=%d amount=%s debit_tx=%d credit_tx=%d",
		senderID, receiverID, money.FormatAmount(amount), debitID, creditID)
	return &TransferReceipt{
		SenderBalance:       senderBalance,
		ReceiverBalance:     receiverBalance,
		DebitTransactionID:  debitID,
		CreditTransactionID: creditID,
	}, nil
}

// selfTransfer handles the sender == receiver case when the strict policy is
// disabled. Net balance change is zero; both audit legs are still written.
func (s *Service) selfTransfer(ctx context.Context, tx *sql.Tx, senderID, receiverID int64, amount decimal.Decimal, remarks string) (*TransferReceipt, error) {
	wallet, err := s.lockWallet(ctx, tx, senderID)
	if err != nil {
		return nil, err
	}

	if wallet.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	debitID, _, err := s.appendTransaction(ctx, tx, &senderID, &receiverID, amount, models.KindDebit, remarks)
	if err != nil {
		return nil, err
	}
	creditID, _, err := s.appendTransaction(ctx, tx, &senderID, &receiverID, amount, models.KindCredit, remarks)
	if err != nil {
		return nil, err
	}

	if err := s.updateWalletBalance(ctx, tx, wallet.ID, wallet.Balance, wallet.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return &TransferReceipt{
		SenderBalance:       wallet.Balance,
		ReceiverBalance:     wallet.Balance,
		DebitTransactionID:  debitID,
		CreditTransactionID: creditID,
	}, nil
}

// applyLockTimeout bounds FOR UPDATE waits for the current transaction.
// A timeout surfaces as the retryable ErrLockTimeout.
func (s *Service) applyLockTimeout(ctx context.Context, tx *sql.Tx) error {
	if s.lockTimeout <= 0 {
		return nil
	}
	// SET LOCAL does not accept bind parameters.
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("lock timeout setup failed: %w", err)
	}
	return nil
}

func (s *Service) lockWallet(ctx context.Context, tx *sql.Tx, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, balance, version, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.Version, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("wallet lock failed: %w", err)
	}
	return &w, nil
}

func (s *Service) appendTransaction(ctx context.Context, tx *sql.Tx, senderID, receiverID *int64, amount decimal.Decimal, kind, remarks string) (int64, string, error) {
	referenceID := uuid.NewString()
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO transactions (reference_id, sender_id, receiver_id, amount, kind, remarks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		referenceID, senderID, receiverID, amount, kind, remarks, time.Now()).Scan(&id)
	if err != nil {
		return 0, "", fmt.Errorf("transaction append failed: %w", err)
	}
	return id, referenceID, nil
}

func (s *Service) updateWalletBalance(ctx context.Context, tx *sql.Tx, walletID int64, newBalance decimal.Decimal, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), walletID, version)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for wallet %d", walletID)
	}
	return nil
}

func (s *Service) fail(op string, err error) error {
	err = translateDBError(err)
	operationsTotal.WithLabelValues(op, outcomeLabel(err)).Inc()
	return err
}
