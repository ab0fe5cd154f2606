package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/lokanetra/backend/internal/ledger"
	"github.com/lokanetra/backend/internal/money"
)

// WalletService exposes the wallet operations over HTTP. All balance math
// happens in the ledger engine; handlers only decode, validate and render.
type WalletService struct {
	db        *sql.DB
	ledger    *ledger.Service
	validator *ValidationHelper
}

// CreditRequest represents the credit payload
type CreditRequest struct {
	Amount  string `json:"amount" validate:"required" example:"100.00"` // Decimal string, 2 fractional digits
	Remarks string `json:"remarks,omitempty" validate:"omitempty,max=500"`
}

// DebitRequest represents the debit payload
type DebitRequest struct {
	Amount  string `json:"amount" validate:"required" example:"40.00"` // Decimal string, 2 fractional digits
	Remarks string `json:"remarks,omitempty" validate:"omitempty,max=500"`
}

// TransferRequest represents the transfer payload
type TransferRequest struct {
	ToPhoneNumber string `json:"to_phone_number" validate:"required,e164" example:"+2348012345678"` // Receiver phone number
	Amount        string `json:"amount" validate:"required" example:"50.00"`                        // Decimal string, 2 fractional digits
	Remarks       string `json:"remarks,omitempty" validate:"omitempty,max=500"`
}

func NewWalletService(db *sql.DB) *WalletService {
	return &WalletService{
		db:        db,
		ledger:    ledger.NewService(db),
		validator: NewValidationHelper(),
	}
}

// GetBalance returns the caller's current balance as a fixed-point string.
func (ws *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var username string
	var balance string
	err := ws.db.QueryRowContext(r.Context(), `
		SELECT u.username, w.balance
		FROM wallets w
		JOIN users u ON u.id = w.user_id
		WHERE w.user_id = $1`, userID).Scan(&username, &balance)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[WALLET] Balance read failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]string{
		"user":    username,
		"balance": balance,
	})
}

// Credit adds money to the caller's wallet.
func (ws *WalletService) Credit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreditRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	receipt, err := ws.ledger.Credit(r.Context(), userID, amount, req.Remarks)
	if err != nil {
		ws.writeLedgerError(w, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"balance":        money.FormatAmount(receipt.Balance),
		"transaction_id": receipt.TransactionID,
	})
}

// Debit removes money from the caller's wallet.
func (ws *WalletService) Debit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req DebitRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	receipt, err := ws.ledger.Debit(r.Context(), userID, amount, req.Remarks)
	if err != nil {
		ws.writeLedgerError(w, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"balance":        money.FormatAmount(receipt.Balance),
		"transaction_id": receipt.TransactionID,
	})
}

// Transfer moves money from the caller to the user owning the phone number.
func (ws *WalletService) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req TransferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	receipt, err := ws.ledger.Transfer(r.Context(), userID, req.ToPhoneNumber, amount, req.Remarks)
	if err != nil {
		ws.writeLedgerError(w, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"message":               "Transfer successful",
		"debit_transaction_id":  receipt.DebitTransactionID,
		"credit_transaction_id": receipt.CreditTransactionID,
		"sender_balance":        money.FormatAmount(receipt.SenderBalance),
		"receiver_balance":      money.FormatAmount(receipt.ReceiverBalance),
	})
}

// AdminListWallets returns every wallet with its owner.
func (ws *WalletService) AdminListWallets(w http.ResponseWriter, r *http.Request) {
	rows, err := ws.db.QueryContext(r.Context(), `
		SELECT u.username, COALESCE(u.phone_number, ''), w.balance
		FROM wallets w
		JOIN users u ON u.id = w.user_id
		ORDER BY w.id`)
	if err != nil {
		log.Printf("[WALLET] Wallet listing failed: %v", err)
		SendErrorResponse(w, "Failed to list wallets", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	type walletRow struct {
		User        string `json:"user"`
		PhoneNumber string `json:"phone_number"`
		Balance     string `json:"balance"`
	}

	wallets := []walletRow{}
	for rows.Next() {
		var wr walletRow
		if err := rows.Scan(&wr.User, &wr.PhoneNumber, &wr.Balance); err != nil {
			log.Printf("[WALLET] Wallet row scan failed: %v", err)
			SendErrorResponse(w, "Failed to list wallets", http.StatusInternalServerError, nil)
			return
		}
		wallets = append(wallets, wr)
	}

	SendJSONResponse(w, http.StatusOK, wallets)
}

// writeLedgerError maps engine errors onto the HTTP contract. Domain
// rejections are 4xx; lock timeouts are retryable 503; anything else is an
// opaque 500.
func (ws *WalletService) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrSameAccount):
		SendErrorResponse(w, "Cannot transfer to your own wallet", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrReceiverNotFound):
		SendErrorResponse(w, "Receiver not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrWalletNotFound):
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		SendErrorResponse(w, "Wallet busy, retry shortly", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[WALLET] Ledger operation failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}
