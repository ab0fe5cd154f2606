package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionService serves read-only views over the append-only audit log.
type TransactionService struct {
	db *sql.DB
}

// TransactionView is a transaction row rendered for listing, with parties
// shown as usernames.
type TransactionView struct {
	ID          int64     `json:"id"`
	ReferenceID string    `json:"reference_id"`
	Sender      *string   `json:"sender"`
	Receiver    *string   `json:"receiver"`
	Amount      string    `json:"amount"`
	Kind        string    `json:"kind"`
	Remarks     string    `json:"remarks"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{db: db}
}

// AdminListTransactions returns transactions newest first with limit/offset
// paging.
func (ts *TransactionService) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	offset := parseIntParam(r, "offset", 0)

	rows, err := ts.db.QueryContext(r.Context(), `
		SELECT t.id, t.reference_id, s.username, rcv.username, t.amount, t.kind, t.remarks, t.created_at
		FROM transactions t
		LEFT JOIN users s ON s.id = t.sender_id
		LEFT JOIN users rcv ON rcv.id = t.receiver_id
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		log.Printf("[TRANSACTION] Listing failed: %v", err)
		SendErrorResponse(w, "Failed to list transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []TransactionView{}
	for rows.Next() {
		var tv TransactionView
		var amount decimal.Decimal
		if err := rows.Scan(&tv.ID, &tv.ReferenceID, &tv.Sender, &tv.Receiver, &amount, &tv.Kind, &tv.Remarks, &tv.CreatedAt); err != nil {
			log.Printf("[TRANSACTION] Row scan failed: %v", err)
			SendErrorResponse(w, "Failed to list transactions", http.StatusInternalServerError, nil)
			return
		}
		tv.Amount = amount.StringFixed(2)
		transactions = append(transactions, tv)
	}

	SendJSONResponse(w, http.StatusOK, transactions)
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
