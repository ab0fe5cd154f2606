package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWalletService(t *testing.T) (*WalletService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	viper.Set("ledger.lock_timeout", 0)
	viper.Set("ledger.allow_self_transfer", false)

	return NewWalletService(db), mock, func() { db.Close() }
}

func authedRequest(method, target string, body *bytes.Buffer, userID int64) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	r := httptest.NewRequest(method, target, body)
	return r.WithContext(context.WithValue(r.Context(), "userID", userID))
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func expectWalletLock(mock sqlmock.Sqlmock, userID, walletID int64, balance string, version int) {
	mock.ExpectQuery("SELECT id, user_id, balance, version, updated_at").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version", "updated_at"}).
			AddRow(walletID, userID, balance, version, time.Now()))
}

func TestWalletService_GetBalance(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	t.Run("balance as fixed-point string", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.username, w.balance").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"username", "balance"}).
				AddRow("user_+2348012345678", "100.00"))

		w := httptest.NewRecorder()
		service.GetBalance(w, authedRequest("GET", "/wallet/balance", nil, 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "100.00", resp["balance"])
		assert.Equal(t, "user_+2348012345678", resp["user"])
	})

	t.Run("missing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.username, w.balance").
			WithArgs(int64(9)).
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		service.GetBalance(w, authedRequest("GET", "/wallet/balance", nil, 9))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWalletService_Credit(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()
		expectWalletLock(mock, 1, 10, "100.00", 1)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		service.Credit(w, authedRequest("POST", "/wallet/credit",
			jsonBody(t, CreditRequest{Amount: "25.00", Remarks: "topup"}), 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "125.00", resp["balance"])
		assert.Equal(t, float64(42), resp["transaction_id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amounts leave no trace", func(t *testing.T) {
		for _, amount := range []string{"0.00", "-5.00"} {
			w := httptest.NewRecorder()
			service.Credit(w, authedRequest("POST", "/wallet/credit",
				jsonBody(t, CreditRequest{Amount: amount}), 1))

			assert.Equal(t, http.StatusBadRequest, w.Code, amount)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sub-cent precision rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		service.Credit(w, authedRequest("POST", "/wallet/credit",
			jsonBody(t, CreditRequest{Amount: "1.005"}), 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		service.Credit(w, authedRequest("POST", "/wallet/credit",
			bytes.NewBuffer([]byte(`{"amount":"5.00","extra":true}`)), 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWalletService_Debit(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()
		expectWalletLock(mock, 1, 10, "100.00", 1)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(43))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		service.Debit(w, authedRequest("POST", "/wallet/debit",
			jsonBody(t, DebitRequest{Amount: "40.00"}), 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "60.00", resp["balance"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		mock.ExpectBegin()
		expectWalletLock(mock, 1, 10, "60.00", 2)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.Debit(w, authedRequest("POST", "/wallet/debit",
			jsonBody(t, DebitRequest{Amount: "100.00"}), 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "Insufficient funds", resp.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Transfer(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	t.Run("successful transfer", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM users WHERE phone_number").
			WithArgs("+2348000000002").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		mock.ExpectBegin()
		expectWalletLock(mock, 1, 10, "50.00", 1)
		expectWalletLock(mock, 2, 20, "10.00", 1)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(102))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		service.Transfer(w, authedRequest("POST", "/wallet/transfer",
			jsonBody(t, TransferRequest{ToPhoneNumber: "+2348000000002", Amount: "50.00", Remarks: "rent"}), 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "Transfer successful", resp["message"])
		assert.Equal(t, "0.00", resp["sender_balance"])
		assert.Equal(t, "60.00", resp["receiver_balance"])
		assert.Equal(t, float64(101), resp["debit_transaction_id"])
		assert.Equal(t, float64(102), resp["credit_transaction_id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("receiver not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM users WHERE phone_number").
			WithArgs("+2348099999999").
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		service.Transfer(w, authedRequest("POST", "/wallet/transfer",
			jsonBody(t, TransferRequest{ToPhoneNumber: "+2348099999999", Amount: "5.00"}), 1))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transfer to self rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM users WHERE phone_number").
			WithArgs("+2348000000001").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		w := httptest.NewRecorder()
		service.Transfer(w, authedRequest("POST", "/wallet/transfer",
			jsonBody(t, TransferRequest{ToPhoneNumber: "+2348000000001", Amount: "5.00"}), 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid amount skips receiver lookup", func(t *testing.T) {
		w := httptest.NewRecorder()
		service.Transfer(w, authedRequest("POST", "/wallet/transfer",
			jsonBody(t, TransferRequest{ToPhoneNumber: "+2348000000002", Amount: "-5.00"}), 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_AdminListWallets(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	mock.ExpectQuery("SELECT u.username, COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"username", "phone_number", "balance"}).
			AddRow("user_+2348000000001", "+2348000000001", "50.00").
			AddRow("user_+2348000000002", "+2348000000002", "10.00"))

	w := httptest.NewRecorder()
	service.AdminListWallets(w, authedRequest("GET", "/wallet/admin/wallets", nil, 1))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Len(t, resp, 2)
	assert.Equal(t, "50.00", resp[0]["balance"])
}
