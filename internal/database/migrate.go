package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Schema statements applied in order at startup. Everything is idempotent so
// the server can be restarted against an existing database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id bigserial PRIMARY KEY,
		username text UNIQUE NOT NULL,
		phone_number text UNIQUE,
		is_admin boolean NOT NULL DEFAULT false,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		id bigserial PRIMARY KEY,
		user_id bigint UNIQUE NOT NULL REFERENCES users(id),
		balance numeric(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version integer NOT NULL DEFAULT 1,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id bigserial PRIMARY KEY,
		reference_id uuid NOT NULL,
		sender_id bigint REFERENCES users(id),
		receiver_id bigint REFERENCES users(id),
		amount numeric(12,2) NOT NULL CHECK (amount > 0),
		kind text NOT NULL CHECK (kind IN ('CREDIT', 'DEBIT')),
		remarks text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions (sender_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_receiver ON transactions (receiver_id)`,
}

// Migrate bootstraps the schema inside one transaction.
func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration begin failed: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration commit failed: %w", err)
	}

	log.Println("Database schema up to date")
	return nil
}
