package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// ResolveByPhone maps a phone number to the owning user id. Read-only, and
// always called before any wallet lock is taken.
func (s *Service) ResolveByPhone(ctx context.Context, phone string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM users WHERE phone_number = $1", phone).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrReceiverNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("receiver lookup failed: %w", err)
	}
	return id, nil
}
