package datastore

import (
	"context"
	"fmt"
)

// LoginRepository implements the datastore's two operations: idempotent
// login upserts and client-id lookups.
type LoginRepository struct {
	db DB
}

// NewLoginRepository wraps a DB with the login-record operations.
func NewLoginRepository(db DB) *LoginRepository {
	return &LoginRepository{db: db}
}

// StoreLogin records that userID has authenticated to clientID. Idempotent:
// repeated calls for the same pair update created_at rather than erroring
// or duplicating a row.
func (r *LoginRepository) StoreLogin(ctx context.Context, userID, clientID string) error {
	const q = `
		INSERT INTO user_login_records (user_id, client_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id, client_id) DO UPDATE SET created_at = now()
	`
	if _, err := r.db.Exec(ctx, q, userID, clientID); err != nil {
		return fmt.Errorf("datastore: store login: %w", err)
	}
	return nil
}

// FetchClientIDs returns every client_id userID has logged into. Order is
// unspecified and duplicates never appear.
func (r *LoginRepository) FetchClientIDs(ctx context.Context, userID string) ([]string, error) {
	const q = `SELECT client_id FROM user_login_records WHERE user_id = $1`

	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("datastore: fetch client ids: %w", err)
	}
	defer rows.Close()

	var clientIDs []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("datastore: scan client id: %w", err)
		}
		clientIDs = append(clientIDs, cid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: fetch client ids: %w", err)
	}
	return clientIDs, nil
}
