package store

import (
	"database/sql"
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"
)

// UpsertAccount inserts or updates an account record.
func (s *Store) UpsertAccount(a connector.Account) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, platform, display_name, phone_handle, is_connected, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform = excluded.platform,
			display_name = excluded.display_name,
			phone_handle = excluded.phone_handle,
			is_connected = excluded.is_connected,
			updated_at = excluded.updated_at`,
		a.ID, a.Platform, a.DisplayName, a.PhoneOrHandle, a.IsConnected, time.Now().Unix())
	return err
}

// SetConnected flips the connected flag for an account.
func (s *Store) SetConnected(accountID string, connected bool) error {
	_, err := s.db.Exec(`UPDATE accounts SET is_connected = ?, updated_at = ? WHERE id = ?`,
		connected, time.Now().Unix(), accountID)
	return err
}

// GetAccount returns an account by ID, or nil when absent.
func (s *Store) GetAccount(id string) (*connector.Account, error) {
	var a connector.Account
	err := s.db.QueryRow(`
		SELECT id, platform, display_name, phone_handle, is_connected
		FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Platform, &a.DisplayName, &a.PhoneOrHandle, &a.IsConnected)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
