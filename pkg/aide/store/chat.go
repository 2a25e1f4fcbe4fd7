package store

import (
	"database/sql"
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"
)

// UpsertChat inserts or updates a chat from a bulk fetch. Platform-reported
// unread counts overwrite whatever the incremental path accumulated.
func (s *Store) UpsertChat(c connector.Chat) error {
	_, err := s.db.Exec(`
		INSERT INTO chats (id, account_id, name, is_group, unread_count,
			last_message_body, last_message_at, last_message_from_me, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			name = excluded.name,
			is_group = excluded.is_group,
			unread_count = excluded.unread_count,
			last_message_body = excluded.last_message_body,
			last_message_at = excluded.last_message_at,
			last_message_from_me = excluded.last_message_from_me,
			updated_at = excluded.updated_at`,
		c.ID, c.AccountID, c.Name, c.IsGroup, c.UnreadCount,
		c.LastMessageBody, c.LastMessageTimestamp, c.LastMessageFromMe, time.Now().Unix())
	return err
}

// BulkUpsertChats upserts chats in one transaction.
func (s *Store) BulkUpsertChats(chats []connector.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`
		INSERT INTO chats (id, account_id, name, is_group, unread_count,
			last_message_body, last_message_at, last_message_from_me, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			name = excluded.name,
			is_group = excluded.is_group,
			unread_count = excluded.unread_count,
			last_message_body = excluded.last_message_body,
			last_message_at = excluded.last_message_at,
			last_message_from_me = excluded.last_message_from_me,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chats {
		if _, err := stmt.Exec(c.ID, c.AccountID, c.Name, c.IsGroup, c.UnreadCount,
			c.LastMessageBody, c.LastMessageTimestamp, c.LastMessageFromMe, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TouchChat upserts the parent chat for one ingested message. Last-message
// fields are always overwritten; the unread count increments by 1 only for
// inbound (not-from-self) messages. An empty resolved name never clobbers a
// previously known one.
func (s *Store) TouchChat(chatID, accountID, name string, isGroup bool, m connector.Message) error {
	inc := 1
	if m.IsFromMe {
		inc = 0
	}
	_, err := s.db.Exec(`
		INSERT INTO chats (id, account_id, name, is_group, unread_count,
			last_message_body, last_message_at, last_message_from_me, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			is_group = excluded.is_group,
			unread_count = chats.unread_count + ?,
			last_message_body = excluded.last_message_body,
			last_message_at = excluded.last_message_at,
			last_message_from_me = excluded.last_message_from_me,
			updated_at = excluded.updated_at`,
		chatID, accountID, name, isGroup, inc,
		m.Body, m.Timestamp, m.IsFromMe, time.Now().Unix(), inc)
	return err
}

// ResetUnread zeroes the unread count (after markAsRead).
func (s *Store) ResetUnread(chatID string) error {
	_, err := s.db.Exec(`UPDATE chats SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), chatID)
	return err
}

// GetChat returns a chat by ID, or nil when absent.
func (s *Store) GetChat(id string) (*connector.Chat, error) {
	var c connector.Chat
	err := s.db.QueryRow(`
		SELECT id, account_id, name, is_group, unread_count,
			last_message_body, last_message_at, last_message_from_me
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.AccountID, &c.Name, &c.IsGroup, &c.UnreadCount,
			&c.LastMessageBody, &c.LastMessageTimestamp, &c.LastMessageFromMe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns up to limit chats for an account, most recently active
// first.
func (s *Store) ListChats(accountID string, limit int) ([]connector.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, account_id, name, is_group, unread_count,
			last_message_body, last_message_at, last_message_from_me
		FROM chats
		WHERE account_id = ?
		ORDER BY last_message_at DESC
		LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []connector.Chat
	for rows.Next() {
		var c connector.Chat
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.IsGroup, &c.UnreadCount,
			&c.LastMessageBody, &c.LastMessageTimestamp, &c.LastMessageFromMe); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}
