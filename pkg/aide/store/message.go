package store

import (
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"
)

const insertMessageSQL = `
	INSERT INTO messages (id, chat_id, account_id, body, from_id, from_name,
		timestamp, is_from_me, has_media, type, ai_response, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id, id) DO UPDATE SET
		body = excluded.body,
		from_name = excluded.from_name,
		has_media = excluded.has_media,
		type = excluded.type`

// CreateMessage persists a message. Idempotent on (chat_id, id) so replayed
// platform events and history refetches do not duplicate rows; the
// ai_response annotation is never overwritten by a refetch.
func (s *Store) CreateMessage(m connector.Message) error {
	_, err := s.db.Exec(insertMessageSQL,
		m.ID, m.ChatID, m.AccountID, m.Body, m.FromID, m.FromName,
		m.Timestamp, m.IsFromMe, m.HasMedia, string(m.Type), m.AIResponse,
		time.Now().Unix())
	return err
}

// BulkCreateMessages persists messages in one transaction.
func (s *Store) BulkCreateMessages(msgs []connector.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertMessageSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, m := range msgs {
		if _, err := stmt.Exec(m.ID, m.ChatID, m.AccountID, m.Body, m.FromID, m.FromName,
			m.Timestamp, m.IsFromMe, m.HasMedia, string(m.Type), m.AIResponse, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateAIResponse annotates a message with the auto-reply text sent for it.
// Keyed on (chat_id, id): message IDs are only unique per chat, so the chat
// must qualify the update or the annotation bleeds into other chats.
func (s *Store) UpdateAIResponse(chatID, messageID, text string) error {
	_, err := s.db.Exec(`UPDATE messages SET ai_response = ? WHERE chat_id = ? AND id = ?`,
		text, chatID, messageID)
	return err
}

const selectMessageSQL = `
	SELECT id, chat_id, account_id, body, from_id, from_name,
		timestamp, is_from_me, has_media, type, ai_response
	FROM messages`

func scanMessages(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]connector.Message, error) {
	var msgs []connector.Message
	for rows.Next() {
		var m connector.Message
		var typ string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.AccountID, &m.Body, &m.FromID, &m.FromName,
			&m.Timestamp, &m.IsFromMe, &m.HasMedia, &typ, &m.AIResponse); err != nil {
			return nil, err
		}
		m.Type = connector.MessageType(typ)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessages returns the latest limit messages for a chat, ascending by
// timestamp.
func (s *Store) ListMessages(chatID string, limit int) ([]connector.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(selectMessageSQL+`
		WHERE chat_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	connector.SortAscending(msgs)
	return msgs, nil
}

// ListRecentMessages returns the latest limit messages for a chat,
// descending by timestamp. Page source for the cross-chat recent merge.
func (s *Store) ListRecentMessages(chatID string, limit int) ([]connector.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(selectMessageSQL+`
		WHERE chat_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessage returns a message by its (chat, ID) key, or nil when absent.
func (s *Store) GetMessage(chatID, id string) (*connector.Message, error) {
	rows, err := s.db.Query(selectMessageSQL+` WHERE chat_id = ? AND id = ?`, chatID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}
