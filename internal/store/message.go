package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on guid).
// On conflict only the mutable fields are touched: text and the read/delivered
// timestamps. Rowid, direction, counterpart, primary timestamp and the
// attachment flag never change once stored.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (guid, src_rowid, text, handle_id, is_from_me, date, date_read, date_delivered, chat_id, has_attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			text = excluded.text,
			date_read = excluded.date_read,
			date_delivered = excluded.date_delivered,
			updated_at = excluded.updated_at`,
		m.GUID, m.SrcRowid, m.Text, m.HandleID, m.IsFromMe, m.Date, m.DateRead, m.DateDelivered, m.ChatID, m.HasAttachments, now, now)
	return err
}

// GetMessage returns a single message by guid, or nil if absent.
func (db *DB) GetMessage(guid string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, guid, src_rowid, text, handle_id, is_from_me, date, date_read, date_delivered, chat_id, has_attachments
		FROM messages WHERE guid = ?`, guid).
		Scan(&m.ID, &m.GUID, &m.SrcRowid, &m.Text, &m.HandleID, &m.IsFromMe, &m.Date, &m.DateRead, &m.DateDelivered, &m.ChatID, &m.HasAttachments)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessagesForHandle returns messages exchanged with a counterpart using
// keyset pagination by timestamp, newest first.
func (db *DB) MessagesForHandle(handle string, limit int, beforeTs int64) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, guid, src_rowid, text, handle_id, is_from_me, date, date_read, date_delivered, chat_id, has_attachments
		FROM messages
		WHERE handle_id = ? AND date < ?
		ORDER BY date DESC
		LIMIT ?`, handle, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.GUID, &m.SrcRowid, &m.Text, &m.HandleID, &m.IsFromMe, &m.Date, &m.DateRead, &m.DateDelivered, &m.ChatID, &m.HasAttachments); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastContactedAt returns the timestamp of the most recent message exchanged
// with the handle. The bool is false when no message exists.
func (db *DB) LastContactedAt(handle string) (int64, bool, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MAX(date) FROM messages WHERE handle_id = ?`, handle).Scan(&ts)
	if err != nil {
		return 0, false, err
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// LastContactedAtBulk returns last-contact timestamps for many handles at
// once. Handles with no messages are absent from the result map.
func (db *DB) LastContactedAtBulk(handles []string) (map[string]int64, error) {
	result := make(map[string]int64, len(handles))
	if len(handles) == 0 {
		return result, nil
	}
	placeholders := strings.Repeat("?,", len(handles)-1) + "?"
	args := make([]any, len(handles))
	for i, h := range handles {
		args[i] = h
	}
	rows, err := db.Query(fmt.Sprintf(`
		SELECT handle_id, MAX(date) FROM messages
		WHERE handle_id IN (%s)
		GROUP BY handle_id`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var handle string
		var ts int64
		if err := rows.Scan(&handle, &ts); err != nil {
			return nil, err
		}
		result[handle] = ts
	}
	return result, rows.Err()
}

// Extent returns the min/max stored src rowid and the total message count.
// A zero-count extent has MinRowid and MaxRowid both 0.
func (db *DB) Extent() (*Extent, error) {
	var minRowid, maxRowid sql.NullInt64
	var count int64
	err := db.QueryRow(`SELECT MIN(src_rowid), MAX(src_rowid), COUNT(*) FROM messages`).
		Scan(&minRowid, &maxRowid, &count)
	if err != nil {
		return nil, err
	}
	return &Extent{
		MinRowid: minRowid.Int64,
		MaxRowid: maxRowid.Int64,
		Count:    count,
	}, nil
}

// PurgeAll deletes every message and attachment and resets the sync cursor,
// all in one transaction.
func (db *DB) PurgeAll() (*PurgeResult, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM attachments`)
	if err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	atts, _ := res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	msgs, _ := res.RowsAffected()

	if _, err := tx.Exec(`UPDATE sync_cursor SET last_rowid = 0, synced_at = 0 WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("reset cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return &PurgeResult{DeletedMessages: msgs, DeletedAttachments: atts}, nil
}
