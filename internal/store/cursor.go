package store

import "time"

// Cursor returns the persisted sync cursor.
func (db *DB) Cursor() (*Cursor, error) {
	var c Cursor
	err := db.QueryRow(`SELECT last_rowid, synced_at FROM sync_cursor WHERE id = 1`).
		Scan(&c.LastRowid, &c.SyncedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AdvanceCursor moves the cursor to rowid if it is higher than the stored
// value. The cursor is monotonically non-decreasing; a lower rowid is a no-op.
func (db *DB) AdvanceCursor(rowid int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sync_cursor
		SET last_rowid = MAX(last_rowid, ?),
		    synced_at = CASE WHEN ? > last_rowid THEN ? ELSE synced_at END
		WHERE id = 1`, rowid, rowid, now)
	return err
}
