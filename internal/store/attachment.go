package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertAttachment inserts or updates attachment metadata (idempotent on
// guid). Payload state (local_path) and error state are owned by
// SetAttachmentPayload / SetAttachmentError and never touched here.
func (db *DB) UpsertAttachment(a *Attachment) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO attachments (guid, message_guid, filename, mime_type, transfer_name, total_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			filename = excluded.filename,
			mime_type = excluded.mime_type,
			transfer_name = excluded.transfer_name,
			total_bytes = excluded.total_bytes,
			updated_at = excluded.updated_at`,
		a.GUID, a.MessageGUID, a.Filename, a.MimeType, a.TransferName, a.TotalBytes, now, now)
	return err
}

// GetAttachment returns a single attachment by guid, or nil if absent.
func (db *DB) GetAttachment(guid string) (*Attachment, error) {
	var a Attachment
	err := db.QueryRow(`
		SELECT id, guid, message_guid, filename, mime_type, transfer_name, total_bytes, local_path, error_reason, error_details
		FROM attachments WHERE guid = ?`, guid).
		Scan(&a.ID, &a.GUID, &a.MessageGUID, &a.Filename, &a.MimeType, &a.TransferName, &a.TotalBytes, &a.LocalPath, &a.ErrorReason, &a.ErrorDetails)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAttachmentPayload records that payload bytes were durably written to
// localPath. Any prior transfer error is cleared: local_path and error fields
// are mutually exclusive.
func (db *DB) SetAttachmentPayload(guid, localPath string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE attachments
		SET local_path = ?, error_reason = NULL, error_details = NULL, updated_at = ?
		WHERE guid = ?`, localPath, now, guid)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("attachment %s not found", guid)
	}
	return nil
}

// SetAttachmentError records a transfer error reported by the remote source.
// local_path is left untouched: a previously received payload stays valid.
func (db *DB) SetAttachmentError(guid, reason, details string) error {
	now := time.Now().UnixMilli()
	var detailsVal any
	if details != "" {
		detailsVal = details
	}
	res, err := db.Exec(`
		UPDATE attachments
		SET error_reason = ?, error_details = ?, updated_at = ?
		WHERE guid = ?`, reason, detailsVal, now, guid)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("attachment %s not found", guid)
	}
	return nil
}

// FailedAttachments returns attachments whose transfer failed, most recently
// updated first.
func (db *DB) FailedAttachments(limit int) ([]Attachment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, guid, message_guid, filename, mime_type, transfer_name, total_bytes, local_path, error_reason, error_details
		FROM attachments
		WHERE error_reason IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.GUID, &a.MessageGUID, &a.Filename, &a.MimeType, &a.TransferName, &a.TotalBytes, &a.LocalPath, &a.ErrorReason, &a.ErrorDetails); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// AttachmentsForMessage returns all attachments owned by a message.
func (db *DB) AttachmentsForMessage(messageGUID string) ([]Attachment, error) {
	rows, err := db.Query(`
		SELECT id, guid, message_guid, filename, mime_type, transfer_name, total_bytes, local_path, error_reason, error_details
		FROM attachments WHERE message_guid = ?`, messageGUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.GUID, &a.MessageGUID, &a.Filename, &a.MimeType, &a.TransferName, &a.TotalBytes, &a.LocalPath, &a.ErrorReason, &a.ErrorDetails); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
