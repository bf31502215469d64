package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/store"
	"github.com/devicebridge/bridged/internal/wire"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of messages and attachments into the
// store, and attachment payload persistence to content-addressed files.
type Engine struct {
	db             *store.DB
	bus            *bus.Bus
	logger         *zap.Logger
	attachmentsDir string
	failLog        *FailureLog
}

// NewEngine creates a new ingestion engine. Payload files are written under
// attachmentsDir, named by attachment guid.
func NewEngine(db *store.DB, b *bus.Bus, attachmentsDir string, failLog *FailureLog, logger *zap.Logger) *Engine {
	return &Engine{
		db:             db,
		bus:            b,
		logger:         logger,
		attachmentsDir: attachmentsDir,
		failLog:        failLog,
	}
}

// StoreMessages upserts a batch of wire messages and their attachment
// metadata. A failure on one message is logged and does not abort the
// batch. Returns the number of messages successfully stored. After the
// batch the sync cursor is advanced to the highest rowid seen.
func (e *Engine) StoreMessages(batch []wire.Message) int {
	stored := 0
	var maxRowid int64

	for i := range batch {
		wm := &batch[i]
		if err := e.db.UpsertMessage(toStoreMessage(wm)); err != nil {
			e.logger.Error("failed to upsert message",
				zap.Error(err), zap.String("guid", wm.GUID), zap.Int64("rowid", wm.Rowid))
			continue
		}
		stored++
		if wm.Rowid > maxRowid {
			maxRowid = wm.Rowid
		}

		for j := range wm.Attachments {
			wa := &wm.Attachments[j]
			if err := e.db.UpsertAttachment(&store.Attachment{
				GUID:         wa.GUID,
				MessageGUID:  wm.GUID,
				Filename:     wa.Filename,
				MimeType:     wa.MimeType,
				TransferName: wa.TransferName,
				TotalBytes:   wa.TotalBytes,
			}); err != nil {
				e.logger.Error("failed to upsert attachment",
					zap.Error(err), zap.String("guid", wa.GUID), zap.String("message_guid", wm.GUID))
			}
		}
	}

	if maxRowid > 0 {
		if err := e.db.AdvanceCursor(maxRowid); err != nil {
			e.logger.Error("failed to advance cursor", zap.Error(err), zap.Int64("rowid", maxRowid))
		}
	}

	if stored > 0 {
		e.bus.Publish(bus.Event{
			Kind:      "ingest.batch",
			Timestamp: time.Now(),
			Payload:   map[string]int{"stored": stored, "received": len(batch)},
		})
	}

	return stored
}

// StoreAttachmentPayload writes payload bytes to a file named from the
// attachment guid and records the local path, clearing any prior transfer
// error. Safe to call multiple times for the same guid; the file is
// overwritten.
func (e *Engine) StoreAttachmentPayload(guid string, data []byte, mimeType string) error {
	if err := os.MkdirAll(e.attachmentsDir, 0700); err != nil {
		return fmt.Errorf("create attachments dir: %w", err)
	}

	path := filepath.Join(e.attachmentsDir, sanitizeGUID(guid)+extensionForMime(mimeType))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write attachment payload: %w", err)
	}

	if err := e.db.SetAttachmentPayload(guid, path); err != nil {
		return fmt.Errorf("record attachment payload: %w", err)
	}

	e.logger.Info("attachment payload stored",
		zap.String("guid", guid), zap.Int("bytes", len(data)), zap.String("path", path))
	return nil
}

// StoreAttachmentError classifies a raw transfer error reported by the
// source and persists it on the attachment record. localPath is left
// untouched: a payload received earlier stays valid.
func (e *Engine) StoreAttachmentError(guid, rawError string) error {
	reason, details := ParseTransferError(rawError)
	if err := e.db.SetAttachmentError(guid, reason, details); err != nil {
		return fmt.Errorf("record attachment error: %w", err)
	}

	if e.failLog != nil {
		att, err := e.db.GetAttachment(guid)
		name := "unknown"
		var size int64
		if err == nil && att != nil {
			if att.TransferName != nil && *att.TransferName != "" {
				name = *att.TransferName
			} else if att.Filename != nil && *att.Filename != "" {
				name = *att.Filename
			}
			size = att.TotalBytes
		}
		e.failLog.Append(rawError, guid, name, size)
	}

	e.logger.Warn("attachment transfer failed",
		zap.String("guid", guid), zap.String("reason", reason), zap.String("details", details))
	return nil
}

func toStoreMessage(wm *wire.Message) *store.Message {
	date, ok := wire.ParseTime(wm.Date)
	if !ok {
		date = time.Now().UnixMilli()
	}
	return &store.Message{
		GUID:           wm.GUID,
		SrcRowid:       wm.Rowid,
		Text:           wm.Text,
		HandleID:       wm.HandleID,
		IsFromMe:       wm.IsFromMe,
		Date:           date,
		DateRead:       wire.ParseTimePtr(wm.DateRead),
		DateDelivered:  wire.ParseTimePtr(wm.DateDelivered),
		ChatID:         wm.ChatID,
		HasAttachments: wm.HasAttachments,
	}
}
