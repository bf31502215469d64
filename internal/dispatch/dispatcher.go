package dispatch

import (
	"encoding/base64"
	"errors"

	"github.com/devicebridge/bridged/internal/conn"
	"github.com/devicebridge/bridged/internal/histsync"
	"github.com/devicebridge/bridged/internal/ingest"
	"github.com/devicebridge/bridged/internal/wire"
	"go.uber.org/zap"
)

// Dispatcher decodes inbound frames by type and routes them to ingestion,
// the sync state machine or the health monitor. Malformed and unknown
// frames are logged and dropped; the connection stays open.
type Dispatcher struct {
	engine  *ingest.Engine
	syncer  *histsync.Syncer
	monitor *conn.Monitor
	logger  *zap.Logger
}

// New creates a dispatcher.
func New(engine *ingest.Engine, syncer *histsync.Syncer, monitor *conn.Monitor, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine:  engine,
		syncer:  syncer,
		monitor: monitor,
		logger:  logger,
	}
}

// Handle processes one inbound frame. Registered as the connection
// manager's frame handler; called sequentially in arrival order.
func (d *Dispatcher) Handle(raw []byte) {
	frame, err := wire.Decode(raw)
	if err != nil {
		var unknown *wire.UnknownTypeError
		if errors.As(err, &unknown) {
			d.logger.Warn("unexpected frame type dropped", zap.String("frame_type", unknown.FrameType))
		} else {
			d.logger.Warn("malformed frame dropped", zap.Error(err))
		}
		return
	}

	switch f := frame.(type) {
	case *wire.NewMessagesFrame:
		stored := d.engine.StoreMessages(f.Messages)
		d.logger.Info("live messages ingested",
			zap.Int("stored", stored), zap.Int("received", len(f.Messages)))

	case *wire.AttachmentFrame:
		d.handleAttachment(f)

	case *wire.HistoryResponseFrame:
		stored := d.engine.StoreMessages(f.Messages)
		d.logger.Info("history batch ingested",
			zap.Int("stored", stored), zap.Int("received", len(f.Messages)))
		d.syncer.HandleResponse(f)

	case *wire.PongFrame:
		d.monitor.Pong()
	}
}

func (d *Dispatcher) handleAttachment(f *wire.AttachmentFrame) {
	guid := f.Attachment.GUID

	if f.Error != "" {
		if err := d.engine.StoreAttachmentError(guid, f.Error); err != nil {
			d.logger.Warn("failed to record attachment error",
				zap.Error(err), zap.String("guid", guid))
		}
		return
	}

	if f.Data == "" {
		// Metadata-only frame; the owning message's ingestion already
		// upserted the record.
		return
	}

	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		d.logger.Warn("attachment payload not valid base64, dropped",
			zap.Error(err), zap.String("guid", guid))
		return
	}

	mimeType := ""
	if f.Attachment.MimeType != nil {
		mimeType = *f.Attachment.MimeType
	}
	if err := d.engine.StoreAttachmentPayload(guid, data, mimeType); err != nil {
		d.logger.Warn("failed to store attachment payload",
			zap.Error(err), zap.String("guid", guid))
	}
}
