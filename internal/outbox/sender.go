package outbox

import (
	"context"
	"time"

	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/store"
	"go.uber.org/zap"
)

// Transport is the outbound side of the source connection.
type Transport interface {
	IsActive() bool
	SendToCounterpart(handleID, text string) bool
}

// Sender drains the outbox and replays send requests through the transport.
// Entries queued while disconnected are retried once a connection is back.
type Sender struct {
	db        *store.DB
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration
	cancel    context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, transport Transport, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		transport: transport,
		bus:       b,
		logger:    logger,
		interval:  500 * time.Millisecond,
	}
}

// Start begins polling the outbox for pending send requests.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending()
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending attempts to send every queued entry. A send that fails
// because the connection dropped is re-queued for the next pass.
func (s *Sender) ProcessPending() {
	if !s.transport.IsActive() {
		return
	}

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		if !s.transport.SendToCounterpart(entry.HandleID, entry.Body) {
			// Connection went away mid-drain; retry on reconnect.
			if err := s.db.MarkOutboxQueued(entry.ClientMsgID); err != nil {
				s.logger.Error("failed to re-queue entry", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			}
			return
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("send request relayed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.String("handle_id", entry.HandleID))
		s.bus.Publish(bus.Event{
			Kind:      "outbox.relayed",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"handle_id":     entry.HandleID,
			},
		})
	}
}
