package conn

import (
	"context"
	"sync"
	"time"

	"github.com/devicebridge/bridged/internal/wire"
	"go.uber.org/zap"
)

// Monitor probes the active connection with periodic ping frames and forces
// a close when no pong arrives within the staleness threshold. It runs on
// its own timer and only inspects connection liveness, never ingestion
// state.
type Monitor struct {
	manager    *Manager
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	lastPong   time.Time
	unanswered int
	cancel     context.CancelFunc
}

// NewMonitor creates a health monitor for the given manager.
func NewMonitor(m *Manager, interval, staleAfter time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		manager:    m,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start begins the probe loop. Idempotent. The last-pong timestamp is reset
// to now so a fresh connection is never judged stale before its first probe
// completes.
func (hm *Monitor) Start() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.lastPong = time.Now()
	hm.unanswered = 0
	if hm.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	hm.cancel = cancel
	go hm.loop(ctx)
}

// Stop halts the probe loop. Idempotent.
func (hm *Monitor) Stop() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.cancel != nil {
		hm.cancel()
		hm.cancel = nil
	}
}

// Pong records a keepalive acknowledgment from the source.
func (hm *Monitor) Pong() {
	hm.mu.Lock()
	hm.lastPong = time.Now()
	hm.unanswered = 0
	hm.mu.Unlock()
}

func (hm *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.probe()
		}
	}
}

func (hm *Monitor) probe() {
	if !hm.manager.IsActive() {
		return
	}

	hm.mu.Lock()
	elapsed := time.Since(hm.lastPong)
	unanswered := hm.unanswered
	hm.mu.Unlock()

	// A connection is judged stale only once at least two probes have gone
	// unanswered past the threshold, so a silent peer is closed between the
	// second and third probe and never before a second ping was sent.
	if unanswered >= 2 && elapsed > hm.staleAfter {
		hm.logger.Warn("connection stale, forcing close",
			zap.Duration("since_last_pong", elapsed),
			zap.Duration("threshold", hm.staleAfter))
		hm.manager.CloseActive("stale connection")
		return
	}

	if hm.manager.Send(wire.NewPing()) {
		hm.mu.Lock()
		hm.unanswered++
		hm.mu.Unlock()
	}
}
