package histsync

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/store"
	"github.com/devicebridge/bridged/internal/wire"
	"go.uber.org/zap"
)

// State represents a sync cycle state.
type State string

const (
	StateIdle           State = "IDLE"
	StateFetchingNew    State = "FETCHING_NEW"
	StateBackfillingOld State = "BACKFILLING_OLD"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StateIdle:           {StateFetchingNew, StateBackfillingOld},
	StateFetchingNew:    {StateBackfillingOld, StateIdle},
	StateBackfillingOld: {StateIdle},
}

// Sender is the outbound side of the transport the syncer drives.
type Sender interface {
	Send(v any) bool
}

// Config bounds a sync cycle.
type Config struct {
	BatchSize          int
	MaxBackfillBatches int
	SettleDelay        time.Duration
	RequestDelay       time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxBackfillBatches <= 0 {
		c.MaxBackfillBatches = 20
	}
	if c.RequestDelay <= 0 {
		c.RequestDelay = 100 * time.Millisecond
	}
	return c
}

// Syncer backfills message history in two ordered phases: catch-up above
// the stored maximum rowid, then reverse-chronological backfill below the
// stored minimum. It is a strict sequential pipeline: a new request is only
// issued after the prior response has been fully stored and the cursor
// advanced.
type Syncer struct {
	db     *store.DB
	send   Sender
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config

	mu               sync.Mutex
	state            State
	gen              uint64
	backfillRequests int
	onComplete       []func()
}

// NewSyncer creates a syncer in the Idle state.
func NewSyncer(db *store.DB, send Sender, b *bus.Bus, cfg Config, logger *zap.Logger) *Syncer {
	return &Syncer{
		db:     db,
		send:   send,
		bus:    b,
		logger: logger,
		cfg:    cfg.withDefaults(),
		state:  StateIdle,
	}
}

// State returns the current sync state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnComplete registers an observer invoked when a sync cycle terminates.
func (s *Syncer) OnComplete(fn func()) {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, fn)
	s.mu.Unlock()
}

// ScheduleStart starts a sync cycle after the settle delay. Intended as a
// connect observer.
func (s *Syncer) ScheduleStart() {
	if s.cfg.SettleDelay <= 0 {
		s.Start()
		return
	}
	time.AfterFunc(s.cfg.SettleDelay, s.Start)
}

// Start begins a sync cycle. No-op if a cycle is already in flight: only
// one sync may run at a time.
func (s *Syncer) Start() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.logger.Debug("sync already in flight, ignoring start")
		return
	}

	extent, err := s.db.Extent()
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to read store extent", zap.Error(err))
		return
	}

	var req wire.RequestHistoryFrame
	if extent.Count == 0 {
		// Empty store: go straight to backfill from the newest messages.
		s.transition(StateBackfillingOld)
		s.backfillRequests = 1
		req = wire.NewHistoryLatest(s.cfg.BatchSize)
	} else {
		s.transition(StateFetchingNew)
		req = wire.NewHistorySince(extent.MaxRowid, s.cfg.BatchSize)
	}
	s.mu.Unlock()

	s.logger.Info("history sync started",
		zap.Int64("store_min", extent.MinRowid),
		zap.Int64("store_max", extent.MaxRowid),
		zap.Int64("store_count", extent.Count))
	s.sendNow(req)
}

// HandleResponse drives the state machine with one history response. The
// dispatcher calls this after the batch has been stored.
func (s *Syncer) HandleResponse(f *wire.HistoryResponseFrame) {
	s.mu.Lock()
	switch s.state {
	case StateFetchingNew:
		s.handleFetchingNew(f)
	case StateBackfillingOld:
		s.handleBackfilling(f)
	default:
		s.mu.Unlock()
		s.logger.Debug("unsolicited history response dropped")
	}
}

// handleFetchingNew is called with s.mu held and releases it.
func (s *Syncer) handleFetchingNew(f *wire.HistoryResponseFrame) {
	if full, more := s.batchSignals(f); full && more {
		gen := s.gen
		req := wire.NewHistorySince(maxRowid(f.Messages), s.cfg.BatchSize)
		s.mu.Unlock()
		s.scheduleRequest(gen, req)
		return
	}

	// Nothing newer left; switch to backfilling below the stored minimum.
	extent, err := s.db.Extent()
	if err != nil {
		s.logger.Error("failed to read store extent", zap.Error(err))
		s.finishLocked()
		return
	}
	if extent.Count == 0 {
		// Nothing to backfill before.
		s.finishLocked()
		return
	}

	s.transition(StateBackfillingOld)
	s.backfillRequests = 1
	gen := s.gen
	req := wire.NewHistoryBefore(extent.MinRowid, s.cfg.BatchSize)
	s.mu.Unlock()
	s.scheduleRequest(gen, req)
}

// handleBackfilling is called with s.mu held and releases it.
func (s *Syncer) handleBackfilling(f *wire.HistoryResponseFrame) {
	full, more := s.batchSignals(f)
	if full && more && s.backfillRequests < s.cfg.MaxBackfillBatches {
		s.backfillRequests++
		gen := s.gen
		req := wire.NewHistoryBefore(minRowid(f.Messages), s.cfg.BatchSize)
		s.mu.Unlock()
		s.scheduleRequest(gen, req)
		return
	}

	if full && more {
		s.logger.Info("backfill cap reached, ending cycle with history remaining",
			zap.Int("batches", s.backfillRequests))
	}
	s.finishLocked()
}

// batchSignals reports whether the response was a full batch and whether
// the source signals more history available. An absent has_more defaults to
// "more" only when the batch was full-sized.
func (s *Syncer) batchSignals(f *wire.HistoryResponseFrame) (full, more bool) {
	full = len(f.Messages) == s.cfg.BatchSize
	more = full && (f.HasMore == nil || *f.HasMore)
	return full, more
}

// finishLocked terminates the cycle. Called with s.mu held; releases it.
func (s *Syncer) finishLocked() {
	s.transition(StateIdle)
	batches := s.backfillRequests
	s.backfillRequests = 0
	observers := append([]func(){}, s.onComplete...)
	s.mu.Unlock()

	s.logger.Info("history sync completed", zap.Int("backfill_batches", batches))
	s.bus.Publish(bus.Event{
		Kind:      "sync.completed",
		Timestamp: time.Now(),
		Payload:   map[string]int{"backfill_batches": batches},
	})
	for _, fn := range observers {
		fn()
	}
}

// Reset aborts any in-flight cycle so a future connection can start fresh.
// Intended as a disconnect observer.
func (s *Syncer) Reset() {
	s.mu.Lock()
	aborted := s.state != StateIdle
	s.state = StateIdle
	s.backfillRequests = 0
	s.gen++
	s.mu.Unlock()

	if aborted {
		s.logger.Info("history sync aborted by disconnect")
	}
}

// scheduleRequest issues the next history request after the inter-request
// delay, unless the cycle was reset in the meantime.
func (s *Syncer) scheduleRequest(gen uint64, req wire.RequestHistoryFrame) {
	time.AfterFunc(s.cfg.RequestDelay, func() {
		s.mu.Lock()
		stale := s.gen != gen || s.state == StateIdle
		s.mu.Unlock()
		if stale {
			return
		}
		s.sendNow(req)
	})
}

// sendNow writes a history request; a failed send abandons the cycle.
func (s *Syncer) sendNow(req wire.RequestHistoryFrame) {
	if s.send.Send(req) {
		return
	}
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.backfillRequests = 0
	s.gen++
	s.mu.Unlock()
	s.logger.Warn("history request send failed, abandoning sync cycle")
}

// transition moves to a new state. Invalid transitions indicate a bug and
// are logged, not applied. Caller holds s.mu.
func (s *Syncer) transition(to State) {
	allowed := validTransitions[s.state]
	if !slices.Contains(allowed, to) {
		s.logger.Error("invalid sync state transition",
			zap.Error(fmt.Errorf("from %s to %s", s.state, to)))
		return
	}
	from := s.state
	s.state = to
	s.logger.Info("sync state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

func maxRowid(msgs []wire.Message) int64 {
	var max int64
	for i := range msgs {
		if msgs[i].Rowid > max {
			max = msgs[i].Rowid
		}
	}
	return max
}

func minRowid(msgs []wire.Message) int64 {
	if len(msgs) == 0 {
		return 0
	}
	min := msgs[0].Rowid
	for i := range msgs {
		if msgs[i].Rowid < min {
			min = msgs[i].Rowid
		}
	}
	return min
}
