package conn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/wire"
	"go.uber.org/zap"
)

// Conn is the transport surface the manager needs from a duplex connection.
// Read blocks until one frame arrives or the connection fails.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Manager owns the single active connection to the remote source. Accepting
// a new connection evicts any prior one; no component outside this package
// holds a raw reference to the transport.
type Manager struct {
	logger      *zap.Logger
	bus         *bus.Bus
	sendTimeout time.Duration

	mu     sync.Mutex
	active Conn
	gen    uint64

	// handler receives inbound frames one at a time in arrival order.
	// Set once during wiring, before the first Accept.
	handler func(frame []byte)

	// Lifecycle observers, ordered and append-only, invoked synchronously
	// on state transitions. Eviction observers fire on handover, where the
	// disconnect observers deliberately do not.
	onConnected    []func()
	onDisconnected []func()
	onEvicted      []func()
}

// NewManager creates a connection manager with no active connection.
func NewManager(b *bus.Bus, logger *zap.Logger, sendTimeout time.Duration) *Manager {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Manager{
		logger:      logger,
		bus:         b,
		sendTimeout: sendTimeout,
	}
}

// RegisterHandler sets the inbound frame handler. Must be called before the
// first connection is accepted.
func (m *Manager) RegisterHandler(h func(frame []byte)) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// OnConnected registers a connect observer.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	m.onConnected = append(m.onConnected, fn)
	m.mu.Unlock()
}

// OnDisconnected registers a disconnect observer.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	m.onDisconnected = append(m.onDisconnected, fn)
	m.mu.Unlock()
}

// OnEvicted registers an observer invoked when a new connection supersedes
// the prior one. Runs before the connect observers of the replacement, so
// state tied to the evicted connection can be cleared first.
func (m *Manager) OnEvicted(fn func()) {
	m.mu.Lock()
	m.onEvicted = append(m.onEvicted, fn)
	m.mu.Unlock()
}

// IsActive reports whether a connection is currently registered.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Accept registers c as the single active connection, evicting any prior
// one. There is no window in which neither connection is active: the new
// connection is registered before the old one is closed.
func (m *Manager) Accept(ctx context.Context, c Conn) {
	m.mu.Lock()
	evicted := m.active
	m.active = c
	m.gen++
	gen := m.gen
	observers := append([]func(){}, m.onConnected...)
	evictObservers := append([]func(){}, m.onEvicted...)
	m.mu.Unlock()

	if evicted != nil {
		_ = evicted.Close("superseded by new connection")
		m.logger.Warn("evicted prior connection")
		m.bus.Publish(bus.Event{Kind: "conn.evicted", Timestamp: time.Now()})
		for _, fn := range evictObservers {
			fn()
		}
	}

	m.logger.Info("source connected")
	m.bus.Publish(bus.Event{Kind: "conn.connected", Timestamp: time.Now()})

	for _, fn := range observers {
		fn()
	}

	go m.readPump(ctx, c, gen)
}

// readPump processes inbound frames sequentially until the connection fails.
func (m *Manager) readPump(ctx context.Context, c Conn, gen uint64) {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			m.connLost(gen, err)
			return
		}
		m.mu.Lock()
		h := m.handler
		m.mu.Unlock()
		if h != nil {
			h(data)
		}
	}
}

// connLost tears down the active connection if gen still identifies it.
// A pump belonging to an evicted connection sees a newer generation and
// returns without touching the current one.
func (m *Manager) connLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.active == nil {
		m.mu.Unlock()
		return
	}
	c := m.active
	m.active = nil
	observers := append([]func(){}, m.onDisconnected...)
	m.mu.Unlock()

	_ = c.Close("")
	m.logger.Info("source disconnected", zap.Error(cause))
	m.bus.Publish(bus.Event{Kind: "conn.disconnected", Timestamp: time.Now()})

	for _, fn := range observers {
		fn()
	}
}

// Send writes one protocol frame to the active connection. Returns false
// without raising if no connection is active or the write fails. Never
// blocks beyond the configured send timeout.
func (m *Manager) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("marshal outbound frame", zap.Error(err))
		return false
	}

	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
	defer cancel()
	if err := c.Write(ctx, data); err != nil {
		m.logger.Warn("frame write failed, closing connection", zap.Error(err))
		m.CloseActive("write failed")
		return false
	}
	return true
}

// SendToCounterpart asks the source to transmit a text message to a handle.
// Best-effort: false when no connection is active.
func (m *Manager) SendToCounterpart(handleID, text string) bool {
	return m.Send(wire.NewSendMessage(handleID, text))
}

// CloseActive forcibly closes the active connection, if any. The read pump
// observes the close and runs the disconnect path.
func (m *Manager) CloseActive(reason string) {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c != nil {
		_ = c.Close(reason)
	}
}
