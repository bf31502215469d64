package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/devicebridge/bridged/internal/conn"
	"github.com/devicebridge/bridged/internal/histsync"
	"github.com/devicebridge/bridged/internal/outbox"
	"github.com/devicebridge/bridged/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server exposes the websocket endpoint the source connects to and the
// HTTP surface the contact directory and admin tooling consume.
type Server struct {
	db      *store.DB
	manager *conn.Manager
	syncer  *histsync.Syncer
	sender  *outbox.Sender
	logger  *zap.Logger
	wsPath  string
	router  chi.Router
}

// NewServer builds the router. wsPath is the single path at which upgrade
// requests are accepted.
func NewServer(db *store.DB, manager *conn.Manager, syncer *histsync.Syncer, sender *outbox.Sender, wsPath string, logger *zap.Logger) *Server {
	s := &Server{
		db:      db,
		manager: manager,
		syncer:  syncer,
		sender:  sender,
		logger:  logger,
		wsPath:  wsPath,
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get(wsPath, s.handleWS)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/messages", s.handleMessages)
		r.Get("/last-contacted", s.handleLastContacted)
		r.Get("/attachments/failed", s.handleFailedAttachments)
		r.Post("/send", s.handleSend)
		r.Post("/purge", s.handlePurge)
	})
	r.NotFound(s.handleUnknown)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxFrameBytes bounds one inbound frame. A full history batch or a base64
// attachment payload runs to tens of megabytes.
const maxFrameBytes = 32 << 20

// handleWS upgrades the source's duplex connection and hands it to the
// connection manager.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c.SetReadLimit(maxFrameBytes)
	s.manager.Accept(context.Background(), conn.NewWebsocketConn(c))
}

// handleUnknown rejects requests outside the served surface by closing the
// underlying socket without a protocol-level response. Upgrade attempts at
// any path other than the configured one get no handshake answer at all.
func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	c, _, err := hj.Hijack()
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = c.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
