package dispatch

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/conn"
	"github.com/devicebridge/bridged/internal/histsync"
	"github.com/devicebridge/bridged/internal/ingest"
	"github.com/devicebridge/bridged/internal/store"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []any
}

func (r *recordingSender) Send(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, v)
	return true
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testDispatcher(t *testing.T) (*Dispatcher, *store.DB, *histsync.Syncer, *recordingSender) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	logger := zap.NewNop()
	engine := ingest.NewEngine(db, b, filepath.Join(dir, "attachments"), nil, logger)
	sender := &recordingSender{}
	syncer := histsync.NewSyncer(db, sender, b, histsync.Config{BatchSize: 2, RequestDelay: time.Millisecond}, logger)
	monitor := conn.NewMonitor(conn.NewManager(b, logger, time.Second), time.Minute, time.Hour, logger)
	return New(engine, syncer, monitor, logger), db, syncer, sender
}

func TestHandleNewMessages(t *testing.T) {
	d, db, _, _ := testDispatcher(t)

	d.Handle([]byte(`{
		"type": "new_messages",
		"messages": [{"rowid": 7, "guid": "g1", "text": "hi", "handle_id": "h", "date": "2026-01-15T09:30:00Z"}]
	}`))

	m, err := db.GetMessage("g1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.SrcRowid != 7 {
		t.Fatalf("message = %+v", m)
	}
	c, _ := db.Cursor()
	if c.LastRowid != 7 {
		t.Errorf("cursor = %d, want 7 (live push advances cursor)", c.LastRowid)
	}
}

func TestHandleHistoryResponseStoresBeforeStateMachine(t *testing.T) {
	d, db, syncer, sender := testDispatcher(t)

	syncer.Start()
	if sender.count() != 1 {
		t.Fatalf("sent %d requests after start, want 1", sender.count())
	}

	// Short batch: the cycle should end and the messages must be stored.
	d.Handle([]byte(`{
		"type": "history_response",
		"messages": [{"rowid": 3, "guid": "g1", "text": "old", "handle_id": "h", "date": "2026-01-15T09:30:00Z"}],
		"has_more": false
	}`))

	if syncer.State() != histsync.StateIdle {
		t.Errorf("state = %s, want IDLE", syncer.State())
	}
	m, _ := db.GetMessage("g1")
	if m == nil {
		t.Error("history batch not stored")
	}
}

func TestHandleAttachmentPayload(t *testing.T) {
	d, db, _, _ := testDispatcher(t)

	d.Handle([]byte(`{
		"type": "new_messages",
		"messages": [{"rowid": 1, "guid": "m1", "handle_id": "h", "date": "2026-01-15T09:30:00Z",
			"has_attachments": true,
			"attachments": [{"guid": "att1", "mime_type": "image/png", "total_bytes": 4}]}]
	}`))

	payload := base64.StdEncoding.EncodeToString([]byte("data"))
	d.Handle([]byte(fmt.Sprintf(`{
		"type": "attachment",
		"attachment": {"guid": "att1", "mime_type": "image/png"},
		"data": %q
	}`, payload)))

	a, _ := db.GetAttachment("att1")
	if a == nil || a.LocalPath == nil {
		t.Fatalf("attachment = %+v, want local_path set", a)
	}
}

func TestHandleAttachmentError(t *testing.T) {
	d, db, _, _ := testDispatcher(t)

	d.Handle([]byte(`{
		"type": "new_messages",
		"messages": [{"rowid": 1, "guid": "m1", "handle_id": "h", "date": "2026-01-15T09:30:00Z",
			"attachments": [{"guid": "att1"}]}]
	}`))
	d.Handle([]byte(`{
		"type": "attachment",
		"attachment": {"guid": "att1"},
		"error": "no_local_path"
	}`))

	a, _ := db.GetAttachment("att1")
	if a == nil || a.ErrorReason == nil || *a.ErrorReason != "no_local_path" {
		t.Fatalf("attachment = %+v, want error_reason=no_local_path", a)
	}
}

func TestHandleAttachmentInvalidBase64(t *testing.T) {
	d, db, _, _ := testDispatcher(t)

	d.Handle([]byte(`{
		"type": "new_messages",
		"messages": [{"rowid": 1, "guid": "m1", "handle_id": "h", "date": "2026-01-15T09:30:00Z",
			"attachments": [{"guid": "att1"}]}]
	}`))
	d.Handle([]byte(`{
		"type": "attachment",
		"attachment": {"guid": "att1"},
		"data": "%%%not-base64%%%"
	}`))

	a, _ := db.GetAttachment("att1")
	if a == nil {
		t.Fatal("metadata record missing")
	}
	if a.LocalPath != nil {
		t.Error("invalid payload should not set local_path")
	}
}

func TestHandleUnknownAndMalformedDropped(t *testing.T) {
	d, db, syncer, _ := testDispatcher(t)

	d.Handle([]byte(`{"type": "typing_indicator"}`))
	d.Handle([]byte(`{broken`))

	ext, _ := db.Extent()
	if ext.Count != 0 {
		t.Error("dropped frames must not store anything")
	}
	if syncer.State() != histsync.StateIdle {
		t.Error("dropped frames must not touch sync state")
	}
}
