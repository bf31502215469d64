package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/conn"
	"github.com/devicebridge/bridged/internal/histsync"
	"github.com/devicebridge/bridged/internal/outbox"
	"github.com/devicebridge/bridged/internal/store"
	"go.uber.org/zap"
)

type testHarness struct {
	server  *Server
	db      *store.DB
	manager *conn.Manager
	ts      *httptest.Server
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	logger := zap.NewNop()
	manager := conn.NewManager(b, logger, time.Second)
	syncer := histsync.NewSyncer(db, manager, b, histsync.Config{}, logger)
	sender := outbox.NewSender(db, manager, b, logger)
	srv := NewServer(db, manager, syncer, sender, "/messages-sync", logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testHarness{server: srv, db: db, manager: manager, ts: ts}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func seedMessage(t *testing.T, db *store.DB, guid string, rowid, date int64, handle string) {
	t.Helper()
	text := "hello"
	err := db.UpsertMessage(&store.Message{
		GUID:     guid,
		SrcRowid: rowid,
		Text:     &text,
		HandleID: handle,
		Date:     date,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	seedMessage(t, h.db, "g1", 5, 100, "h1")
	seedMessage(t, h.db, "g2", 9, 200, "h1")
	if err := h.db.AdvanceCursor(9); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(h.ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	var body statusResponse
	decodeBody(t, resp, &body)
	if body.Connected {
		t.Error("connected = true with no websocket attached")
	}
	if body.SyncState != "IDLE" {
		t.Errorf("sync_state = %q", body.SyncState)
	}
	if body.CursorRowid != 9 || body.MinRowid != 5 || body.MaxRowid != 9 || body.Count != 2 {
		t.Errorf("status = %+v", body)
	}
}

func TestMessagesRequiresHandle(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/messages")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMessagesForHandle(t *testing.T) {
	h := newHarness(t)
	seedMessage(t, h.db, "g1", 1, 100, "alice")
	seedMessage(t, h.db, "g2", 2, 200, "alice")
	seedMessage(t, h.db, "g3", 3, 300, "bob")

	resp, err := http.Get(h.ts.URL + "/api/v1/messages?handle=alice")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Messages []messageView `json:"messages"`
	}
	decodeBody(t, resp, &body)
	if len(body.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(body.Messages))
	}
	if body.Messages[0].Date != 200 || body.Messages[1].Date != 100 {
		t.Errorf("order = %v, want newest first", body.Messages)
	}
}

func TestLastContacted(t *testing.T) {
	h := newHarness(t)
	seedMessage(t, h.db, "g1", 1, 100, "alice")
	seedMessage(t, h.db, "g2", 2, 500, "alice")

	resp, err := http.Get(h.ts.URL + "/api/v1/last-contacted?handle=alice&handle=carol")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		LastContacted map[string]int64 `json:"last_contacted"`
	}
	decodeBody(t, resp, &body)
	if body.LastContacted["alice"] != 500 {
		t.Errorf("alice = %d, want 500", body.LastContacted["alice"])
	}
	if _, ok := body.LastContacted["carol"]; ok {
		t.Error("carol should be absent")
	}
}

func TestSendQueuesOutbox(t *testing.T) {
	h := newHarness(t)

	payload := bytes.NewBufferString(`{"handle_id": "+15551234", "text": "hi there"}`)
	resp, err := http.Post(h.ts.URL+"/api/v1/send", "application/json", payload)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		ClientMsgID string `json:"client_msg_id"`
		Queued      bool   `json:"queued"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusAccepted || !body.Queued || body.ClientMsgID == "" {
		t.Fatalf("send = %d %+v", resp.StatusCode, body)
	}

	// Disconnected, so the entry stays queued.
	pending, err := h.db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != body.ClientMsgID {
		t.Errorf("pending = %v", pending)
	}
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)

	for _, payload := range []string{`{}`, `{"handle_id": "h"}`, `{"text": "x"}`, `not json`} {
		resp, err := http.Post(h.ts.URL+"/api/v1/send", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("send %q = %d, want 400", payload, resp.StatusCode)
		}
	}
}

func TestPurge(t *testing.T) {
	h := newHarness(t)
	seedMessage(t, h.db, "g1", 1, 100, "alice")
	if err := h.db.AdvanceCursor(1); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(h.ts.URL+"/api/v1/purge", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]int64
	decodeBody(t, resp, &body)
	if body["deleted_messages"] != 1 {
		t.Errorf("purge = %v", body)
	}
	c, _ := h.db.Cursor()
	if c.LastRowid != 0 {
		t.Errorf("cursor after purge = %d, want 0", c.LastRowid)
	}
}

func TestFailedAttachmentsEndpoint(t *testing.T) {
	h := newHarness(t)
	seedMessage(t, h.db, "m1", 1, 100, "alice")
	if err := h.db.UpsertAttachment(&store.Attachment{GUID: "a1", MessageGUID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if err := h.db.SetAttachmentError("a1", "file_not_found", ""); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(h.ts.URL + "/api/v1/attachments/failed")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Attachments []attachmentView `json:"attachments"`
	}
	decodeBody(t, resp, &body)
	if len(body.Attachments) != 1 || body.Attachments[0].GUID != "a1" {
		t.Errorf("failed = %v", body.Attachments)
	}
}

func TestUnknownPathClosedWithoutResponse(t *testing.T) {
	h := newHarness(t)

	_, err := http.Get(h.ts.URL + "/nope")
	if err == nil {
		t.Error("expected a transport error for unknown path")
	}
}

func TestWebsocketIngestion(t *testing.T) {
	h := newHarness(t)

	// Wire the frame path the daemon wiring normally installs.
	frames := make(chan []byte, 1)
	h.manager.RegisterHandler(func(f []byte) { frames <- f })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/messages-sync"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(2 * time.Second)
	for !h.manager.IsActive() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if !h.manager.IsActive() {
		t.Fatal("manager never saw the connection")
	}

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-frames:
		if !strings.Contains(string(f), "pong") {
			t.Errorf("frame = %s", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the handler")
	}
}

func TestWebsocketLargeFrame(t *testing.T) {
	h := newHarness(t)

	frames := make(chan []byte, 1)
	h.manager.RegisterHandler(func(f []byte) { frames <- f })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/messages-sync"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "") }()
	c.SetReadLimit(maxFrameBytes)

	// A batch-sized frame well past the websocket library's 32KB default
	// read limit must reach the handler intact.
	body := strings.Repeat("a", 256*1024)
	frame := fmt.Sprintf(`{"type":"new_messages","messages":[{"rowid":1,"guid":"big","text":%q,"handle_id":"h","date":"2026-01-15T09:30:00Z"}]}`, body)
	if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-frames:
		if len(f) != len(frame) {
			t.Errorf("handler got %d bytes, want %d", len(f), len(frame))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("large frame never reached the handler (manager active=%v)", h.manager.IsActive())
	}
	if !h.manager.IsActive() {
		t.Error("connection dropped by large frame")
	}
}
