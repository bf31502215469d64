package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/devicebridge/bridged/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type statusResponse struct {
	Connected   bool   `json:"connected"`
	SyncState   string `json:"sync_state"`
	CursorRowid int64  `json:"cursor_rowid"`
	SyncedAt    int64  `json:"synced_at"`
	MinRowid    int64  `json:"min_rowid"`
	MaxRowid    int64  `json:"max_rowid"`
	Count       int64  `json:"message_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cursor, err := s.db.Cursor()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cursor")
		return
	}
	extent, err := s.db.Extent()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read extent")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Connected:   s.manager.IsActive(),
		SyncState:   string(s.syncer.State()),
		CursorRowid: cursor.LastRowid,
		SyncedAt:    cursor.SyncedAt,
		MinRowid:    extent.MinRowid,
		MaxRowid:    extent.MaxRowid,
		Count:       extent.Count,
	})
}

type messageView struct {
	GUID           string  `json:"guid"`
	Rowid          int64   `json:"rowid"`
	Text           *string `json:"text"`
	HandleID       string  `json:"handle_id"`
	IsFromMe       bool    `json:"is_from_me"`
	Date           int64   `json:"date"`
	DateRead       *int64  `json:"date_read"`
	DateDelivered  *int64  `json:"date_delivered"`
	ChatID         *int64  `json:"chat_id"`
	HasAttachments bool    `json:"has_attachments"`
}

func toMessageView(m *store.Message) messageView {
	return messageView{
		GUID:           m.GUID,
		Rowid:          m.SrcRowid,
		Text:           m.Text,
		HandleID:       m.HandleID,
		IsFromMe:       m.IsFromMe,
		Date:           m.Date,
		DateRead:       m.DateRead,
		DateDelivered:  m.DateDelivered,
		ChatID:         m.ChatID,
		HasAttachments: m.HasAttachments,
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "missing handle parameter")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	msgs, err := s.db.MessagesForHandle(handle, limit, before)
	if err != nil {
		s.logger.Error("failed to list messages", zap.Error(err), zap.String("handle", handle))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	views := make([]messageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, toMessageView(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

func (s *Server) handleLastContacted(w http.ResponseWriter, r *http.Request) {
	handles := r.URL.Query()["handle"]
	if len(handles) == 0 {
		writeError(w, http.StatusBadRequest, "missing handle parameter")
		return
	}
	result, err := s.db.LastContactedAtBulk(handles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read last-contacted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_contacted": result})
}

type attachmentView struct {
	GUID         string  `json:"guid"`
	MessageGUID  string  `json:"message_guid"`
	Filename     *string `json:"filename"`
	MimeType     *string `json:"mime_type"`
	TransferName *string `json:"transfer_name"`
	TotalBytes   int64   `json:"total_bytes"`
	LocalPath    *string `json:"local_path"`
	ErrorReason  *string `json:"error_reason"`
	ErrorDetails *string `json:"error_details"`
}

func (s *Server) handleFailedAttachments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	atts, err := s.db.FailedAttachments(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list attachments")
		return
	}
	views := make([]attachmentView, 0, len(atts))
	for _, a := range atts {
		views = append(views, attachmentView{
			GUID:         a.GUID,
			MessageGUID:  a.MessageGUID,
			Filename:     a.Filename,
			MimeType:     a.MimeType,
			TransferName: a.TransferName,
			TotalBytes:   a.TotalBytes,
			LocalPath:    a.LocalPath,
			ErrorReason:  a.ErrorReason,
			ErrorDetails: a.ErrorDetails,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": views})
}

type sendRequest struct {
	HandleID string `json:"handle_id"`
	Text     string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HandleID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "handle_id and text are required")
		return
	}

	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, req.HandleID, req.Text); err != nil {
		s.logger.Error("failed to queue send request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue send request")
		return
	}

	// Drain immediately when connected; otherwise the sender loop retries.
	go s.sender.ProcessPending()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"client_msg_id": clientMsgID,
		"queued":        true,
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, _ *http.Request) {
	result, err := s.db.PurgeAll()
	if err != nil {
		s.logger.Error("purge failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	s.logger.Info("store purged",
		zap.Int64("deleted_messages", result.DeletedMessages),
		zap.Int64("deleted_attachments", result.DeletedAttachments))
	writeJSON(w, http.StatusOK, map[string]int64{
		"deleted_messages":    result.DeletedMessages,
		"deleted_attachments": result.DeletedAttachments,
	})
}
