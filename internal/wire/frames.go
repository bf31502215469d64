package wire

// Frame type discriminators. These match what the helper process emits and
// expects on the duplex connection.
const (
	TypeNewMessages     = "new_messages"
	TypeAttachment      = "attachment"
	TypeHistoryResponse = "history_response"
	TypePong            = "pong"

	TypeSendMessage    = "send_message"
	TypePing           = "ping"
	TypeRequestHistory = "request_history"
)

// Message is the wire representation of a remote message. Timestamps are
// ISO-8601 strings as emitted by the helper.
type Message struct {
	Rowid          int64        `json:"rowid"`
	GUID           string       `json:"guid"`
	Text           *string      `json:"text"`
	HandleID       string       `json:"handle_id"`
	IsFromMe       bool         `json:"is_from_me"`
	Date           string       `json:"date"`
	DateRead       *string      `json:"date_read"`
	DateDelivered  *string      `json:"date_delivered"`
	ChatID         *int64       `json:"chat_id"`
	HasAttachments bool         `json:"has_attachments"`
	Attachments    []Attachment `json:"attachments"`
}

// Attachment is the wire representation of attachment metadata.
type Attachment struct {
	Rowid        int64   `json:"rowid"`
	GUID         string  `json:"guid"`
	Filename     *string `json:"filename"`
	MimeType     *string `json:"mime_type"`
	TransferName *string `json:"transfer_name"`
	TotalBytes   int64   `json:"total_bytes"`
	CreatedAt    *string `json:"created_at"`
	LocalPath    *string `json:"local_path"`
}

// NewMessagesFrame is a live push of new messages from the source.
type NewMessagesFrame struct {
	Type      string    `json:"type"`
	Messages  []Message `json:"messages"`
	Timestamp string    `json:"timestamp"`
}

// AttachmentFrame carries attachment metadata plus either base64 payload
// bytes or a transfer error string, never both.
type AttachmentFrame struct {
	Type       string     `json:"type"`
	Attachment Attachment `json:"attachment"`
	Data       string     `json:"data,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// HistoryResponseFrame answers a request_history frame. HasMore is a
// three-state signal: nil means unknown, and is treated as more-available
// only when the batch was full-sized.
type HistoryResponseFrame struct {
	Type        string    `json:"type"`
	Messages    []Message `json:"messages"`
	SinceRowid  *int64    `json:"since_rowid,omitempty"`
	BeforeRowid *int64    `json:"before_rowid,omitempty"`
	HasMore     *bool     `json:"has_more,omitempty"`
}

// PongFrame acknowledges a keepalive probe.
type PongFrame struct {
	Type string `json:"type"`
}

// SendMessageFrame asks the source to transmit a message to a counterpart.
type SendMessageFrame struct {
	Type     string `json:"type"`
	HandleID string `json:"handle_id"`
	Text     string `json:"text"`
}

// NewSendMessage builds an outbound send_message frame.
func NewSendMessage(handleID, text string) SendMessageFrame {
	return SendMessageFrame{Type: TypeSendMessage, HandleID: handleID, Text: text}
}

// PingFrame is the keepalive probe.
type PingFrame struct {
	Type string `json:"type"`
}

// NewPing builds an outbound ping frame.
func NewPing() PingFrame {
	return PingFrame{Type: TypePing}
}

// RequestHistoryFrame asks the source for a page of message history. At most
// one of SinceRowid/BeforeRowid is set; with neither set the source returns
// its most recent Limit messages.
type RequestHistoryFrame struct {
	Type        string `json:"type"`
	SinceRowid  *int64 `json:"since_rowid,omitempty"`
	BeforeRowid *int64 `json:"before_rowid,omitempty"`
	Limit       int    `json:"limit"`
}

// NewHistorySince builds a catch-up request for rowids above since.
func NewHistorySince(since int64, limit int) RequestHistoryFrame {
	return RequestHistoryFrame{Type: TypeRequestHistory, SinceRowid: &since, Limit: limit}
}

// NewHistoryBefore builds a backfill request for rowids below before.
func NewHistoryBefore(before int64, limit int) RequestHistoryFrame {
	return RequestHistoryFrame{Type: TypeRequestHistory, BeforeRowid: &before, Limit: limit}
}

// NewHistoryLatest builds a request for the most recent limit messages.
func NewHistoryLatest(limit int) RequestHistoryFrame {
	return RequestHistoryFrame{Type: TypeRequestHistory, Limit: limit}
}
