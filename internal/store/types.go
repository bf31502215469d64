package store

// Message represents a stored remote message. GUID and SrcRowid are assigned
// by the remote source and stable across resyncs.
type Message struct {
	ID             int64
	GUID           string
	SrcRowid       int64
	Text           *string
	HandleID       string
	IsFromMe       bool
	Date           int64 // unix millis
	DateRead       *int64
	DateDelivered  *int64
	ChatID         *int64
	HasAttachments bool
}

// Attachment represents stored attachment metadata. LocalPath is set only
// once payload bytes are durably written; ErrorReason/ErrorDetails only when
// the transfer failed. The two are mutually exclusive.
type Attachment struct {
	ID           int64
	GUID         string
	MessageGUID  string
	Filename     *string
	MimeType     *string
	TransferName *string
	TotalBytes   int64
	LocalPath    *string
	ErrorReason  *string
	ErrorDetails *string
}

// Cursor is the persisted sync high-water mark.
type Cursor struct {
	LastRowid int64
	SyncedAt  int64 // unix millis of last advance
}

// Extent describes the stored rowid range.
type Extent struct {
	MinRowid int64
	MaxRowid int64
	Count    int64
}

// OutboxEntry represents a pending outgoing send request.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	HandleID     string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}

// PurgeResult reports what an administrative purge removed.
type PurgeResult struct {
	DeletedMessages    int64
	DeletedAttachments int64
}
