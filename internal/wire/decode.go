package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnknownTypeError is returned by Decode for frame types this daemon does
// not handle. Callers log and drop the frame; the connection stays open.
type UnknownTypeError struct {
	FrameType string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.FrameType)
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one inbound JSON frame into its typed representation.
// Returns *NewMessagesFrame, *AttachmentFrame, *HistoryResponseFrame or
// *PongFrame.
func Decode(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case TypeNewMessages:
		var f NewMessagesFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode new_messages: %w", err)
		}
		return &f, nil
	case TypeAttachment:
		var f AttachmentFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		return &f, nil
	case TypeHistoryResponse:
		var f HistoryResponseFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode history_response: %w", err)
		}
		return &f, nil
	case TypePong:
		return &PongFrame{Type: TypePong}, nil
	default:
		return nil, &UnknownTypeError{FrameType: env.Type}
	}
}

// Timestamp layouts the helper emits: RFC3339 with or without zone offset
// and fractional seconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime converts an ISO-8601 wire timestamp to unix milliseconds.
// Returns 0, false for empty or unparseable values.
func ParseTime(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// ParseTimePtr is ParseTime for optional wire timestamps.
func ParseTimePtr(s *string) *int64 {
	if s == nil {
		return nil
	}
	ms, ok := ParseTime(*s)
	if !ok {
		return nil
	}
	return &ms
}
