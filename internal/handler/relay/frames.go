package relay

import (
	"encoding/json"
	"strings"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

const (
	frameIdentify   = "identify"
	frameMessage    = "message"
	frameInfo       = "info"
	frameHistory    = "history"
	frameNewMessage = "new_message"
	frameError      = "error"
)

// inboundFrame is the closed set of frames a client may send.
type inboundFrame interface {
	kind() string
}

type identifyFrame struct {
	UserID string
}

func (identifyFrame) kind() string { return frameIdentify }

type messageFrame struct {
	Content string
}

func (messageFrame) kind() string { return frameMessage }

type rawFrame struct {
	Type    string  `json:"type"`
	UserID  *string `json:"userId"`
	Content *string `json:"content"`
}

func decodeFrame(data []byte) (inboundFrame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &chat.ProtocolError{Reason: "invalid json"}
	}

	switch raw.Type {
	case frameIdentify:
		f := identifyFrame{}
		if raw.UserID != nil {
			f.UserID = strings.TrimSpace(*raw.UserID)
		}
		return f, nil
	case frameMessage:
		if raw.Content == nil || strings.TrimSpace(*raw.Content) == "" {
			return nil, &chat.ProtocolError{Reason: "message content is required"}
		}
		return messageFrame{Content: *raw.Content}, nil
	case "":
		return nil, &chat.ProtocolError{Reason: "frame type is required"}
	default:
		return nil, &chat.ProtocolError{Reason: "unknown frame type " + raw.Type}
	}
}

type infoFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type historyFrame struct {
	Type     string      `json:"type"`
	Messages []chat.Turn `json:"messages"`
}

type newMessageFrame struct {
	Type    string    `json:"type"`
	Message chat.Turn `json:"message"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newHistoryFrame(turns []chat.Turn) historyFrame {
	if turns == nil {
		turns = []chat.Turn{}
	}
	return historyFrame{Type: frameHistory, Messages: turns}
}

func encodeFrame(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
