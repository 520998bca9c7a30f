package models

import "time"

// Frame types sent over the live connection.
const (
	FrameMessage = "message"
	FrameError   = "error"
)

// InboundFrame is the only frame a client sends.
type InboundFrame struct {
	Content string `json:"content"`
}

// MessageFrame relays a stored message to a client.
type MessageFrame struct {
	Type      string    `json:"type"`
	MessageID MessageID `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageFrame converts a stored message into its wire frame.
func NewMessageFrame(m Message) MessageFrame {
	return MessageFrame{
		Type:      FrameMessage,
		MessageID: m.ID,
		ChatID:    m.ChatID.String(),
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// ErrorFrame reports a per-message failure to the sender only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
