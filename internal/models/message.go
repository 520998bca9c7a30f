package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemSender is the reserved sender id of server-generated messages.
const SystemSender = "SYSTEM"

// MessageID is a chat-scoped, lexically sortable token of the form
// "<20-digit unix millis>-<10-digit sequence>".
type MessageID string

// NewMessageID formats a millisecond timestamp and sequence.
func NewMessageID(ms, seq uint64) MessageID {
	return MessageID(fmt.Sprintf("%020d-%010d", ms, seq))
}

// ParseMessageID accepts both the padded form and a raw Redis stream id ("ms-seq").
// A bare millisecond value is read as sequence 0.
func ParseMessageID(raw string) (MessageID, error) {
	ms, seq, err := splitID(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return NewMessageID(ms, seq), nil
}

func splitID(raw string) (uint64, uint64, error) {
	if raw == "" {
		return 0, 0, fmt.Errorf("empty message id")
	}
	msPart, seqPart, hasSeq := strings.Cut(raw, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message id %q", raw)
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid message id %q", raw)
		}
	}
	return ms, seq, nil
}

// Parts returns the millisecond and sequence components.
func (id MessageID) Parts() (uint64, uint64) {
	ms, seq, err := splitID(string(id))
	if err != nil {
		return 0, 0
	}
	return ms, seq
}

// StreamID renders the id the way Redis streams expect it.
func (id MessageID) StreamID() string {
	ms, seq := id.Parts()
	return strconv.FormatUint(ms, 10) + "-" + strconv.FormatUint(seq, 10)
}

// Time is the millisecond component as a UTC time.
func (id MessageID) Time() time.Time {
	ms, _ := id.Parts()
	return time.UnixMilli(int64(ms)).UTC()
}

func (id MessageID) String() string { return string(id) }

// Next returns the id that follows last at wall-clock now. When the clock has
// not moved past last, the sequence is bumped instead so ids stay strictly increasing.
func Next(last MessageID, now time.Time) MessageID {
	ms := uint64(now.UnixMilli())
	if last == "" {
		return NewMessageID(ms, 0)
	}
	lastMs, lastSeq := last.Parts()
	if ms <= lastMs {
		return NewMessageID(lastMs, lastSeq+1)
	}
	return NewMessageID(ms, 0)
}

// Message is an immutable record of the message log.
type Message struct {
	ID        MessageID `json:"message_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsSystem reports whether the message was generated by the server.
func (m Message) IsSystem() bool { return m.SenderID == SystemSender }
