package models

import (
	"time"

	"github.com/google/uuid"
)

// Role of a member inside a group chat.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Chat is a group or direct-message container.
type Chat struct {
	ID        uuid.UUID `db:"id" json:"chat_id"`
	Name      string    `db:"name" json:"chat_name"`
	IsPublic  bool      `db:"is_public" json:"is_public"`
	IsDM      bool      `db:"is_dm" json:"is_dm"`
	CreatedBy uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserChat is a membership row joined with its chat, as returned by the directory.
type UserChat struct {
	ChatID    uuid.UUID  `db:"chat_id"`
	Name      string     `db:"name"`
	IsPublic  bool       `db:"is_public"`
	IsDM      bool       `db:"is_dm"`
	Role      Role       `db:"role"`
	DMPeerID  *uuid.UUID `db:"dm_peer_id"`
	CreatedAt time.Time  `db:"created_at"`
}

// PublicChat is a joinable chat the user is not a member of.
type PublicChat struct {
	ChatID    uuid.UUID `db:"chat_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// NewChat holds the validated input of a chat creation.
type NewChat struct {
	ID        uuid.UUID
	Name      string
	IsPublic  bool
	IsDM      bool
	CreatorID uuid.UUID
	MemberIDs []uuid.UUID
}

// LastMessage is the preview of the most recent message in a chat.
type LastMessage struct {
	MessageID MessageID `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatPreview summarises a chat for list views. A nil LastMessage means the
// chat has no messages yet, which is distinct from an empty-content message.
type ChatPreview struct {
	ChatID          uuid.UUID    `json:"chat_id"`
	ChatName        string       `json:"chat_name"`
	IsPublic        bool         `json:"is_public"`
	IsDM            bool         `json:"is_dm"`
	Role            Role         `json:"role,omitempty"`
	DMParticipantID *uuid.UUID   `json:"dm_participant_id,omitempty"`
	LastActivity    time.Time    `json:"last_activity"`
	HasMessages     bool         `json:"has_messages"`
	LastMessage     *LastMessage `json:"last_message"`
}

// SetLastMessage attaches m as the preview's last message.
func (p *ChatPreview) SetLastMessage(m Message) {
	p.LastMessage = &LastMessage{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	p.HasMessages = true
	p.LastActivity = m.Timestamp
}
