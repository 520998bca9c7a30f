package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chatstream/internal/models"
)

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrChatNotPublic = errors.New("chat is not public")
)

// ChatDirectory resolves chat metadata and membership.
type ChatDirectory interface {
	GetUserChats(ctx context.Context, userID uuid.UUID) ([]models.UserChat, error)
	GetPublicChatsExcludingMember(ctx context.Context, userID uuid.UUID) ([]models.PublicChat, error)
	CreateChat(ctx context.Context, chat models.NewChat) (models.Chat, error)
	GetChat(ctx context.Context, chatID uuid.UUID) (models.Chat, error)
	IsMember(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (bool, error)
	// CanAccess is true for members of the chat and for anyone when the chat is public.
	CanAccess(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (bool, error)
	ResolveUsernames(ctx context.Context, usernames []string) (map[string]uuid.UUID, error)
	JoinChat(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) error
}

// ChatDirectoryRepo is a sqlx implementation of ChatDirectory.
type ChatDirectoryRepo struct {
	db *sqlx.DB
}

// NewChatDirectoryRepo constructs a ChatDirectoryRepo.
func NewChatDirectoryRepo(db *sqlx.DB) *ChatDirectoryRepo {
	return &ChatDirectoryRepo{db: db}
}

// GetUserChats returns every chat the user belongs to with the user's role.
// For DMs the other participant is filled in.
func (r *ChatDirectoryRepo) GetUserChats(ctx context.Context, userID uuid.UUID) ([]models.UserChat, error) {
	query := `SELECT c.id AS chat_id, c.name, c.is_public, c.is_dm, cm.role, c.created_at,
            (SELECT o.user_id FROM chat_members o
                WHERE c.is_dm AND o.chat_id = c.id AND o.user_id <> $1 LIMIT 1) AS dm_peer_id
        FROM chats c
        INNER JOIN chat_members cm ON cm.chat_id = c.id
        WHERE cm.user_id = $1
        ORDER BY c.created_at DESC`
	chats := []models.UserChat{}
	err := r.db.SelectContext(ctx, &chats, query, userID)
	return chats, err
}

// GetPublicChatsExcludingMember lists public chats the user has not joined.
func (r *ChatDirectoryRepo) GetPublicChatsExcludingMember(ctx context.Context, userID uuid.UUID) ([]models.PublicChat, error) {
	query := `SELECT c.id AS chat_id, c.name, c.created_at FROM chats c
        WHERE c.is_public
          AND NOT EXISTS (SELECT 1 FROM chat_members cm WHERE cm.chat_id = c.id AND cm.user_id = $1)
        ORDER BY c.created_at DESC`
	chats := []models.PublicChat{}
	err := r.db.SelectContext(ctx, &chats, query, userID)
	return chats, err
}

// CreateChat inserts the chat and its initial members atomically. The creator
// becomes owner; everybody else joins as member.
func (r *ChatDirectoryRepo) CreateChat(ctx context.Context, in models.NewChat) (chat models.Chat, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &chat, `INSERT INTO chats (id, name, is_public, is_dm, created_by)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, name, is_public, is_dm, created_by, created_at`,
		in.ID, in.Name, in.IsPublic, in.IsDM, in.CreatorID); err != nil {
		return models.Chat{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)`,
		chat.ID, in.CreatorID, models.RoleOwner); err != nil {
		return models.Chat{}, err
	}
	for _, id := range in.MemberIDs {
		if id == in.CreatorID {
			continue
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)
            ON CONFLICT (chat_id, user_id) DO NOTHING`, chat.ID, id, models.RoleMember); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatDirectoryRepo) GetChat(ctx context.Context, chatID uuid.UUID) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, name, is_public, is_dm, created_by, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// IsMember checks membership.
func (r *ChatDirectoryRepo) IsMember(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

func (r *ChatDirectoryRepo) CanAccess(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (bool, error) {
	var allowed bool
	err := r.db.GetContext(ctx, &allowed, `SELECT c.is_public OR EXISTS(
            SELECT 1 FROM chat_members cm WHERE cm.chat_id = c.id AND cm.user_id = $2)
        FROM chats c WHERE c.id = $1`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrChatNotFound
	}
	return allowed, err
}

// ResolveUsernames maps known usernames to ids. Unknown names are absent from the result.
func (r *ChatDirectoryRepo) ResolveUsernames(ctx context.Context, usernames []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}
	var rows []models.User
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, username FROM users WHERE username = ANY($1)`, pq.Array(usernames)); err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.Username] = u.ID
	}
	return out, nil
}

// JoinChat adds the user to a public chat as member. Joining twice is a no-op.
func (r *ChatDirectoryRepo) JoinChat(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) error {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsPublic {
		return ErrChatNotPublic
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)
        ON CONFLICT (chat_id, user_id) DO NOTHING`, chatID, userID, models.RoleMember)
	return err
}
