package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"gua-backend/internal/models"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// ListConversations returns the user's conversations, most recently
// updated first. An empty slice means the user has none.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// CreateConversation inserts a new row on every call.
func (r *ConversationRepo) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*models.Conversation, error) {
	if title == "" {
		title = models.PlaceholderTitle
	}
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepo) UpdateTitle(ctx context.Context, conversationID uuid.UUID, title string) error {
	_, err := r.pool.Exec(ctx, "UPDATE conversations SET title = $1 WHERE id = $2", title, conversationID)
	return err
}

// DeleteConversation removes the conversation; its messages cascade.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", conversationID)
	return err
}

// ListMessages returns the conversation's messages in creation order.
func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, content, sender, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Sender, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendMessage stores the message and then bumps the parent
// conversation's updated_at. The two writes are not one transaction: when
// only the second fails the message stays and the returned error wraps
// models.ErrConversationNotTouched.
func (r *ConversationRepo) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, content, sender, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.Content, msg.Sender, msg.CreatedAt,
	)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		"UPDATE conversations SET updated_at = GREATEST(updated_at, $1) WHERE id = $2",
		msg.CreatedAt, msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrConversationNotTouched, err)
	}
	return nil
}
