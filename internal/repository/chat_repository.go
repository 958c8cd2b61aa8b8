package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"potluck/chat-service/internal/models"
)

type ChatRepository interface {
	InitializeTables(ctx context.Context) error
	GetOrCreateChat(ctx context.Context, userID1, userID2 string) (*models.Chat, error)
	GetChatByID(ctx context.Context, id string) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error)
	// AppendMessage persists a message and bumps the chat's activity time in
	// one atomic step. It returns the stored message and the updated chat.
	AppendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error)
	GetChatMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error)
}

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func (r *chatRepository) InitializeTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS chats (
		id UUID PRIMARY KEY,
		user_id1 TEXT NOT NULL,
		user_id2 TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(user_id1, user_id2),
		CHECK (user_id1 < user_id2)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq BIGSERIAL UNIQUE,
		id UUID PRIMARY KEY,
		chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		read_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_id, seq);
	CREATE INDEX IF NOT EXISTS idx_chats_user1 ON chats(user_id1, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_chats_user2 ON chats(user_id2, updated_at DESC);
	`

	_, err := r.db.ExecContext(ctx, query)
	return classify(err)
}

// GetOrCreateChat relies on the unique pair constraint: a conflicting insert
// turns into a no-op update so RETURNING always yields the surviving row.
func (r *chatRepository) GetOrCreateChat(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	first, second := models.SortedPair(userID1, userID2)

	query := `
	INSERT INTO chats (id, user_id1, user_id2)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_id1, user_id2) DO UPDATE SET user_id1 = EXCLUDED.user_id1
	RETURNING id, user_id1, user_id2, created_at, updated_at
	`

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), first, second).Scan(
		&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	return &chat, nil
}

func (r *chatRepository) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE id = $1
	`

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	return &chat, nil
}

func (r *chatRepository) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE user_id1 = $1 OR user_id2 = $1
	ORDER BY updated_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		var chat models.Chat
		err := rows.Scan(
			&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
		)
		if err != nil {
			return nil, classify(err)
		}
		chats = append(chats, &chat)
	}

	return chats, classify(rows.Err())
}

// AppendMessage locks the chat row so concurrent appends to one chat commit
// one after another and receive increasing sequence numbers.
func (r *chatRepository) AppendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var chat models.Chat
	err = tx.QueryRowContext(ctx, `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE id = $1
	FOR UPDATE
	`, chatID).Scan(&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, nil, classify(err)
	}

	if !chat.HasParticipant(senderID) {
		return nil, nil, models.ErrNotParticipant
	}

	msg := &models.Message{
		ID:       uuid.New().String(),
		ChatID:   chat.ID,
		SenderID: senderID,
		Content:  content,
	}

	err = tx.QueryRowContext(ctx, `
	INSERT INTO messages (id, chat_id, sender_id, content)
	VALUES ($1, $2, $3, $4)
	RETURNING seq, created_at
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content).Scan(&msg.Seq, &msg.CreatedAt)
	if err != nil {
		return nil, nil, classify(err)
	}

	err = tx.QueryRowContext(ctx, `
	UPDATE chats SET updated_at = $2 WHERE id = $1
	RETURNING updated_at
	`, chat.ID, msg.CreatedAt).Scan(&chat.UpdatedAt)
	if err != nil {
		return nil, nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, classify(err)
	}

	return msg, &chat, nil
}

func (r *chatRepository) GetChatMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]*models.Message, error) {
	var query string
	var args []interface{}

	if beforeSeq > 0 {
		query = `
		SELECT id, seq, chat_id, sender_id, content, created_at, read_at
		FROM messages
		WHERE chat_id = $1 AND seq < $2
		ORDER BY seq DESC
		LIMIT $3
		`
		args = []interface{}{chatID, beforeSeq, limit}
	} else {
		query = `
		SELECT id, seq, chat_id, sender_id, content, created_at, read_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY seq DESC
		LIMIT $2
		`
		args = []interface{}{chatID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var readAt sql.NullTime
		err := rows.Scan(
			&msg.ID, &msg.Seq, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &readAt,
		)
		if err != nil {
			return nil, classify(err)
		}
		if readAt.Valid {
			msg.ReadAt = &readAt.Time
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *chatRepository) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	query := `
	UPDATE messages
	SET read_at = $3
	WHERE chat_id = $1 AND sender_id != $2 AND read_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, chatID, userID, time.Now().UTC())
	if err != nil {
		return 0, classify(err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}

	return int(count), nil
}
