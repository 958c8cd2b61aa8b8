package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"potluck/chat-service/internal/models"
)

// memoryRepository keeps chats in process memory. It backs the "memory"
// storage driver and the tests of the layers above.
type memoryRepository struct {
	mu       sync.Mutex
	chats    map[string]*models.Chat
	pairs    map[[2]string]string
	messages map[string][]*models.Message
	seq      int64
	now      func() time.Time
}

func NewMemoryRepository() ChatRepository {
	return &memoryRepository{
		chats:    make(map[string]*models.Chat),
		pairs:    make(map[[2]string]string),
		messages: make(map[string][]*models.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) InitializeTables(ctx context.Context) error {
	return nil
}

func (r *memoryRepository) GetOrCreateChat(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient(err)
	}
	first, second := models.SortedPair(userID1, userID2)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.pairs[[2]string{first, second}]; ok {
		return copyChat(r.chats[id]), nil
	}

	now := r.now()
	chat := &models.Chat{
		ID:        uuid.New().String(),
		UserID1:   first,
		UserID2:   second,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.chats[chat.ID] = chat
	r.pairs[[2]string{first, second}] = chat.ID

	return copyChat(chat), nil
}

func (r *memoryRepository) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[id]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	return copyChat(chat), nil
}

func (r *memoryRepository) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	r.mu.Lock()
	chats := make([]*models.Chat, 0)
	for _, chat := range r.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, copyChat(chat))
		}
	}
	r.mu.Unlock()

	slices.SortFunc(chats, func(a, b *models.Chat) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return chats, nil
}

func (r *memoryRepository) AppendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, transient(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil, nil, models.ErrChatNotFound
	}
	if !chat.HasParticipant(senderID) {
		return nil, nil, models.ErrNotParticipant
	}

	now := r.now()
	if now.Before(chat.UpdatedAt) {
		now = chat.UpdatedAt
	}

	r.seq++
	msg := &models.Message{
		ID:        uuid.New().String(),
		Seq:       r.seq,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	}
	r.messages[chatID] = append(r.messages[chatID], msg)
	chat.UpdatedAt = now

	return copyMessage(msg), copyChat(chat), nil
}

func (r *memoryRepository) GetChatMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.messages[chatID]
	end := len(all)
	if beforeSeq > 0 {
		end, _ = slices.BinarySearchFunc(all, beforeSeq, func(m *models.Message, seq int64) int {
			switch {
			case m.Seq < seq:
				return -1
			case m.Seq > seq:
				return 1
			}
			return 0
		})
	}
	start := max(end-limit, 0)

	messages := make([]*models.Message, 0, end-start)
	for _, msg := range all[start:end] {
		messages = append(messages, copyMessage(msg))
	}
	return messages, nil
}

func (r *memoryRepository) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	count := 0
	for _, msg := range r.messages[chatID] {
		if msg.SenderID != userID && msg.ReadAt == nil {
			readAt := now
			msg.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func copyChat(c *models.Chat) *models.Chat {
	out := *c
	out.Participants = nil
	out.Messages = nil
	return &out
}

func copyMessage(m *models.Message) *models.Message {
	out := *m
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		out.ReadAt = &readAt
	}
	return &out
}
