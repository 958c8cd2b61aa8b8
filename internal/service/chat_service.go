package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/directory"
	"potluck/chat-service/internal/models"
	"potluck/chat-service/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type ChatService interface {
	// CreateChat returns the chat between the two users, creating it on first
	// contact, with participants and the latest page of history.
	CreateChat(ctx context.Context, userID1, userID2 string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error)
	SendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error)
	GetChatMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error)
}

type chatService struct {
	repository repository.ChatRepository
	directory  directory.Directory
	logger     *logrus.Logger
	timeout    time.Duration
}

func NewChatService(repo repository.ChatRepository, dir directory.Directory, logger *logrus.Logger, timeout time.Duration) ChatService {
	return &chatService{
		repository: repo,
		directory:  dir,
		logger:     logger,
		timeout:    timeout,
	}
}

func (s *chatService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *chatService) CreateChat(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	userID1, userID2 = strings.TrimSpace(userID1), strings.TrimSpace(userID2)
	if userID1 == "" || userID2 == "" {
		return nil, models.ErrParticipantUnresolvable
	}
	if userID1 == userID2 {
		return nil, models.ErrSelfChat
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	profiles, err := s.resolve(ctx, []string{userID1, userID2})
	if err != nil {
		return nil, err
	}
	for _, id := range []string{userID1, userID2} {
		if _, ok := profiles[id]; !ok {
			s.logger.WithField("user_id", id).Warn("Chat participant not found in directory")
			return nil, fmt.Errorf("%w: %s", models.ErrParticipantUnresolvable, id)
		}
	}

	chat, err := s.repository.GetOrCreateChat(ctx, userID1, userID2)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get or create chat")
		return nil, err
	}

	messages, err := s.repository.GetChatMessages(ctx, chat.ID, DefaultPageSize, 0)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load chat history")
		return nil, err
	}

	hydrateChat(chat, profiles)
	chat.Messages = messages
	for _, m := range chat.Messages {
		hydrateMessage(m, profiles)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":  chat.ID,
		"user_id1": chat.UserID1,
		"user_id2": chat.UserID2,
	}).Debug("Chat opened")

	return chat, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		if !errors.Is(err, models.ErrChatNotFound) {
			s.logger.WithError(err).Error("Failed to get chat")
		}
		return nil, err
	}

	profiles, err := s.resolve(ctx, []string{chat.UserID1, chat.UserID2})
	if err != nil {
		return nil, err
	}
	hydrateChat(chat, profiles)

	return chat, nil
}

func (s *chatService) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chats, err := s.repository.GetUserChats(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, err
	}
	if len(chats) == 0 {
		return chats, nil
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0, len(chats)+1)
	for _, c := range chats {
		for _, id := range []string{c.UserID1, c.UserID2} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	profiles, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		hydrateChat(c, profiles)
	}

	return chats, nil
}

func (s *chatService) SendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil, models.ErrInvalidContent
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	msg, chat, err := s.repository.AppendMessage(ctx, chatID, senderID, content)
	if err != nil {
		entry := s.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id":   chatID,
			"sender_id": senderID,
		})
		if errors.Is(err, models.ErrTransientStorage) {
			entry.Error("Failed to send message")
		} else {
			entry.Warn("Message rejected")
		}
		return nil, nil, err
	}

	profiles, err := s.resolve(ctx, []string{chat.UserID1, chat.UserID2})
	if err != nil {
		// The message is already durable; fall back to bare profiles.
		s.logger.WithError(err).Warn("Failed to resolve participants for sent message")
		profiles = map[string]models.Profile{}
	}
	hydrateChat(chat, profiles)
	hydrateMessage(msg, profiles)

	s.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"seq":        msg.Seq,
		"chat_id":    chatID,
		"sender_id":  senderID,
	}).Info("Message sent")

	return msg, chat, nil
}

func (s *chatService) GetChatMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	messages, err := s.repository.GetChatMessages(ctx, chatID, limit, beforeSeq)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, err
	}

	profiles, err := s.resolve(ctx, []string{chat.UserID1, chat.UserID2})
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		hydrateMessage(m, profiles)
	}

	return messages, nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		return 0, err
	}

	if !chat.HasParticipant(userID) {
		return 0, models.ErrNotParticipant
	}

	count, err := s.repository.MarkMessagesAsRead(ctx, chatID, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return 0, err
	}

	return count, nil
}

func (s *chatService) resolve(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	profiles, err := s.directory.Resolve(ctx, ids)
	if err != nil {
		s.logger.WithError(err).Error("Directory lookup failed")
		return nil, fmt.Errorf("%w: directory: %v", models.ErrTransientStorage, err)
	}
	return profiles, nil
}

func profileOf(profiles map[string]models.Profile, id string) models.Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return models.Profile{ID: id}
}

func hydrateChat(chat *models.Chat, profiles map[string]models.Profile) {
	chat.Participants = []models.Profile{
		profileOf(profiles, chat.UserID1),
		profileOf(profiles, chat.UserID2),
	}
}

func hydrateMessage(msg *models.Message, profiles map[string]models.Profile) {
	p := profileOf(profiles, msg.SenderID)
	msg.Sender = &p
}
