package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potluck/chat-service/internal/directory"
	"potluck/chat-service/internal/models"
	"potluck/chat-service/internal/repository"
)

func newTestService(t *testing.T) (ChatService, repository.ChatRepository) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := repository.NewMemoryRepository()
	dir := directory.NewStaticDirectory(
		models.Profile{ID: "alice", Name: "Alice", AvatarURL: "https://img/alice.png"},
		models.Profile{ID: "bob", Name: "Bob"},
		models.Profile{ID: "carol", Name: "Carol"},
	)
	return NewChatService(repo, dir, logger, time.Second), repo
}

func TestCreateChat_SameChatForBothDirections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, first.Messages)
	require.Len(t, first.Participants, 2)
	assert.Equal(t, "Alice", first.Participants[0].Name)

	second, err := svc.CreateChat(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateChat_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		a, b    string
		wantErr error
	}{
		{"self chat", "alice", "alice", models.ErrSelfChat},
		{"empty id", "alice", "  ", models.ErrParticipantUnresolvable},
		{"unknown user", "alice", "mallory", models.ErrParticipantUnresolvable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateChat(ctx, tt.a, tt.b)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateChat_ReturnsHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	_, _, err = svc.SendMessage(ctx, chat.ID, "alice", "hi bob")
	require.NoError(t, err)
	_, _, err = svc.SendMessage(ctx, chat.ID, "bob", "hi alice")
	require.NoError(t, err)

	reopened, err := svc.CreateChat(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, reopened.Messages, 2)
	assert.Equal(t, "hi bob", reopened.Messages[0].Content)
	assert.Equal(t, "Alice", reopened.Messages[0].Sender.Name)
	assert.Equal(t, "Bob", reopened.Messages[1].Sender.Name)
}

func TestSendMessage_Errors(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)

	_, _, err = svc.SendMessage(ctx, chat.ID, "alice", "   ")
	assert.ErrorIs(t, err, models.ErrInvalidContent)

	_, _, err = svc.SendMessage(ctx, chat.ID, "carol", "hey")
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	_, _, err = svc.SendMessage(ctx, "stale-id", "alice", "hey")
	assert.ErrorIs(t, err, models.ErrChatNotFound)

	messages, err := repo.GetChatMessages(ctx, chat.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSendMessage_UpdatesActivity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, updated, err := svc.SendMessage(ctx, chat.ID, "alice", "hi bob")
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Sender.Name)
	assert.Equal(t, msg.CreatedAt, updated.UpdatedAt)
	assert.Len(t, updated.Participants, 2)
}

func TestGetUserChats_Hydrated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	withBob, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	withCarol, err := svc.CreateChat(ctx, "carol", "alice")
	require.NoError(t, err)
	_, _, err = svc.SendMessage(ctx, withBob.ID, "bob", "latest")
	require.NoError(t, err)

	chats, err := svc.GetUserChats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, withBob.ID, chats[0].ID)
	assert.Equal(t, withCarol.ID, chats[1].ID)
	for _, c := range chats {
		assert.Len(t, c.Participants, 2)
	}

	none, err := svc.GetUserChats(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetChatMessages_ClampsLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	for i := 0; i < MaxPageSize+5; i++ {
		_, _, err := svc.SendMessage(ctx, chat.ID, "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	messages, err := svc.GetChatMessages(ctx, chat.ID, 1000, 0)
	require.NoError(t, err)
	assert.Len(t, messages, MaxPageSize)

	messages, err = svc.GetChatMessages(ctx, chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, messages, DefaultPageSize)

	_, err = svc.GetChatMessages(ctx, "missing", 10, 0)
	assert.ErrorIs(t, err, models.ErrChatNotFound)
}

func TestMarkMessagesAsRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	_, _, err = svc.SendMessage(ctx, chat.ID, "alice", "one")
	require.NoError(t, err)

	count, err := svc.MarkMessagesAsRead(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.MarkMessagesAsRead(ctx, chat.ID, "carol")
	assert.ErrorIs(t, err, models.ErrNotParticipant)
}

// stalledRepository blocks appends until the caller's context ends.
type stalledRepository struct {
	repository.ChatRepository
}

func (r stalledRepository) AppendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error) {
	<-ctx.Done()
	return nil, nil, fmt.Errorf("%w: %v", models.ErrTransientStorage, ctx.Err())
}

func TestSendMessage_StalledStorageTimesOut(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	repo := stalledRepository{repository.NewMemoryRepository()}
	svc := NewChatService(repo, directory.NewStaticDirectory(), logger, 20*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, _, err := svc.SendMessage(context.Background(), "chat", "alice", "hello")
		done <- err
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, models.ErrTransientStorage))
	case <-time.After(2 * time.Second):
		t.Fatal("SendMessage did not time out")
	}
}
