package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potluck/chat-service/internal/models"
)

var chatColumns = []string{"id", "user_id1", "user_id2", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (ChatRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewChatRepository(db), mock
}

func TestGetOrCreateChat_SortsPair(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats (id, user_id1, user_id2)")).
		WithArgs(sqlmock.AnyArg(), "alice", "bob").
		WillReturnRows(sqlmock.NewRows(chatColumns).AddRow("chat-1", "alice", "bob", now, now))

	chat, err := repo.GetOrCreateChat(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", chat.ID)
	assert.Equal(t, "alice", chat.UserID1)
	assert.Equal(t, "bob", chat.UserID2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChatByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM chats").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(chatColumns))

	_, err := repo.GetChatByID(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrChatNotFound)
}

func TestGetChatByID_InvalidUUID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM chats").
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02"})

	_, err := repo.GetChatByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrChatNotFound)
}

func TestAppendMessage_Success(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now().UTC().Add(-time.Hour)
	sent := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows(chatColumns).AddRow("chat-1", "alice", "bob", created, created))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(sqlmock.AnyArg(), "chat-1", "alice", "hi bob").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "created_at"}).AddRow(7, sent))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats SET updated_at")).
		WithArgs("chat-1", sent).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(sent))
	mock.ExpectCommit()

	msg, chat, err := repo.AppendMessage(context.Background(), "chat-1", "alice", "hi bob")
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.Seq)
	assert.Equal(t, "alice", msg.SenderID)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, sent, chat.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage_NotParticipantRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows(chatColumns).AddRow("chat-1", "alice", "bob", now, now))
	mock.ExpectRollback()

	_, _, err := repo.AppendMessage(context.Background(), "chat-1", "carol", "hey")
	assert.ErrorIs(t, err, models.ErrNotParticipant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage_UnknownChat(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("chat-x").
		WillReturnRows(sqlmock.NewRows(chatColumns))
	mock.ExpectRollback()

	_, _, err := repo.AppendMessage(context.Background(), "chat-x", "alice", "hi")
	assert.ErrorIs(t, err, models.ErrChatNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage_TransientFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006"})

	_, _, err := repo.AppendMessage(context.Background(), "chat-1", "alice", "hi")
	assert.ErrorIs(t, err, models.ErrTransientStorage)
}

func TestGetChatMessages_OldestFirst(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "seq", "chat_id", "sender_id", "content", "created_at", "read_at"}).
		AddRow("m3", 3, "chat-1", "bob", "third", now, nil).
		AddRow("m2", 2, "chat-1", "alice", "second", now, now)
	mock.ExpectQuery("seq < \\$2").
		WithArgs("chat-1", int64(4), 2).
		WillReturnRows(rows)

	messages, err := repo.GetChatMessages(context.Background(), "chat-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m2", messages[0].ID)
	assert.NotNil(t, messages[0].ReadAt)
	assert.Equal(t, "m3", messages[1].ID)
	assert.Nil(t, messages[1].ReadAt)
}

func TestMarkMessagesAsRead(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages")).
		WithArgs("chat-1", "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.MarkMessagesAsRead(context.Background(), "chat-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, models.ErrChatNotFound},
		{"deadline", context.DeadlineExceeded, models.ErrTransientStorage},
		{"connection failure", &pq.Error{Code: "08001"}, models.ErrTransientStorage},
		{"serialization failure", &pq.Error{Code: "40001"}, models.ErrTransientStorage},
		{"admin shutdown", &pq.Error{Code: "57P01"}, models.ErrTransientStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	assert.NoError(t, classify(nil))

	unique := &pq.Error{Code: "23505"}
	assert.Same(t, unique, classify(unique))
}
