package client

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"potluck/chat-service/internal/models"
	"potluck/chat-service/internal/realtime"
)

// Window is the local view of one open chat: the chat metadata and its
// messages ordered by Seq, seeded from history and extended by pushes.
type Window struct {
	chatID string
	userID string
	socket Socket

	mu       sync.RWMutex
	chat     models.Chat
	messages []*models.Message
	ids      map[string]struct{}

	updates  chan struct{}
	failures chan realtime.SendFailedPayload
}

func newWindow(userID string, chat *models.Chat, socket Socket) *Window {
	w := &Window{
		chatID:   chat.ID,
		userID:   userID,
		socket:   socket,
		ids:      make(map[string]struct{}),
		updates:  make(chan struct{}, 1),
		failures: make(chan realtime.SendFailedPayload, 16),
	}
	w.chat = *chat
	w.chat.Messages = nil
	for _, m := range chat.Messages {
		w.insert(m)
	}
	return w
}

func (w *Window) ChatID() string {
	return w.chatID
}

// Chat returns the latest known chat metadata.
func (w *Window) Chat() models.Chat {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chat
}

// Messages returns a snapshot of the window's messages in Seq order.
func (w *Window) Messages() []*models.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.messages)
}

// Apply merges a new-message event. Events for other chats and messages
// already present are ignored; it reports whether the window changed.
func (w *Window) Apply(p realtime.NewMessagePayload) bool {
	if p.ChatID != w.chatID || p.Message == nil {
		return false
	}

	w.mu.Lock()
	added := w.insert(p.Message)
	if p.Chat != nil {
		w.updateChat(p.Chat)
	}
	w.mu.Unlock()

	if added {
		w.notify()
	}
	return added
}

// merge folds a freshly fetched chat into the window.
func (w *Window) merge(chat *models.Chat) {
	w.mu.Lock()
	added := false
	for _, m := range chat.Messages {
		if w.insert(m) {
			added = true
		}
	}
	w.updateChat(chat)
	w.mu.Unlock()

	if added {
		w.notify()
	}
}

func (w *Window) insert(m *models.Message) bool {
	if _, ok := w.ids[m.ID]; ok {
		return false
	}
	i, _ := slices.BinarySearchFunc(w.messages, m.Seq, func(e *models.Message, seq int64) int {
		return cmp.Compare(e.Seq, seq)
	})
	w.messages = slices.Insert(w.messages, i, m)
	w.ids[m.ID] = struct{}{}
	return true
}

func (w *Window) updateChat(c *models.Chat) {
	if c.UpdatedAt.After(w.chat.UpdatedAt) {
		w.chat.UpdatedAt = c.UpdatedAt
	}
	if len(c.Participants) > 0 {
		w.chat.Participants = c.Participants
	}
}

// Send emits send-message and returns the client id that a send-failed
// event for this attempt will carry.
func (w *Window) Send(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", models.ErrInvalidContent
	}
	clientID := uuid.NewString()
	err := w.socket.Emit(ctx, realtime.EventSendMessage, realtime.SendMessagePayload{
		ChatID:   w.chatID,
		SenderID: w.userID,
		Content:  content,
		ClientID: clientID,
	})
	if err != nil {
		return "", err
	}
	return clientID, nil
}

// Updates receives a signal whenever messages were added. Signals coalesce.
func (w *Window) Updates() <-chan struct{} {
	return w.updates
}

// Failures yields rejected sends of this window.
func (w *Window) Failures() <-chan realtime.SendFailedPayload {
	return w.failures
}

func (w *Window) fail(p realtime.SendFailedPayload) bool {
	select {
	case w.failures <- p:
		return true
	default:
		return false
	}
}

func (w *Window) notify() {
	select {
	case w.updates <- struct{}{}:
	default:
	}
}
