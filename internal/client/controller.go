package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/realtime"
)

// Controller owns the open chat windows of one viewer and routes pushed
// events to them. All windows share the controller's socket.
type Controller struct {
	userID string
	api    API
	socket Socket
	logger *logrus.Logger

	mu      sync.Mutex
	windows map[string]*Window
	joined  bool
}

func NewController(userID string, api API, socket Socket, logger *logrus.Logger) *Controller {
	return &Controller{
		userID:  userID,
		api:     api,
		socket:  socket,
		logger:  logger,
		windows: make(map[string]*Window),
	}
}

// Run dispatches socket events until the socket closes or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	events := c.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			c.dispatch(env)
		}
	}
}

func (c *Controller) dispatch(env realtime.Envelope) {
	log := c.logger.WithFields(logrus.Fields{
		"user_id": c.userID,
		"event":   env.Event,
	})

	switch env.Event {
	case realtime.EventNewMessage:
		var p realtime.NewMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.WithError(err).Warn("Malformed new-message")
			return
		}
		if w, ok := c.Window(p.ChatID); ok {
			w.Apply(p)
		}

	case realtime.EventSendFailed:
		var p realtime.SendFailedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.WithError(err).Warn("Malformed send-failed")
			return
		}
		w, ok := c.Window(p.ChatID)
		if !ok || !w.fail(p) {
			log.WithFields(logrus.Fields{
				"chat_id": p.ChatID,
				"code":    p.Code,
			}).Warn("Send failure dropped")
		}

	case realtime.EventError:
		var p realtime.ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		log.WithField("code", p.Code).Warn(p.Error)

	default:
		log.Debug("Ignoring event")
	}
}

// OpenChat opens the chat with otherUserID, creating it on first contact.
// An already open chat returns its existing window.
func (c *Controller) OpenChat(ctx context.Context, otherUserID string) (*Window, error) {
	chat, err := c.api.GetOrCreateChat(ctx, c.userID, otherUserID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if w, ok := c.windows[chat.ID]; ok {
		c.mu.Unlock()
		w.merge(chat)
		return w, nil
	}
	w := newWindow(c.userID, chat, c.socket)
	c.windows[chat.ID] = w
	needJoin := !c.joined
	c.joined = true
	c.mu.Unlock()

	if needJoin {
		if err := c.socket.Emit(ctx, realtime.EventJoinUser, realtime.JoinUserPayload{UserID: c.userID}); err != nil {
			c.drop(chat.ID, true)
			return nil, err
		}
	}
	if err := c.socket.Emit(ctx, realtime.EventJoinChat, realtime.JoinChatPayload{ChatID: chat.ID}); err != nil {
		c.drop(chat.ID, needJoin)
		return nil, err
	}

	// Messages persisted between the fetch and the join are picked up here.
	if latest, err := c.api.GetOrCreateChat(ctx, c.userID, otherUserID); err == nil {
		w.merge(latest)
	} else {
		c.logger.WithError(err).WithField("chat_id", chat.ID).Warn("Failed to resync chat")
	}

	c.logger.WithFields(logrus.Fields{
		"user_id": c.userID,
		"chat_id": chat.ID,
	}).Debug("Chat window opened")
	return w, nil
}

func (c *Controller) drop(chatID string, resetJoin bool) {
	c.mu.Lock()
	delete(c.windows, chatID)
	if resetJoin {
		c.joined = false
	}
	c.mu.Unlock()
}

// CloseChat forgets the window. The socket stays subscribed to the chat
// since it is shared with the viewer's other windows.
func (c *Controller) CloseChat(chatID string) {
	c.drop(chatID, false)
}

func (c *Controller) Window(chatID string) (*Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[chatID]
	return w, ok
}

func (c *Controller) Close() error {
	c.mu.Lock()
	c.windows = make(map[string]*Window)
	c.mu.Unlock()
	return c.socket.Close()
}
