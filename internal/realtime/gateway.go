package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/models"
)

// MessageSender persists a message. service.ChatService satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error)
}

// Gateway coordinates sessions, the registry and the conversation store.
// Messages are persisted before they are broadcast, and a chat's lock is held
// across both steps so broadcast order matches persistence order.
type Gateway struct {
	registry *Registry
	broker   Broker
	sender   MessageSender
	logger   *logrus.Logger
	locks    *keyedMutex
}

func NewGateway(registry *Registry, broker Broker, sender MessageSender, logger *logrus.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		broker:   broker,
		sender:   sender,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Connect registers a new session.
func (g *Gateway) Connect(s *Session) {
	g.registry.Attach(s)
	g.logger.WithField("session_id", s.ID()).Debug("Session connected")
}

// Disconnect drops all subscriptions of the session and closes it.
func (g *Gateway) Disconnect(s *Session) {
	g.registry.UnsubscribeAll(s.ID())
	s.Close()
	g.logger.WithFields(logrus.Fields{
		"session_id": s.ID(),
		"user_id":    s.UserID(),
	}).Debug("Session disconnected")
}

// JoinUser binds the session to userID and subscribes it to the user's
// personal channel.
func (g *Gateway) JoinUser(s *Session, userID string) bool {
	if userID == "" {
		return false
	}
	s.bindUser(userID)
	return g.registry.Subscribe(s.ID(), UserChannel(userID))
}

func (g *Gateway) JoinChat(s *Session, chatID string) bool {
	if chatID == "" {
		return false
	}
	return g.registry.Subscribe(s.ID(), ChatChannel(chatID))
}

func (g *Gateway) LeaveChat(s *Session, chatID string) {
	g.registry.Unsubscribe(s.ID(), ChatChannel(chatID))
}

// Deliver persists a message and broadcasts new-message to the chat channel.
// Nothing is broadcast when persistence fails.
func (g *Gateway) Deliver(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error) {
	unlock := g.locks.Lock(chatID)
	defer unlock()

	msg, chat, err := g.sender.SendMessage(ctx, chatID, senderID, content)
	if err != nil {
		return nil, nil, err
	}

	payload, err := Encode(EventNewMessage, NewMessagePayload{
		ChatID:  chat.ID,
		Message: msg,
		Chat:    chat,
	})
	if err != nil {
		g.logger.WithError(err).Error("Failed to encode new-message")
		return msg, chat, nil
	}

	// The message is durable at this point; a failed publish only loses the
	// live push, clients recover it from history.
	if err := g.broker.Publish(ctx, ChatChannel(chat.ID), payload); err != nil {
		g.logger.WithError(err).WithField("chat_id", chat.ID).Error("Failed to broadcast message")
	}

	return msg, chat, nil
}

// HandleMessage decodes and dispatches one inbound envelope.
func (g *Gateway) HandleMessage(ctx context.Context, s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.reply(s, EventError, ErrorPayload{Code: CodeBadRequest, Error: "invalid envelope"})
		return
	}

	log := g.logger.WithFields(logrus.Fields{
		"session_id": s.ID(),
		"event":      env.Event,
	})

	switch env.Event {
	case EventJoinUser:
		var p JoinUserPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || strings.TrimSpace(p.UserID) == "" {
			g.reply(s, EventError, ErrorPayload{Code: CodeBadRequest, Error: "join-user requires userId"})
			return
		}
		g.JoinUser(s, p.UserID)
		log.WithField("user_id", p.UserID).Debug("Joined user channel")

	case EventJoinChat:
		var p JoinChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || strings.TrimSpace(p.ChatID) == "" {
			g.reply(s, EventError, ErrorPayload{Code: CodeBadRequest, Error: "join-chat requires chatId"})
			return
		}
		g.JoinChat(s, p.ChatID)
		log.WithField("chat_id", p.ChatID).Debug("Joined chat channel")

	case EventLeaveChat:
		var p JoinChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.reply(s, EventError, ErrorPayload{Code: CodeBadRequest, Error: "leave-chat requires chatId"})
			return
		}
		g.LeaveChat(s, p.ChatID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.reply(s, EventError, ErrorPayload{Code: CodeBadRequest, Error: "malformed send-message"})
			return
		}
		g.handleSend(ctx, s, p, log)

	default:
		g.reply(s, EventError, ErrorPayload{Code: CodeBadRequest, Error: "unknown event " + env.Event})
	}
}

func (g *Gateway) handleSend(ctx context.Context, s *Session, p SendMessagePayload, log *logrus.Entry) {
	fail := func(code, msg string) {
		g.reply(s, EventSendFailed, SendFailedPayload{
			ChatID:   p.ChatID,
			ClientID: p.ClientID,
			Code:     code,
			Error:    msg,
		})
	}

	bound := s.UserID()
	if p.SenderID == "" {
		p.SenderID = bound
	}
	if bound != "" && p.SenderID != bound {
		fail(CodeSenderMismatch, "senderId does not match the joined user")
		return
	}
	if !s.allowSend() {
		fail(CodeRateLimited, "too many messages")
		return
	}

	if _, _, err := g.Deliver(ctx, p.ChatID, p.SenderID, p.Content); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"chat_id":   p.ChatID,
			"sender_id": p.SenderID,
		}).Warn("send-message failed")
		fail(FailureCode(err), err.Error())
	}
}

func (g *Gateway) reply(s *Session, event string, data interface{}) {
	payload, err := Encode(event, data)
	if err != nil {
		g.logger.WithError(err).Error("Failed to encode reply")
		return
	}
	_ = s.Send(payload)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
