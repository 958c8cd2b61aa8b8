package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/models"
	"potluck/chat-service/internal/realtime"
)

// API is the request/response surface a viewer needs to open a chat.
type API interface {
	GetOrCreateChat(ctx context.Context, userID, otherUserID string) (*models.Chat, error)
}

// Socket is the single push connection shared by all windows of a viewer.
// Events is closed when the connection ends.
type Socket interface {
	Emit(ctx context.Context, event string, data interface{}) error
	Events() <-chan realtime.Envelope
	Close() error
}

// HTTPAPI talks to the chat service's JSON endpoints.
type HTTPAPI struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (a *HTTPAPI) GetOrCreateChat(ctx context.Context, userID, otherUserID string) (*models.Chat, error) {
	body, err := json.Marshal(map[string]string{
		"user_id1": userID,
		"user_id2": otherUserID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chats", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStorage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var chat models.Chat
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &chat, nil
}

var errorsByCode = map[string]error{
	"not_found":                models.ErrChatNotFound,
	"participant_unresolvable": models.ErrParticipantUnresolvable,
	"not_a_participant":        models.ErrNotParticipant,
	"invalid_content":          models.ErrInvalidContent,
	"self_chat":                models.ErrSelfChat,
	"storage_unavailable":      models.ErrTransientStorage,
}

func decodeError(resp *http.Response) error {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if err, ok := errorsByCode[body.Code]; ok {
		return fmt.Errorf("%w: %s", err, body.Error)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s", models.ErrTransientStorage, resp.Status)
	}
	return fmt.Errorf("chat api: %s: %s", resp.Status, body.Error)
}

// WSSocket is a Socket over a gorilla/websocket connection.
type WSSocket struct {
	conn   *websocket.Conn
	events chan realtime.Envelope
	logger *logrus.Logger

	writeMu sync.Mutex
	once    sync.Once
}

// DialSocket connects to the push endpoint at url (ws:// or wss://).
func DialSocket(ctx context.Context, url string, logger *logrus.Logger) (*WSSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	s := &WSSocket{
		conn:   conn,
		events: make(chan realtime.Envelope, 64),
		logger: logger,
	}
	go s.readLoop()
	return s, nil
}

func (s *WSSocket) readLoop() {
	defer close(s.events)
	for {
		var env realtime.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Warn("Push connection lost")
			}
			return
		}
		s.events <- env
	}
}

func (s *WSSocket) Emit(ctx context.Context, event string, data interface{}) error {
	payload, err := realtime.Encode(event, data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSSocket) Events() <-chan realtime.Envelope {
	return s.events
}

func (s *WSSocket) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
