package realtime

import (
	"encoding/json"
	"errors"

	"potluck/chat-service/internal/models"
)

const (
	EventJoinUser    = "join-user"
	EventJoinChat    = "join-chat"
	EventLeaveChat   = "leave-chat"
	EventSendMessage = "send-message"

	EventNewMessage = "new-message"
	EventSendFailed = "send-failed"
	EventError      = "error"
)

// Failure codes carried by send-failed and error events.
const (
	CodeNotFound           = "not_found"
	CodeNotAParticipant    = "not_a_participant"
	CodeInvalidContent     = "invalid_content"
	CodeStorageUnavailable = "storage_unavailable"
	CodeRateLimited        = "rate_limited"
	CodeSenderMismatch     = "sender_mismatch"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

// Envelope frames every push-channel message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinUserPayload struct {
	UserID string `json:"userId"`
}

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

type SendMessagePayload struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

type NewMessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message *models.Message `json:"message"`
	Chat    *models.Chat    `json:"chat"`
}

type SendFailedPayload struct {
	ChatID   string `json:"chatId"`
	ClientID string `json:"clientId,omitempty"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Encode marshals data into an envelope for event.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// FailureCode maps a send error to its push-channel code.
func FailureCode(err error) string {
	switch {
	case errors.Is(err, models.ErrChatNotFound):
		return CodeNotFound
	case errors.Is(err, models.ErrNotParticipant):
		return CodeNotAParticipant
	case errors.Is(err, models.ErrInvalidContent):
		return CodeInvalidContent
	case errors.Is(err, models.ErrTransientStorage):
		return CodeStorageUnavailable
	}
	return CodeInternal
}
