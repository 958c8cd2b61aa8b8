package models

import (
	"time"
)

// Chat is a two-party conversation. UserID1 and UserID2 are stored sorted so
// a pair maps to exactly one row regardless of who opened it. UpdatedAt is the
// time of the latest message (LastActivity).
type Chat struct {
	ID        string    `json:"id"`
	UserID1   string    `json:"user_id1"`
	UserID2   string    `json:"user_id2"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Participants []Profile  `json:"participants,omitempty"`
	Messages     []*Message `json:"messages,omitempty"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Chat) HasParticipant(userID string) bool {
	return c != nil && userID != "" && (c.UserID1 == userID || c.UserID2 == userID)
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID string) string {
	if c.UserID1 == userID {
		return c.UserID2
	}
	return c.UserID1
}

// Message is an immutable entry of a chat log. Seq is assigned at persistence
// time and totally orders the messages of a chat.
type Message struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	ChatID    string     `json:"chat_id"`
	SenderID  string     `json:"sender_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`

	Sender *Profile `json:"sender,omitempty"`
}

// Profile is the display metadata of a user.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// SortedPair orders two user ids the way they are stored on a Chat.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
