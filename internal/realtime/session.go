package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send buffer full")
)

// Session is one live client connection. Outbound payloads are queued on a
// bounded buffer drained by the transport; a full buffer closes the session
// so a slow client never holds up a broadcast.
type Session struct {
	id      string
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter

	mu      sync.RWMutex
	userID  string
	onClose func()
}

// NewSession creates a session with the given outbound buffer size. A nil
// limiter disables send rate limiting.
func NewSession(buffer int, limiter *rate.Limiter) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		id:      uuid.NewString(),
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

func (s *Session) ID() string {
	return s.id
}

// UserID is the user bound by join-user, or empty.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) bindUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// OnClose registers fn to run once when the session closes.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) Send(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.Close()
		return ErrSlowConsumer
	}
}

// Outbound yields queued payloads in send order.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.RLock()
		fn := s.onClose
		s.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
}

func (s *Session) allowSend() bool {
	return s.limiter == nil || s.limiter.Allow()
}
