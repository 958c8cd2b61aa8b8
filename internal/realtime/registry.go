package realtime

import (
	"sort"
	"sync"
)

const (
	userChannelPrefix = "user:"
	chatChannelPrefix = "conversation:"
)

// UserChannel is the personal inbox channel of a user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// ChatChannel is the channel carrying the messages of one chat.
func ChatChannel(chatID string) string {
	return chatChannelPrefix + chatID
}

// Sink is a subscriber endpoint. Send must not block.
type Sink interface {
	ID() string
	Send(payload []byte) error
}

// Registry maps channels to the sessions subscribed to them. State lives for
// the process lifetime only; clients re-subscribe after reconnecting.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Sink                // sessionID -> sink
	channels map[string]map[string]struct{} // channel -> set of sessionIDs
	joined   map[string]map[string]struct{} // sessionID -> set of channels
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Sink),
		channels: make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Attach makes a session known to the registry so it can subscribe.
func (r *Registry) Attach(s Sink) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	if r.joined[s.ID()] == nil {
		r.joined[s.ID()] = make(map[string]struct{})
	}
	r.mu.Unlock()
}

// Subscribe adds the session to channel. It is idempotent and reports false
// when the session is not attached.
func (r *Registry) Subscribe(sessionID, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}

	members := r.channels[channel]
	if members == nil {
		members = make(map[string]struct{})
		r.channels[channel] = members
	}
	members[sessionID] = struct{}{}
	r.joined[sessionID][channel] = struct{}{}
	return true
}

func (r *Registry) Unsubscribe(sessionID, channel string) {
	r.mu.Lock()
	r.unsubscribeLocked(sessionID, channel)
	r.mu.Unlock()
}

// UnsubscribeAll drops every subscription of the session and forgets it.
func (r *Registry) UnsubscribeAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel := range r.joined[sessionID] {
		r.unsubscribeLocked(sessionID, channel)
	}
	delete(r.joined, sessionID)
	delete(r.sessions, sessionID)
}

// MembersOf returns the session ids subscribed to channel, sorted.
func (r *Registry) MembersOf(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// ChannelsOf returns the channels a session is subscribed to, sorted.
func (r *Registry) ChannelsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.joined[sessionID]))
	for ch := range r.joined[sessionID] {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// Publish hands payload to every subscriber of channel and returns how many
// accepted it. A failing subscriber does not affect the others.
func (r *Registry) Publish(channel string, payload []byte) int {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		if s, ok := r.sessions[id]; ok {
			sinks = append(sinks, s)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range sinks {
		if err := s.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Stats reports the number of attached sessions and live channels.
func (r *Registry) Stats() (sessions, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.channels)
}

func (r *Registry) unsubscribeLocked(sessionID, channel string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	if joined, ok := r.joined[sessionID]; ok {
		delete(joined, channel)
	}
}
