package msghttp

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// Store holds messages in memory. Persistence is out of scope for this
// service; the store exists to give the protected API a real surface.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	max      int
}

// NewStore creates a message store capped at max messages; when the cap is
// reached the oldest messages are dropped. 0 means a default of 10000.
func NewStore(max int) *Store {
	if max <= 0 {
		max = 10000
	}
	return &Store{max: max}
}

// Add records a message and returns it with ID and timestamp filled in.
func (s *Store) Add(sender, recipient, content string, now time.Time) Message {
	m := Message{
		ID:        newMessageID(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		SentAt:    now.UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, m)
	if len(s.messages) > s.max {
		s.messages = append(s.messages[:0], s.messages[len(s.messages)-s.max:]...)
	}
	s.mu.Unlock()

	return m
}

// For returns the messages visible to user, newest first: everything they
// sent or received. peer, when non-empty, narrows to one conversation.
func (s *Store) For(user, peer string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Sender != user && m.Recipient != user {
			continue
		}
		if peer != "" && m.Sender != peer && m.Recipient != peer {
			continue
		}
		out = append(out, m)
	}
	return out
}

// All returns every stored message, newest first. Admin surface only.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[len(s.messages)-1-i] = m
	}
	return out
}

// Conversations aggregates the user's messages per peer, most recently
// active first.
func (s *Store) Conversations(user string) []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPeer := make(map[string]*Conversation)
	for _, m := range s.messages {
		var peer string
		switch user {
		case m.Sender:
			peer = m.Recipient
		case m.Recipient:
			peer = m.Sender
		default:
			continue
		}
		c, ok := byPeer[peer]
		if !ok {
			c = &Conversation{Peer: peer}
			byPeer[peer] = c
		}
		c.MessageCount++
		if m.SentAt.After(c.LastMessageAt) {
			c.LastMessageAt = m.SentAt
		}
	}

	out := make([]Conversation, 0, len(byPeer))
	for _, c := range byPeer {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Len reports the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func newMessageID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
