// Package memory provides conversation history storage for multi-turn question answering.
package memory

import (
	"strings"
	"sync"
	"time"
)

// Message represents a single message in a conversation.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Conversation holds the message history for a session.
type Conversation struct {
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides in-memory conversation storage with TTL-based expiry.
// Sessions are keyed by the caller; use tenant-scoped session IDs to
// keep tenants isolated.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxMessages   int
	ttl           time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewStore creates a new conversation memory store. A background
// goroutine expires idle conversations; call Close to stop it.
func NewStore(maxMessages int, ttl time.Duration) *Store {
	s := &Store{
		conversations: make(map[string]*Conversation),
		maxMessages:   maxMessages,
		ttl:           ttl,
		stop:          make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// DefaultStore creates a store with sensible defaults:
// 20 messages per conversation (10 turns), 1 hour idle TTL.
func DefaultStore() *Store {
	return NewStore(20, 1*time.Hour)
}

// Close stops the background cleanup goroutine. The store remains usable.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// AddUserMessage adds a user message to the conversation.
func (s *Store) AddUserMessage(sessionID, content string) {
	s.addMessage(sessionID, "user", content)
}

// AddAssistantMessage adds an assistant message to the conversation.
func (s *Store) AddAssistantMessage(sessionID, content string) {
	s.addMessage(sessionID, "assistant", content)
}

func (s *Store) addMessage(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		conv = &Conversation{
			Messages:  make([]Message, 0),
			CreatedAt: time.Now(),
		}
		s.conversations[sessionID] = conv
	}

	conv.Messages = append(conv.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	conv.UpdatedAt = time.Now()

	// Trim old messages, keeping the most recent ones
	if len(conv.Messages) > s.maxMessages {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxMessages:]
	}
}

// GetHistory returns the conversation history for a session.
// Returns nil if the session doesn't exist.
func (s *Store) GetHistory(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		return nil
	}

	messages := make([]Message, len(conv.Messages))
	copy(messages, conv.Messages)
	return messages
}

// GetRecentHistory returns the last n messages for context window management.
func (s *Store) GetRecentHistory(sessionID string, n int) []Message {
	history := s.GetHistory(sessionID)
	if history == nil || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// ClearSession removes a conversation from memory.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionID)
}

// Len returns the number of active conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, conv := range s.conversations {
		if now.Sub(conv.UpdatedAt) > s.ttl {
			delete(s.conversations, id)
		}
	}
}

// FormatForPrompt formats the conversation history for inclusion in an
// LLM prompt. Returns an empty string if there is no history.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			b.WriteString("User: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
