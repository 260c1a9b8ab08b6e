package conversation

import "sync"

// Store holds every message seen for the lifetime of the attached page,
// grouped by conversation. A later record for the same id replaces the
// earlier one wholly; first-seen order is preserved across replacement.
// Records are never deleted before teardown.
type Store struct {
	mu     sync.RWMutex
	byConv map[string]*convEntry
}

type convEntry struct {
	order []string
	byID  map[string]*Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byConv: make(map[string]*convEntry)}
}

// Upsert inserts or replaces a message. Later write wins, full replace.
func (s *Store) Upsert(msg *Message) {
	if msg == nil || msg.ID == "" {
		return
	}
	conv := msg.ConversationID
	if conv == "" {
		conv = UnknownConversation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byConv[conv]
	if !ok {
		entry = &convEntry{byID: make(map[string]*Message)}
		s.byConv[conv] = entry
	}
	if _, seen := entry.byID[msg.ID]; !seen {
		entry.order = append(entry.order, msg.ID)
	}
	entry.byID[msg.ID] = msg
}

// Messages returns the conversation's messages in first-seen order.
func (s *Store) Messages(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byConv[conversationID]
	if !ok {
		return nil
	}
	out := make([]*Message, 0, len(entry.order))
	for _, id := range entry.order {
		out = append(out, entry.byID[id])
	}
	return out
}

// Conversations lists the conversation ids with at least one message.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byConv))
	for id := range s.byConv {
		out = append(out, id)
	}
	return out
}

// Len returns the total message count across conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, entry := range s.byConv {
		n += len(entry.order)
	}
	return n
}

// Clear drops everything. Teardown only.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConv = make(map[string]*convEntry)
}
