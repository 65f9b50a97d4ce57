// Package store provides the in-process conversation registry for ZapRelay.
//
// Conversations are keyed by sender identifier and live for the process
// lifetime; there is no eviction. Growth is bounded only by the number of
// distinct senders, which is an accepted limitation of the deployment.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zaprelay/zaprelay/internal/models"
)

// Store is the conversation registry contract used by the pipeline and the
// debug API. Implementations must serialize mutations per sender while letting
// unrelated senders proceed in parallel, and must hand out copies so callers
// can never mutate registry-owned state.
type Store interface {
	// GetOrCreate returns the sender's conversation, creating it with
	// stage "new" and empty history on first contact.
	GetOrCreate(sender, senderName string, now time.Time) models.ConversationState

	// AppendUser appends a user-role history entry and bumps LastActivityAt.
	AppendUser(sender, text string, now time.Time)

	// AppendAssistant appends an assistant-role history entry.
	AppendAssistant(sender, text string, now time.Time)

	// SetStage updates the sender's stage.
	SetStage(sender string, stage models.Stage)

	// Snapshot returns a copy of the sender's conversation or models.ErrNotFound.
	Snapshot(sender string) (models.ConversationState, error)

	// SnapshotAll returns copies of every conversation.
	SnapshotAll() []models.ConversationState

	// Delete removes the sender's conversation or returns models.ErrNotFound.
	Delete(sender string) error

	// Count returns the number of tracked conversations.
	Count() int
}

// conversation pairs registry-owned state with its own lock so that two
// pipelines working the same sender cannot interleave mutations.
type conversation struct {
	mu    sync.Mutex
	state models.ConversationState
}

// InMemoryStore implements Store with a two-level locking scheme: a read-write
// mutex guards the sender map, each conversation guards its own state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

// NewInMemoryStore creates an empty conversation registry.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*conversation)}
}

// getOrCreate returns the live conversation entry for the sender, creating it
// under the map lock when absent. The caller must lock the entry before
// touching its state.
func (s *InMemoryStore) getOrCreate(sender, senderName string, now time.Time) *conversation {
	s.mu.RLock()
	c, ok := s.conversations[sender]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: another pipeline may have created it between the locks.
	if c, ok = s.conversations[sender]; ok {
		return c
	}
	c = &conversation{state: models.ConversationState{
		Sender:         sender,
		SenderName:     senderName,
		FirstContactAt: now,
		LastActivityAt: now,
		Stage:          models.StageNew,
	}}
	s.conversations[sender] = c
	slog.Debug("InMemoryStore.getOrCreate: conversation created", "sender", sender)
	return c
}

// GetOrCreate returns a copy of the sender's conversation, creating it on
// first contact. FirstContactAt is never rewritten for an existing sender.
func (s *InMemoryStore) GetOrCreate(sender, senderName string, now time.Time) models.ConversationState {
	c := s.getOrCreate(sender, senderName, now)
	c.mu.Lock()
	defer c.mu.Unlock()
	if senderName != "" && c.state.SenderName == "" {
		c.state.SenderName = senderName
	}
	return copyState(&c.state)
}

// AppendUser appends a user message and updates LastActivityAt. The
// conversation is created implicitly if the sender is unknown.
func (s *InMemoryStore) AppendUser(sender, text string, now time.Time) {
	c := s.getOrCreate(sender, "", now)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.History = append(c.state.History, models.HistoryEntry{Role: models.RoleUser, Text: text, Time: now})
	c.state.LastActivityAt = now
}

// AppendAssistant appends an assistant message.
func (s *InMemoryStore) AppendAssistant(sender, text string, now time.Time) {
	c := s.getOrCreate(sender, "", now)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.History = append(c.state.History, models.HistoryEntry{Role: models.RoleAssistant, Text: text, Time: now})
}

// SetStage updates the sender's stage. Unknown senders are ignored.
func (s *InMemoryStore) SetStage(sender string, stage models.Stage) {
	s.mu.RLock()
	c, ok := s.conversations[sender]
	s.mu.RUnlock()
	if !ok {
		slog.Warn("InMemoryStore.SetStage: unknown sender", "sender", sender)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Stage = stage
}

// Snapshot returns a copy of the sender's conversation.
func (s *InMemoryStore) Snapshot(sender string) (models.ConversationState, error) {
	s.mu.RLock()
	c, ok := s.conversations[sender]
	s.mu.RUnlock()
	if !ok {
		return models.ConversationState{}, models.ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(&c.state), nil
}

// SnapshotAll returns copies of every conversation in unspecified order.
func (s *InMemoryStore) SnapshotAll() []models.ConversationState {
	s.mu.RLock()
	entries := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		entries = append(entries, c)
	}
	s.mu.RUnlock()

	out := make([]models.ConversationState, 0, len(entries))
	for _, c := range entries {
		c.mu.Lock()
		out = append(out, copyState(&c.state))
		c.mu.Unlock()
	}
	return out
}

// Delete removes the sender's conversation.
func (s *InMemoryStore) Delete(sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[sender]; !ok {
		return models.ErrNotFound
	}
	delete(s.conversations, sender)
	slog.Info("InMemoryStore.Delete: conversation removed", "sender", sender)
	return nil
}

// Count returns the number of tracked conversations.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// copyState deep-copies a conversation state, detaching the history slice.
func copyState(state *models.ConversationState) models.ConversationState {
	out := *state
	if len(state.History) > 0 {
		out.History = make([]models.HistoryEntry, len(state.History))
		copy(out.History, state.History)
	}
	return out
}
