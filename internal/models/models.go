// Package models defines the core data structures for ZapRelay.
//
// It includes the canonical inbound message, per-sender conversation state,
// AI reply and pipeline outcome types shared across modules.
package models

import (
	"errors"
	"time"
)

// Stage classifies a sender's relationship with the business.
type Stage string

const (
	// StageNew indicates a sender on their first contact.
	StageNew Stage = "new"
	// StageReturning indicates a sender with more than one message.
	StageReturning Stage = "returning"
	// StageAtRisk indicates a sender inactive for more than 14 days.
	StageAtRisk Stage = "at_risk"
	// StageEstablished indicates a sender past 30 days since first contact.
	StageEstablished Stage = "established"
	// StageUnknown indicates the stage could not be determined.
	StageUnknown Stage = "unknown"
	// StageError indicates classification failed upstream.
	StageError Stage = "error"
)

// IsValidStage checks if the given stage value is supported.
func IsValidStage(s Stage) bool {
	switch s {
	case StageNew, StageReturning, StageAtRisk, StageEstablished, StageUnknown, StageError:
		return true
	default:
		return false
	}
}

// Role identifies the author of a history entry.
type Role string

const (
	// RoleUser marks an entry written by the sender.
	RoleUser Role = "user"
	// RoleAssistant marks an entry written by the AI.
	RoleAssistant Role = "assistant"
)

// HistoryEntry is a single, immutable turn in a conversation.
type HistoryEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// ConversationState holds everything known about a single sender.
// Instances are owned exclusively by the store; callers receive copies.
type ConversationState struct {
	Sender         string         `json:"sender"`
	SenderName     string         `json:"sender_name,omitempty"`
	History        []HistoryEntry `json:"history"`
	FirstContactAt time.Time      `json:"first_contact_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Stage          Stage          `json:"stage"`
}

// LastHistory returns up to n most recent history entries, oldest first.
func (c *ConversationState) LastHistory(n int) []HistoryEntry {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	start := len(c.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]HistoryEntry, len(c.History)-start)
	copy(out, c.History[start:])
	return out
}

// CanonicalMessage is the normalized form of an inbound webhook payload.
// Processable is false for control sub-events, empty bodies and unrecognized
// shapes; such messages are acknowledged but never enter the pipeline.
type CanonicalMessage struct {
	Sender      string
	SenderName  string
	Text        string
	IsGroup     bool
	Processable bool
}

// AIReply is the structured answer from the AI backend.
type AIReply struct {
	Text          string
	Stage         Stage
	RequiresHuman bool
}

// Outcome is the terminal record of one pipeline run.
// Processed is false when the inbound payload was ignored as not processable.
type Outcome struct {
	ID            string `json:"id"`
	Sender        string `json:"sender,omitempty"`
	Processed     bool   `json:"processed"`
	Delivered     bool   `json:"delivered"`
	Stage         Stage  `json:"stage,omitempty"`
	RequiresHuman bool   `json:"requires_human"`
}

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyMessage   = errors.New("message text cannot be empty")
	ErrNotFound       = errors.New("conversation not found")
	ErrInvalidStage   = errors.New("invalid stage value")
)
