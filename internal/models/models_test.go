package models

import (
	"testing"
	"time"
)

func TestIsValidStage(t *testing.T) {
	valid := []Stage{StageNew, StageReturning, StageAtRisk, StageEstablished, StageUnknown, StageError}
	for _, s := range valid {
		if !IsValidStage(s) {
			t.Errorf("expected stage %q to be valid", s)
		}
	}
	if IsValidStage(Stage("vip")) {
		t.Error("expected unknown stage value to be invalid")
	}
	if IsValidStage(Stage("")) {
		t.Error("expected empty stage to be invalid")
	}
}

func TestLastHistory(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &ConversationState{Sender: "5511999"}
	for i := 0; i < 7; i++ {
		state.History = append(state.History, HistoryEntry{
			Role: RoleUser,
			Text: string(rune('a' + i)),
			Time: base.Add(time.Duration(i) * time.Minute),
		})
	}

	last := state.LastHistory(5)
	if len(last) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(last))
	}
	// Oldest-first: entries c..g
	if last[0].Text != "c" || last[4].Text != "g" {
		t.Errorf("unexpected window: first=%q last=%q", last[0].Text, last[4].Text)
	}
}

func TestLastHistoryShorterThanWindow(t *testing.T) {
	state := &ConversationState{
		History: []HistoryEntry{{Role: RoleUser, Text: "oi"}},
	}
	last := state.LastHistory(5)
	if len(last) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(last))
	}
	if last[0].Text != "oi" {
		t.Errorf("unexpected entry %q", last[0].Text)
	}
}

func TestLastHistoryEmpty(t *testing.T) {
	state := &ConversationState{}
	if got := state.LastHistory(5); got != nil {
		t.Errorf("expected nil window for empty history, got %v", got)
	}
	if got := state.LastHistory(0); got != nil {
		t.Errorf("expected nil window for n=0, got %v", got)
	}
}

func TestLastHistoryReturnsCopy(t *testing.T) {
	state := &ConversationState{
		History: []HistoryEntry{{Role: RoleUser, Text: "original"}},
	}
	window := state.LastHistory(1)
	window[0].Text = "mutated"
	if state.History[0].Text != "original" {
		t.Error("LastHistory must not alias the underlying history")
	}
}
