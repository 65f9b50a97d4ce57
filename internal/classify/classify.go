// Package classify computes a sender's relationship stage from conversation state.
package classify

import (
	"time"

	"github.com/zaprelay/zaprelay/internal/models"
)

const (
	// AtRiskAfterDays is the inactivity threshold beyond which a sender is at risk.
	AtRiskAfterDays = 14
	// EstablishedAfterDays is the relationship age threshold for an established sender.
	EstablishedAfterDays = 30
)

// Compute derives the stage for the given state at the given instant.
//
// The rules are applied in fixed order and later rules override earlier ones:
// a sender past both the 14-day inactivity and the 30-day age threshold always
// lands on established. This ordering is load-bearing and must not be changed.
func Compute(state *models.ConversationState, now time.Time) models.Stage {
	stage := state.Stage
	if stage == "" {
		stage = models.StageNew
	}

	if stage == models.StageNew && len(state.History) > 1 {
		stage = models.StageReturning
	}
	if now.Sub(state.LastActivityAt) > AtRiskAfterDays*24*time.Hour {
		stage = models.StageAtRisk
	}
	if now.Sub(state.FirstContactAt) > EstablishedAfterDays*24*time.Hour {
		stage = models.StageEstablished
	}
	return stage
}

// DaysSinceFirstContact returns whole days elapsed since first contact, floored.
// Used to build the context summary sent to the AI backend.
func DaysSinceFirstContact(state *models.ConversationState, now time.Time) int {
	return int(now.Sub(state.FirstContactAt).Hours() / 24)
}
