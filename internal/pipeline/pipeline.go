// Package pipeline orchestrates the per-message flow: conversation context,
// classification, AI relay and outbound delivery.
//
// One Process call handles one inbound canonical message from start to Done.
// No step is fatal: relay failures degrade, delivery failures are recorded,
// and the outcome always materializes. Many pipelines run concurrently, one
// per in-flight webhook delivery; the store serializes same-sender mutations.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zaprelay/zaprelay/internal/classify"
	"github.com/zaprelay/zaprelay/internal/delivery"
	"github.com/zaprelay/zaprelay/internal/models"
	"github.com/zaprelay/zaprelay/internal/relay"
	"github.com/zaprelay/zaprelay/internal/store"
)

// Pipeline wires the conversation store, the AI relay and the delivery
// service into the per-message processing sequence.
type Pipeline struct {
	store   store.Store
	relay   relay.Client
	deliver delivery.Service
	now     func() time.Time
}

// New creates a pipeline over the given collaborators.
func New(st store.Store, rc relay.Client, ds delivery.Service) *Pipeline {
	return &Pipeline{store: st, relay: rc, deliver: ds, now: time.Now}
}

// Process runs one inbound message through the full sequence and returns the
// terminal outcome. Messages marked not processable are ignored without
// touching any state.
func (p *Pipeline) Process(ctx context.Context, msg models.CanonicalMessage) models.Outcome {
	outcome := models.Outcome{ID: uuid.NewString(), Sender: msg.Sender}

	if !msg.Processable {
		slog.Debug("Pipeline.Process: message not processable, ignoring", "outcome_id", outcome.ID)
		return outcome
	}

	now := p.now()

	// ContextLoaded: get-or-create plus the user-turn append. The state copy
	// is re-fetched afterwards; the pipeline never holds live store state.
	p.store.GetOrCreate(msg.Sender, msg.SenderName, now)
	p.store.AppendUser(msg.Sender, msg.Text, now)
	state, err := p.store.Snapshot(msg.Sender)
	if err != nil {
		// Only reachable if a debug delete races the append; treat as ignored.
		slog.Warn("Pipeline.Process: conversation vanished mid-flight", "sender", msg.Sender, "error", err)
		return outcome
	}

	// Local classification feeds the relay request as the current stage.
	state.Stage = classify.Compute(&state, now)
	p.store.SetStage(msg.Sender, state.Stage)

	// Relayed: never fails; a degraded reply substitutes on backend trouble.
	reply := p.relay.Reply(ctx, msg, state)

	// Classified: the AI-supplied stage wins; the relay client already fell
	// back to the local stage when the backend reported none.
	p.store.SetStage(msg.Sender, reply.Stage)
	p.store.AppendAssistant(msg.Sender, reply.Text, p.now())

	// Delivered or Skipped.
	delivered := false
	switch err := p.deliver.SendReply(ctx, msg.Sender, reply.Text); {
	case err == nil:
		delivered = true
	case delivery.Skipped(err):
		slog.Info("Pipeline.Process: delivery skipped", "sender", msg.Sender, "reason", err)
	default:
		slog.Warn("Pipeline.Process: delivery failed", "sender", msg.Sender, "error", err)
	}

	outcome.Processed = true
	outcome.Delivered = delivered
	outcome.Stage = reply.Stage
	outcome.RequiresHuman = reply.RequiresHuman

	slog.Info("Pipeline.Process: done",
		"outcome_id", outcome.ID,
		"sender", msg.Sender,
		"stage", outcome.Stage,
		"delivered", outcome.Delivered,
		"requires_human", outcome.RequiresHuman)
	return outcome
}
