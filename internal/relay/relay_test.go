package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zaprelay/zaprelay/internal/models"
)

func testState(stage models.Stage, history ...string) models.ConversationState {
	now := time.Now()
	state := models.ConversationState{
		Sender:         "5511999999999",
		Stage:          stage,
		FirstContactAt: now.Add(-48 * time.Hour),
		LastActivityAt: now,
	}
	for i, text := range history {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		state.History = append(state.History, models.HistoryEntry{Role: role, Text: text, Time: now})
	}
	return state
}

func testMessage() models.CanonicalMessage {
	return models.CanonicalMessage{Sender: "5511999999999", SenderName: "Maria", Text: "Olá", Processable: true}
}

func TestReplySuccess(t *testing.T) {
	var captured request
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode relay request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response":       "Bem-vindo",
			"customer_type":  "returning",
			"requires_human": false,
		})
	}))
	defer backend.Close()

	c := NewWebhookClient(WithBackendURL(backend.URL), WithToken("secret-token"))
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageNew, "a", "b", "c", "d", "e", "f", "g"))

	if reply.Text != "Bem-vindo" {
		t.Errorf("unexpected reply text %q", reply.Text)
	}
	if reply.Stage != models.StageReturning {
		t.Errorf("expected backend stage to win, got %q", reply.Stage)
	}
	if reply.RequiresHuman {
		t.Error("unexpected escalation flag")
	}

	if captured.Message != "Olá" || captured.Sender != "5511999999999" {
		t.Errorf("unexpected request fields: %+v", captured)
	}
	if len(captured.ConversationHistory) != 5 {
		t.Fatalf("expected last-5 history window, got %d entries", len(captured.ConversationHistory))
	}
	// Oldest-first window over c..g.
	if captured.ConversationHistory[0].Content != "c" || captured.ConversationHistory[4].Content != "g" {
		t.Errorf("unexpected history window: %+v", captured.ConversationHistory)
	}
	if captured.CustomerType != models.StageNew {
		t.Errorf("expected current stage in request, got %q", captured.CustomerType)
	}
}

func TestReplyTextFallbackToMessageField(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "pela outra chave"})
	}))
	defer backend.Close()

	c := NewWebhookClient(WithBackendURL(backend.URL))
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageNew))
	if reply.Text != "pela outra chave" {
		t.Errorf("unexpected reply text %q", reply.Text)
	}
	if reply.Stage != models.StageNew {
		t.Errorf("expected current stage kept, got %q", reply.Stage)
	}
}

func TestReplyGenericAckWhenNoText(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"requires_human": true})
	}))
	defer backend.Close()

	c := NewWebhookClient(WithBackendURL(backend.URL))
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageReturning))
	if reply.Text != GenericAckText {
		t.Errorf("expected generic ack, got %q", reply.Text)
	}
	if !reply.RequiresHuman {
		t.Error("expected escalation flag from backend")
	}
}

func TestReplyInvalidStageIgnored(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "ok", "customer_type": "platinum"})
	}))
	defer backend.Close()

	c := NewWebhookClient(WithBackendURL(backend.URL))
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageReturning))
	if reply.Stage != models.StageReturning {
		t.Errorf("expected unknown backend stage rejected, got %q", reply.Stage)
	}
}

func TestReplyDegradesOnServerError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	c := NewWebhookClient(WithBackendURL(backend.URL))
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageEstablished))
	if reply.Text != DegradedReplyText {
		t.Errorf("expected degraded reply, got %q", reply.Text)
	}
	if reply.Stage != models.StageEstablished {
		t.Errorf("expected pre-existing stage, got %q", reply.Stage)
	}
	if !reply.RequiresHuman {
		t.Error("degraded replies must request human follow-up")
	}
}

func TestReplyDegradesOnTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer backend.Close()

	c := NewWebhookClient(WithBackendURL(backend.URL), WithTimeout(20*time.Millisecond))
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageNew))
	if reply.Text != DegradedReplyText || !reply.RequiresHuman {
		t.Errorf("expected degraded reply on timeout, got %+v", reply)
	}
}

func TestReplyDegradesWhenUnconfigured(t *testing.T) {
	c := NewWebhookClient(WithBackendURL(""))
	if c.Configured() {
		t.Error("expected unconfigured client")
	}
	reply := c.Reply(context.Background(), testMessage(), testState(models.StageNew))
	if reply.Text != DegradedReplyText || !reply.RequiresHuman {
		t.Errorf("expected degraded reply, got %+v", reply)
	}
}

func TestValidBackendURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://hooks.lindy.ai/t/abc123", true},
		{"http://localhost:8080/ai", true},
		{"", false},
		{"not a url", false},
		{"ftp://backend.example.org/x", false},
		{"https://", false},
		{"https://your-backend-here.com/webhook", false},
		{"https://example.com/webhook", false},
		{"https://<fill-me-in>", false},
	}
	for _, tt := range tests {
		if got := ValidBackendURL(tt.url); got != tt.valid {
			t.Errorf("ValidBackendURL(%q) = %v, want %v", tt.url, got, tt.valid)
		}
	}
}

func TestDegradedReplyDefaultsStage(t *testing.T) {
	reply := DegradedReply("")
	if reply.Stage != models.StageUnknown {
		t.Errorf("expected unknown stage, got %q", reply.Stage)
	}
}
