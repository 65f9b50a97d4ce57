package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zaprelay/zaprelay/internal/models"
	"github.com/zaprelay/zaprelay/internal/store"
	"github.com/zaprelay/zaprelay/internal/testutil"
)

type stubPipeline struct {
	processed chan models.CanonicalMessage
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{processed: make(chan models.CanonicalMessage, 10)}
}

func (s *stubPipeline) Process(ctx context.Context, msg models.CanonicalMessage) models.Outcome {
	s.processed <- msg
	return models.Outcome{ID: "test", Processed: msg.Processable}
}

func postWebhook(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestWebhookAcknowledgesImmediately(t *testing.T) {
	pipe := newStubPipeline()
	s := NewServer(store.NewInMemoryStore(), pipe)

	rr := postWebhook(t, s, `{"event":"message.received","phone":"5511999","message":"oi"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var ack map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if !ack["received"] {
		t.Errorf("expected {received:true}, got %s", rr.Body.String())
	}

	select {
	case msg := <-pipe.processed:
		if msg.Sender != "5511999" || msg.Text != "oi" {
			t.Errorf("unexpected message handed to pipeline: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("pipeline was never invoked")
	}
}

func TestWebhookSignatureValidation(t *testing.T) {
	pipe := newStubPipeline()
	s := NewServer(store.NewInMemoryStore(), pipe, WithWebhookSecret("s3cret"))

	rr := postWebhook(t, s, `{"event":"x"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without signature, got %d", rr.Code)
	}

	rr = postWebhook(t, s, `{"event":"x"}`, map[string]string{SignatureHeader: "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad signature, got %d", rr.Code)
	}

	rr = postWebhook(t, s, `{"event":"message.received","phone":"5511999","message":"oi"}`, map[string]string{SignatureHeader: "s3cret"})
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with valid signature, got %d", rr.Code)
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), newStubPipeline())
	rr := postWebhook(t, s, `{not json`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookUnprocessableStillAcknowledged(t *testing.T) {
	pipe := newStubPipeline()
	s := NewServer(store.NewInMemoryStore(), pipe)

	rr := postWebhook(t, s, `{"event":"connection.update"}`, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for unprocessable payload, got %d", rr.Code)
	}

	select {
	case msg := <-pipe.processed:
		if msg.Processable {
			t.Error("expected not-processable message")
		}
	case <-time.After(time.Second):
		t.Fatal("pipeline was never invoked")
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), newStubPipeline())
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), newStubPipeline(),
		WithSimulationMode(true), WithBackendConfigured(true))

	rr := testutil.DoRequest(t, s.Handler(), http.MethodGet, "/health", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")

	health := testutil.DecodeJSONBody(t, rr)
	if health["status"] != "healthy" {
		t.Errorf("unexpected status %v", health["status"])
	}
	if health["simulation_mode"] != true {
		t.Error("expected simulation_mode reported")
	}
}

func TestHealthDegradedWithoutBackend(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), newStubPipeline(), WithBackendConfigured(false))

	rr := testutil.DoRequest(t, s.Handler(), http.MethodGet, "/health", "")
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "degraded health")
}

func TestConversationsDebugSurface(t *testing.T) {
	st := store.NewInMemoryStore()
	testutil.SeedConversation(t, st, "5511999", "Maria", "oi")
	testutil.AssertHistoryLen(t, st, "5511999", 1, "seed")

	s := NewServer(st, newStubPipeline())

	// List
	rr := testutil.DoRequest(t, s.Handler(), http.MethodGet, "/conversations", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list")
	list := testutil.DecodeJSONBody(t, rr)
	if list["count"] != float64(1) {
		t.Errorf("expected 1 conversation, got %v", list["count"])
	}

	// Get one
	rr = testutil.DoRequest(t, s.Handler(), http.MethodGet, "/conversations/5511999", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get")

	// Delete
	rr = testutil.DoRequest(t, s.Handler(), http.MethodDelete, "/conversations/5511999", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete")
	if st.Count() != 0 {
		t.Error("conversation not deleted")
	}

	// Get after delete
	rr = testutil.DoRequest(t, s.Handler(), http.MethodGet, "/conversations/5511999", "")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get after delete")
}
