// Package testutil provides common test utilities and helpers for ZapRelay tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zaprelay/zaprelay/internal/store"
)

// DoRequest issues an HTTP request against a handler and records the response.
func DoRequest(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, url, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSONBody decodes a JSON object response body and fails the test on error.
func DecodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return response
}

// SeedConversation populates a store with an exchange of user messages
// for a single sender.
func SeedConversation(t *testing.T, st store.Store, sender, senderName string, texts ...string) {
	t.Helper()
	now := time.Now()
	st.GetOrCreate(sender, senderName, now)
	for _, text := range texts {
		st.AppendUser(sender, text, now)
	}
}

// AssertHistoryLen validates the number of history entries for a sender.
func AssertHistoryLen(t *testing.T, st store.Store, sender string, expected int, context string) {
	t.Helper()
	state, err := st.Snapshot(sender)
	if err != nil {
		t.Fatalf("%s: failed to snapshot conversation: %v", context, err)
	}
	if len(state.History) != expected {
		t.Errorf("%s: expected %d history entries, got %d", context, expected, len(state.History))
	}
}
