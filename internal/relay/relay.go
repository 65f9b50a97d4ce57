// Package relay forwards canonical messages to the AI backend and maps its
// answers into structured replies.
//
// Relay failures never propagate: timeouts, network errors, non-2xx answers
// and missing configuration all degrade into a fixed apology reply so the
// pipeline can still attempt delivery.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/zaprelay/zaprelay/internal/classify"
	"github.com/zaprelay/zaprelay/internal/models"
)

// DefaultTimeout bounds one AI backend call.
const DefaultTimeout = 25 * time.Second

// DegradedReplyText is sent to the user when the AI backend is unreachable.
const DegradedReplyText = "Desculpe, estou com dificuldades técnicas no momento. Tente novamente em instantes."

// GenericAckText substitutes a backend answer that carried no text at all.
const GenericAckText = "Recebemos sua mensagem. Obrigado!"

// Client produces an AI reply for a canonical message given the sender's
// conversation state. Implementations never return an error; failure is
// expressed as a degraded reply.
type Client interface {
	Reply(ctx context.Context, msg models.CanonicalMessage, state models.ConversationState) models.AIReply
}

// DegradedReply builds the fallback reply for an unreachable backend,
// preserving the sender's pre-existing stage and flagging human escalation.
func DegradedReply(stage models.Stage) models.AIReply {
	if stage == "" {
		stage = models.StageUnknown
	}
	return models.AIReply{Text: DegradedReplyText, Stage: stage, RequiresHuman: true}
}

// ContextSummary renders the human-readable sender context forwarded to the
// AI backend, embedding stage and relationship age.
func ContextSummary(state *models.ConversationState, now time.Time) string {
	return fmt.Sprintf("Cliente %s. Dias desde primeiro contato: %d",
		state.Stage, classify.DaysSinceFirstContact(state, now))
}

// ValidBackendURL reports whether the configured backend URL is usable:
// http(s) scheme, non-empty host, and not an unfilled placeholder.
func ValidBackendURL(raw string) bool {
	if raw == "" || strings.ContainsAny(raw, "<>{} ") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, "your-") || host == "example.com" {
		return false
	}
	return true
}

// request is the JSON body posted to the AI backend.
type request struct {
	Message             string         `json:"message"`
	Sender              string         `json:"sender"`
	SenderName          string         `json:"senderName,omitempty"`
	CustomerType        models.Stage   `json:"customerType"`
	ConversationHistory []historyEntry `json:"conversationHistory"`
	Context             string         `json:"context"`
	Timestamp           int64          `json:"timestamp"`
}

type historyEntry struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// response accepts both field spellings the backend has used for its answer
// and for the stage it reports back.
type response struct {
	Response      string       `json:"response"`
	Message       string       `json:"message"`
	CustomerType  models.Stage `json:"customer_type"`
	Stage         models.Stage `json:"stage"`
	RequiresHuman bool         `json:"requires_human"`
}

// Opts holds configuration options for the webhook relay client.
type Opts struct {
	BackendURL string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the webhook relay client.
type Option func(*Opts)

// WithBackendURL sets the AI backend endpoint.
func WithBackendURL(u string) Option {
	return func(o *Opts) { o.BackendURL = u }
}

// WithToken sets the bearer token sent to the AI backend.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithTimeout overrides the per-call timeout budget.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WebhookClient relays messages to a generic HTTP AI backend.
type WebhookClient struct {
	backendURL string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	configured bool
}

// NewWebhookClient creates a relay client for the configured AI backend URL.
// Options fall back to the AI_BACKEND_URL and AI_BACKEND_TOKEN environment
// variables. An invalid or placeholder URL yields a client that answers every
// call with the degraded reply instead of an error.
func NewWebhookClient(opts ...Option) *WebhookClient {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = os.Getenv("AI_BACKEND_URL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("AI_BACKEND_TOKEN")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	configured := ValidBackendURL(cfg.BackendURL)
	if !configured {
		slog.Warn("relay.NewWebhookClient: backend URL missing or invalid, relay disabled", "url_set", cfg.BackendURL != "")
	}

	return &WebhookClient{
		backendURL: cfg.BackendURL,
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		configured: configured,
	}
}

// Configured reports whether the backend URL passed validation.
func (c *WebhookClient) Configured() bool {
	return c.configured
}

// Reply posts the message plus trailing context to the AI backend. Any
// failure returns the degraded reply with the sender's current stage.
func (c *WebhookClient) Reply(ctx context.Context, msg models.CanonicalMessage, state models.ConversationState) models.AIReply {
	if !c.configured {
		slog.Debug("WebhookClient.Reply: backend not configured, degrading", "sender", msg.Sender)
		return DegradedReply(state.Stage)
	}

	now := time.Now()
	body := request{
		Message:      msg.Text,
		Sender:       msg.Sender,
		SenderName:   msg.SenderName,
		CustomerType: state.Stage,
		Context:      ContextSummary(&state, now),
		Timestamp:    now.Unix(),
	}
	for _, e := range state.LastHistory(5) {
		body.ConversationHistory = append(body.ConversationHistory, historyEntry{Role: e.Role, Content: e.Text})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("WebhookClient.Reply: failed to marshal request", "error", err)
		return DegradedReply(state.Stage)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("WebhookClient.Reply: failed to build request", "error", err)
		return DegradedReply(state.Stage)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("WebhookClient.Reply: backend call failed", "error", err, "sender", msg.Sender)
		return DegradedReply(state.Stage)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("WebhookClient.Reply: backend returned non-2xx", "status", resp.StatusCode, "sender", msg.Sender)
		return DegradedReply(state.Stage)
	}

	var parsed response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		slog.Warn("WebhookClient.Reply: failed to decode backend response", "error", err)
		return DegradedReply(state.Stage)
	}

	reply := mapResponse(parsed, state.Stage)
	slog.Debug("WebhookClient.Reply: backend answered", "sender", msg.Sender, "stage", reply.Stage, "requires_human", reply.RequiresHuman)
	return reply
}

// mapResponse applies the field-fallback rules: text response→message→generic
// ack; stage customer_type→stage→current, rejecting unknown values.
func mapResponse(parsed response, current models.Stage) models.AIReply {
	text := parsed.Response
	if text == "" {
		text = parsed.Message
	}
	if text == "" {
		text = GenericAckText
	}

	stage := parsed.CustomerType
	if stage == "" {
		stage = parsed.Stage
	}
	if stage == "" || !models.IsValidStage(stage) {
		stage = current
	}

	return models.AIReply{Text: text, Stage: stage, RequiresHuman: parsed.RequiresHuman}
}
