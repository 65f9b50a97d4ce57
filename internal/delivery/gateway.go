package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultGatewayBaseURL is the hosted WhatsApp gateway API root.
const DefaultGatewayBaseURL = "https://www.wasenderapi.com/api"

// DefaultGatewayTimeout bounds one outbound send attempt.
const DefaultGatewayTimeout = 10 * time.Second

// sendEncoder renders the request body for one send attempt. The gateway has
// accepted two field spellings across versions, so the encoders are tried in
// fixed order rather than duplicating call sites.
type sendEncoder struct {
	name   string
	encode func(to, body string) interface{}
}

var gatewayEncoders = []sendEncoder{
	{name: "primary", encode: func(to, body string) interface{} {
		return map[string]interface{}{"phone": to, "message": body, "isGroup": false}
	}},
	{name: "fallback", encode: func(to, body string) interface{} {
		return map[string]interface{}{"number": to, "text": body}
	}},
}

// GatewayOpts holds configuration options for the gateway delivery service.
type GatewayOpts struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	DryRun     bool
	HTTPClient *http.Client
}

// GatewayOption defines a configuration option for the gateway delivery service.
type GatewayOption func(*GatewayOpts)

// WithBaseURL sets the gateway API root.
func WithBaseURL(u string) GatewayOption {
	return func(o *GatewayOpts) { o.BaseURL = u }
}

// WithAPIKey sets the gateway bearer token.
func WithAPIKey(key string) GatewayOption {
	return func(o *GatewayOpts) { o.APIKey = key }
}

// WithTimeout overrides the per-attempt timeout budget.
func WithTimeout(d time.Duration) GatewayOption {
	return func(o *GatewayOpts) { o.Timeout = d }
}

// WithDryRun engages the simulation interlock.
func WithDryRun(dryRun bool) GatewayOption {
	return func(o *GatewayOpts) { o.DryRun = dryRun }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(o *GatewayOpts) { o.HTTPClient = c }
}

// GatewayService delivers replies through the hosted WhatsApp gateway.
type GatewayService struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	dryRun     bool
	httpClient *http.Client
}

// NewGatewayService creates a gateway delivery service. Options fall back to
// the GATEWAY_API_URL and GATEWAY_API_KEY environment variables.
func NewGatewayService(opts ...GatewayOption) *GatewayService {
	var cfg GatewayOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("GATEWAY_API_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGatewayBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GATEWAY_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	slog.Debug("delivery.NewGatewayService: configured",
		"base_url", cfg.BaseURL, "api_key_set", cfg.APIKey != "", "dry_run", cfg.DryRun)

	return &GatewayService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		dryRun:     cfg.DryRun,
		httpClient: cfg.HTTPClient,
	}
}

// DryRun reports whether the simulation interlock is engaged.
func (s *GatewayService) DryRun() bool {
	return s.dryRun
}

// ValidateAndCanonicalizeRecipient strips non-digit characters and validates
// the result has at least 6 digits.
func (s *GatewayService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("GatewayService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendReply delivers text to the recipient, trying the primary payload shape
// and then exactly one fallback shape. Simulation mode and channel-native
// recipients short-circuit without any network call.
func (s *GatewayService) SendReply(ctx context.Context, to, body string) error {
	if s.dryRun {
		slog.Info("GatewayService.SendReply: simulation mode, not sending", "to", to, "body_length", len(body))
		return ErrSimulated
	}
	if strings.ContainsRune(to, '@') {
		slog.Debug("GatewayService.SendReply: recipient is a channel JID, skipping", "to", to)
		return ErrUnaddressable
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("GatewayService.SendReply: recipient validation failed", "error", err, "to", to)
		return err
	}

	var lastErr error
	for _, enc := range gatewayEncoders {
		if err := s.post(ctx, enc.encode(canonical, body)); err != nil {
			slog.Warn("GatewayService.SendReply: attempt failed", "shape", enc.name, "error", err, "to", canonical)
			lastErr = err
			continue
		}
		slog.Info("GatewayService.SendReply: message delivered", "shape", enc.name, "to", canonical)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}

// post issues one send-message call with its own timeout budget.
func (s *GatewayService) post(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send-message", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send-message call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send-message returned status %d", resp.StatusCode)
	}
	return nil
}
