package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioSender is the Twilio REST surface used by TwilioService.
type twilioSender interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio delivery service.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
	DryRun     bool
}

// TwilioOption defines a configuration option for the Twilio delivery service.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number in "whatsapp:+123" format.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// WithTwilioDryRun engages the simulation interlock.
func WithTwilioDryRun(dryRun bool) TwilioOption {
	return func(o *TwilioOpts) { o.DryRun = dryRun }
}

// TwilioService delivers replies through the Twilio WhatsApp API. It is the
// alternate provider for deployments without a gateway subscription.
type TwilioService struct {
	api       twilioSender
	fromWhats string
	dryRun    bool
}

// NewTwilioService creates a Twilio delivery service. Options fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		api:       client.Api,
		fromWhats: cfg.FromWhats,
		dryRun:    cfg.DryRun,
	}, nil
}

// ValidateAndCanonicalizeRecipient strips non-digit characters and validates
// the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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
	return canonical, nil
}

// SendReply sends a WhatsApp message using the Twilio API. Twilio has a single
// request shape, so there is no fallback attempt.
func (s *TwilioService) SendReply(ctx context.Context, to, body string) error {
	if s.dryRun {
		slog.Info("TwilioService.SendReply: simulation mode, not sending", "to", to)
		return ErrSimulated
	}
	if strings.ContainsRune(to, '@') {
		slog.Debug("TwilioService.SendReply: recipient is a channel JID, skipping", "to", to)
		return ErrUnaddressable
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendReply: recipient validation failed", "error", err, "to", to)
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonical)
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	if _, err := s.api.CreateMessage(params); err != nil {
		slog.Error("TwilioService.SendReply: send failed", "to", canonical, "error", err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	slog.Debug("TwilioService.SendReply: message delivered", "to", canonical)
	return nil
}
