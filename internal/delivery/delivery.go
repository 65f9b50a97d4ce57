// Package delivery sends AI replies back to the originating channel.
//
// Two providers are supported: the hosted WhatsApp gateway HTTP API and
// Twilio. Both honor the simulation interlock, which suppresses every real
// outbound call while leaving the rest of the pipeline untouched.
package delivery

import (
	"context"
	"errors"
	"regexp"
)

// Service is the outbound delivery contract used by the pipeline.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier into a digits-only phone address.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendReply delivers text to the recipient. A nil error means delivered;
	// ErrSimulated and ErrUnaddressable mark the deliberate short-circuits.
	SendReply(ctx context.Context, to, body string) error
}

var (
	// ErrSimulated is returned when the simulation interlock suppressed the call.
	ErrSimulated = errors.New("delivery suppressed by simulation mode")
	// ErrUnaddressable is returned for channel-native identifiers that cannot
	// be messaged directly (e.g. a group JID with no known participant).
	ErrUnaddressable = errors.New("recipient is not directly addressable")
	// ErrDeliveryFailed is returned when the primary and fallback attempts both failed.
	ErrDeliveryFailed = errors.New("delivery failed after fallback attempt")
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Skipped reports whether the error marks a deliberate short-circuit rather
// than a failed network attempt.
func Skipped(err error) bool {
	return errors.Is(err, ErrSimulated) || errors.Is(err, ErrUnaddressable)
}
