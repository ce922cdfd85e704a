// Package messaging provides the pluggable channel abstraction that carries
// CampusRelay conversations: direct WhatsApp via whatsmeow or hosted
// WhatsApp via Twilio, plus mocks for tests.
package messaging

import (
	"context"
	"errors"
	"regexp"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// ErrServiceStopped is returned by operations on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and provides a channel of incoming responses.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming student messages.
	Responses() <-chan models.Response
}

// Deliverer adapts a Service to the orchestrator's outbound reply interface.
type Deliverer struct {
	service Service
}

// NewDeliverer wraps a Service for reply delivery.
func NewDeliverer(service Service) *Deliverer {
	return &Deliverer{service: service}
}

// Deliver validates the channel ref and sends the reply through the service.
func (d *Deliverer) Deliver(ctx context.Context, channelRef, text string) error {
	to, err := d.service.ValidateAndCanonicalizeRecipient(channelRef)
	if err != nil {
		return err
	}
	return d.service.SendMessage(ctx, to, text)
}
