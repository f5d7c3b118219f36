package provider

import "context"

// Sender is the outbound WhatsApp delivery port.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (*ProviderResponse, error)
}

// OutboundMessage is one text message addressed to a single phone number.
type OutboundMessage struct {
	To            string
	Body          string
	CorrelationID string
}

// ProviderResponse stores provider call metadata for persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
