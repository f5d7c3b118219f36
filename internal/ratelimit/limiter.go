package ratelimit

import "context"

// KeyWhatsApp is the limiter key shared by every sender talking to the WhatsApp API.
const KeyWhatsApp = "whatsapp"

// RateLimiter controls outbound send throughput per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
