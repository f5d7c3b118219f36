package service

import (
	"context"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

// Invoker delivers a one-way request to the dispatch worker. A nil error only means the
// request was accepted; the worker reports progress through the broadcast record.
type Invoker interface {
	Invoke(ctx context.Context, req domain.DispatchRequest) error
}

// FlagChecker reports whether a feature flag is on.
type FlagChecker interface {
	Enabled(ctx context.Context, key string) (bool, error)
}
