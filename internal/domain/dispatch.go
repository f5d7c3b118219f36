package domain

import (
	"fmt"
	"strings"
)

// DispatchAction tells the dispatch worker how to treat a broadcast.
type DispatchAction string

const (
	DispatchActionStart  DispatchAction = "start"
	DispatchActionResume DispatchAction = "resume"
)

func (a DispatchAction) String() string { return string(a) }

func (a DispatchAction) IsValid() bool {
	switch a {
	case DispatchActionStart, DispatchActionResume:
		return true
	}
	return false
}

func ParseDispatchActionFromString(s string) (DispatchAction, error) {
	a := DispatchAction(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid action %q", ErrValidation, s)
	}
	return a, nil
}

// DispatchRequest is the payload sent to the dispatch worker.
type DispatchRequest struct {
	Action        DispatchAction `json:"action"`
	BroadcastID   string         `json:"broadcastId"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (r DispatchRequest) Validate() error {
	if !r.Action.IsValid() {
		return fmt.Errorf("%w: invalid action %q", ErrValidation, r.Action)
	}
	if strings.TrimSpace(r.BroadcastID) == "" {
		return fmt.Errorf("%w: broadcastId is required", ErrValidation)
	}
	return nil
}
