package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

// DispatchMessage is the broker payload for a dispatch worker invocation.
type DispatchMessage struct {
	Action        domain.DispatchAction `json:"action"`
	BroadcastID   string                `json:"broadcastId"`
	CorrelationID string                `json:"correlationId,omitempty"`
}

func NewDispatchMessage(req domain.DispatchRequest) DispatchMessage {
	return DispatchMessage{
		Action:        req.Action,
		BroadcastID:   req.BroadcastID,
		CorrelationID: req.CorrelationID,
	}
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.BroadcastID) == "" {
		return fmt.Errorf("broadcastId is required")
	}
	if !m.Action.IsValid() {
		return fmt.Errorf("invalid action %q", m.Action)
	}
	return nil
}

func (m DispatchMessage) Request() domain.DispatchRequest {
	return domain.DispatchRequest{
		Action:        m.Action,
		BroadcastID:   m.BroadcastID,
		CorrelationID: m.CorrelationID,
	}
}
