package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	natsclient "github.com/unboundops/be-cmd-gateway/internal/platform/nats"
)

// NotificationPublisher publishes admission and approval workflow events to
// NATS for consumption by the notifications service.
//
// Subject convention: notifications.cmdgw.<event_type>
// Event types: approval_required, approval_approved, approval_rejected,
//              approval_expired, command_executed
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// command admission or voting.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing entirely.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishApprovalEvent publishes an approval workflow event.
// Subject: notifications.cmdgw.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]any) bool {
	if p.nats == nil {
		return false
	}
	if len(recipients) == 0 {
		return false
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "approval_request",
		ResourceID:   requestID,
		IsActionable: eventType == "approval_required",
		Severity:     "info",
		Category:     "command_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return false
	}

	subject := fmt.Sprintf("notifications.cmdgw.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("approval_request_id", requestID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return false
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approval_request_id", requestID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
	return true
}
