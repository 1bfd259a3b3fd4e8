package usecase

import (
	"time"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

// Event types published on the notification exchange.
const (
	EventSessionCreated   = "group-order.created"
	EventParticipantJoin  = "group-order.participant-joined"
	EventParticipantLeft  = "group-order.participant-left"
	EventItemsAdded       = "group-order.items-added"
	EventStructureChanged = "group-order.structure-changed"
	EventSessionExpired   = "group-order.expired"
	EventSessionCancelled = "group-order.cancelled"
	EventSessionSubmitted = "group-order.submitted"
)

// SessionEventMsg tells the notification fan-out that a session changed.
// Delivery semantics are the fan-out service's concern.
type SessionEventMsg struct {
	Type          string        `json:"type"`
	SessionID     string        `json:"sessionId"`
	InviteCode    string        `json:"inviteCode"`
	RestaurantID  string        `json:"restaurantId"`
	Status        domain.Status `json:"status"`
	Version       int64         `json:"version"`
	ParticipantID string        `json:"participantId,omitempty"`
	OrderNumber   string        `json:"orderNumber,omitempty"`
	TotalCents    int64         `json:"totalCents,omitempty"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

// PaymentStatusMsg is sent by the payment gateway on Kafka once it has tried
// to collect one participant's share.
type PaymentStatusMsg struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	AmountCents   int64  `json:"amountCents"`
	Status        string `json:"status"` // e.g. "SUCCESS", "FAILED"
}
