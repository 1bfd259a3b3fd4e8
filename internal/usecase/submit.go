package usecase

import (
	"context"
	"encoding/json"

	domain "github.com/aq2208/group-order-api/internal/entity"
	"github.com/aq2208/group-order-api/internal/logging"
)

type SubmitSessionInput struct {
	SessionCode  string // invite code, per the submit route
	SubmittedBy  string
	DeliveryInfo *domain.DeliveryInfo
	Notes        string
}

// ParticipantBreakdown is one diner's slice of the finalized order.
type ParticipantBreakdown struct {
	ParticipantID string            `json:"participantId"`
	Name          string            `json:"name"`
	Items         []domain.LineItem `json:"items"`
	AmountCents   int64             `json:"amountCents"`
	PaymentStatus string            `json:"paymentStatus"`
}

type SubmitSessionOutput struct {
	Session   *domain.GroupOrderSession
	Breakdown []ParticipantBreakdown
}

// SubmitSession finalizes the order: final totals recomputation, split
// assignments, order number, terminal submitted state. The submitted event
// goes through the outbox so it survives a broker outage.
func (f *GroupOrderFacade) SubmitSession(ctx context.Context, in SubmitSessionInput) (SubmitSessionOutput, error) {
	s, err := f.mutate(ctx, f.byInviteCode(in.SessionCode), func(s *domain.GroupOrderSession) error {
		return s.Submit(in.DeliveryInfo, in.Notes, in.SubmittedBy, f.now())
	})
	if err != nil {
		return SubmitSessionOutput{}, err
	}

	if f.codes != nil {
		// The code is reusable once the session leaves active.
		_ = f.codes.DelCode(ctx, s.InviteCode)
	}
	f.stageSubmittedEvent(ctx, s)

	return SubmitSessionOutput{Session: s, Breakdown: buildBreakdown(s)}, nil
}

func (f *GroupOrderFacade) stageSubmittedEvent(ctx context.Context, s *domain.GroupOrderSession) {
	evt := SessionEventMsg{
		Type:         EventSessionSubmitted,
		SessionID:    s.SessionID,
		InviteCode:   s.InviteCode,
		RestaurantID: s.RestaurantID,
		Status:       s.Status,
		Version:      s.Version,
		OrderNumber:  s.OrderNumber,
		TotalCents:   s.Totals.TotalCents,
		OccurredAt:   f.now(),
	}
	if f.outbox == nil {
		f.publish(ctx, s, EventSessionSubmitted, "")
		return
	}
	payload, err := json.Marshal(evt)
	if err == nil {
		err = f.outbox.InsertEvent(ctx, EventSessionSubmitted, payload)
	}
	if err != nil {
		logging.FromCtx(ctx).Error("stage submitted event failed", "session_id", s.SessionID, "error", err)
		// Degrade to a direct best-effort publish rather than lose the event.
		f.publish(ctx, s, EventSessionSubmitted, "")
	}
}

func buildBreakdown(s *domain.GroupOrderSession) []ParticipantBreakdown {
	itemsBy := make(map[string][]domain.LineItem, len(s.Participants))
	for _, li := range s.Items {
		itemsBy[li.AddedBy] = append(itemsBy[li.AddedBy], li)
	}
	owed := make(map[string]int64, len(s.PaymentSplit.Assignments))
	status := make(map[string]string, len(s.PaymentSplit.Assignments))
	for _, a := range s.PaymentSplit.Assignments {
		owed[a.ParticipantID] = a.AmountCents
		status[a.ParticipantID] = string(a.Status)
	}

	out := make([]ParticipantBreakdown, 0, len(s.Participants))
	for _, p := range s.Participants {
		b := ParticipantBreakdown{
			ParticipantID: p.ParticipantID,
			Name:          p.Name,
			Items:         itemsBy[p.ParticipantID],
			AmountCents:   owed[p.ParticipantID],
			PaymentStatus: status[p.ParticipantID],
		}
		if b.PaymentStatus == "" {
			b.PaymentStatus = string(domain.PaymentPending)
		}
		out = append(out, b)
	}
	return out
}
