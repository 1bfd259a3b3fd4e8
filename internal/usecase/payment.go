package usecase

import (
	"context"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

type UpdatePaymentStructureInput struct {
	SessionID string
	Structure string
	// Percentages are required for custom_split and must sum to 100.
	Percentages map[string]float64
}

// UpdatePaymentStructure switches the split strategy, clearing stale
// assignments. Completed payments are not re-validated.
func (f *GroupOrderFacade) UpdatePaymentStructure(ctx context.Context, in UpdatePaymentStructureInput) (*domain.GroupOrderSession, error) {
	structure, err := domain.ParsePaymentStructure(in.Structure)
	if err != nil {
		return nil, err
	}
	s, err := f.mutate(ctx, f.byID(in.SessionID), func(s *domain.GroupOrderSession) error {
		return s.SetPaymentStructure(structure, in.Percentages, f.now())
	})
	if err != nil {
		return nil, err
	}
	f.publish(ctx, s, EventStructureChanged, "")
	return s, nil
}

// ApplyPaymentStatus ingests a payment-gateway outcome for one participant's
// assignment. It runs on submitted sessions and goes through the same
// conditional-write cycle as every other mutation.
func (f *GroupOrderFacade) ApplyPaymentStatus(ctx context.Context, msg PaymentStatusMsg) error {
	state := domain.PaymentFailed
	if msg.Status == "SUCCESS" {
		state = domain.PaymentCompleted
	}
	_, err := f.mutate(ctx, f.byID(msg.SessionID), func(s *domain.GroupOrderSession) error {
		return s.ApplyPaymentStatus(msg.ParticipantID, state)
	})
	return err
}
