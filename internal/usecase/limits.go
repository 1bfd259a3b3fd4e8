package usecase

import (
	"context"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

type UpdateSpendingLimitsInput struct {
	SessionID string
	// Required toggles session-wide limit enforcement when non-nil.
	Required *bool
	// LimitsCents maps participant id to their new cap.
	LimitsCents map[string]int64
}

// UpdateSpendingLimits applies a bulk limit update. Limits never
// retroactively invalidate items already on the ledger.
func (f *GroupOrderFacade) UpdateSpendingLimits(ctx context.Context, in UpdateSpendingLimitsInput) (*domain.GroupOrderSession, error) {
	return f.mutate(ctx, f.byID(in.SessionID), func(s *domain.GroupOrderSession) error {
		now := f.now()
		for participantID, limit := range in.LimitsCents {
			if err := s.SetSpendingLimit(participantID, limit, now); err != nil {
				return err
			}
		}
		if in.Required != nil {
			s.SpendingLimitRequired = *in.Required
		}
		return nil
	})
}

// UpdateParticipantLimit sets or replaces one participant's cap.
func (f *GroupOrderFacade) UpdateParticipantLimit(ctx context.Context, sessionID, participantID string, limitCents int64) (*domain.GroupOrderSession, error) {
	return f.mutate(ctx, f.byID(sessionID), func(s *domain.GroupOrderSession) error {
		return s.SetSpendingLimit(participantID, limitCents, f.now())
	})
}
