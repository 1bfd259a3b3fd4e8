package usecase

import (
	"context"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

type AddItemsInput struct {
	SessionID     string
	ParticipantID string // explicit attribution from the request body
	UserID        string // upstream identity, used when ParticipantID is empty
	Items         []domain.NewItem
}

type AddItemsOutput struct {
	Added  []domain.LineItem
	Totals domain.Totals
}

// AddItems appends attributed line items and recomputes totals under the
// conditional write, so two racing additions both land with correctly
// summed totals. Attribution is resolved once per attempt: explicit
// participant id first, then the caller's user identity, else anonymous.
func (f *GroupOrderFacade) AddItems(ctx context.Context, in AddItemsInput) (AddItemsOutput, error) {
	var added []domain.LineItem
	s, err := f.mutate(ctx, f.byID(in.SessionID), func(s *domain.GroupOrderSession) error {
		participantID := in.ParticipantID
		if participantID == "" {
			if p := s.FindParticipantByUser(in.UserID); p != nil {
				participantID = p.ParticipantID
			}
		}
		var err error
		added, err = s.AddItems(participantID, in.Items, f.now())
		return err
	})
	if err != nil {
		return AddItemsOutput{}, err
	}
	f.publish(ctx, s, EventItemsAdded, in.ParticipantID)
	return AddItemsOutput{Added: added, Totals: s.Totals}, nil
}
