package usecase

import (
	"context"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

type JoinSessionInput struct {
	InviteCode string
	Name       string
	Email      string
	UserID     string // upstream identity, empty for anonymous
}

type JoinSessionOutput struct {
	Session     *domain.GroupOrderSession
	Participant domain.Participant
}

// JoinSession binds a diner to the session behind an invite code. Capacity
// and expiry are re-checked on every attempt inside the conditional-write
// cycle, so two concurrent joins racing for the last seat cannot both win.
func (f *GroupOrderFacade) JoinSession(ctx context.Context, in JoinSessionInput) (JoinSessionOutput, error) {
	var joined domain.Participant
	s, err := f.mutate(ctx, f.byInviteCode(in.InviteCode), func(s *domain.GroupOrderSession) error {
		// A returning user keeps their existing participant slot instead of
		// occupying a second seat.
		if p := s.FindParticipantByUser(in.UserID); p != nil && p.Status == domain.ParticipantActive {
			p.LastActivity = f.now()
			joined = *p
			return nil
		}
		p, err := s.Join(in.Name, in.Email, in.UserID, f.now())
		if err != nil {
			return err
		}
		joined = *p
		return nil
	})
	if err != nil {
		return JoinSessionOutput{}, err
	}
	f.publish(ctx, s, EventParticipantJoin, joined.ParticipantID)
	return JoinSessionOutput{Session: s, Participant: joined}, nil
}

// LeaveSession marks a participant as left and returns the remaining active
// roster. The participant's items stay on the ledger.
func (f *GroupOrderFacade) LeaveSession(ctx context.Context, sessionID, participantID string) ([]domain.Participant, error) {
	s, err := f.mutate(ctx, f.byID(sessionID), func(s *domain.GroupOrderSession) error {
		return s.Leave(participantID, f.now())
	})
	if err != nil {
		return nil, err
	}
	f.publish(ctx, s, EventParticipantLeft, participantID)
	return s.ActiveParticipants(), nil
}

// CancelSession is the administrative terminal transition.
func (f *GroupOrderFacade) CancelSession(ctx context.Context, sessionID string) (*domain.GroupOrderSession, error) {
	s, err := f.mutate(ctx, f.byID(sessionID), func(s *domain.GroupOrderSession) error {
		return s.Cancel(f.now())
	})
	if err != nil {
		return nil, err
	}
	if f.codes != nil {
		_ = f.codes.DelCode(ctx, s.InviteCode)
	}
	f.publish(ctx, s, EventSessionCancelled, "")
	return s, nil
}
