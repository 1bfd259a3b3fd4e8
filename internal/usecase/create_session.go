package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

type CreateSessionInput struct {
	RestaurantID          string
	TableID               string
	CreatedBy             string // upstream identity, empty for anonymous
	MaxParticipants       int
	ExpiresIn             time.Duration
	PaymentStructure      string
	SpendingLimitRequired bool
	Settings              *domain.Settings
	IdempotencyKey        string
}

// CreateSession opens a new group order. Invite-code collisions against the
// store's active-code unique index are expected and retried with a fresh
// code a bounded number of times.
func (f *GroupOrderFacade) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.GroupOrderSession, error) {
	if in.RestaurantID == "" {
		return nil, ErrMissingRestaurant
	}

	structure := domain.StructureEqualSplit
	if in.PaymentStructure != "" {
		var err error
		if structure, err = domain.ParsePaymentStructure(in.PaymentStructure); err != nil {
			return nil, err
		}
	}

	idemScope := in.CreatedBy
	if idemScope == "" {
		idemScope = domain.AnonymousCreator
	}
	if in.IdempotencyKey != "" && f.idem != nil {
		if id, ok, _ := f.idem.Recall(ctx, idemScope, in.IdempotencyKey); ok {
			return f.repo.GetByID(ctx, id)
		}
		ok, err := f.idem.TryLock(ctx, idemScope, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDuplicate
		}
	}

	now := f.now()
	ttl := in.ExpiresIn
	if ttl <= 0 {
		ttl = f.cfg.SessionTTL
	}
	maxParticipants := in.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = f.cfg.MaxParticipants
	}

	s := domain.NewGroupOrderSession(in.RestaurantID, in.TableID, in.CreatedBy, maxParticipants, now.Add(ttl), now)
	s.PaymentStructure = structure
	s.PaymentSplit.Method = structure
	s.SpendingLimitRequired = in.SpendingLimitRequired
	if in.Settings != nil {
		s.Settings = *in.Settings
	}

	for attempt := 0; ; attempt++ {
		err := f.repo.Insert(ctx, s)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateCode) || attempt+1 >= f.cfg.CodeRetries {
			return nil, err
		}
		codeRegenerations.Inc()
		s.InviteCode = domain.NewInviteCode()
	}

	if f.codes != nil {
		_ = f.codes.SetCode(ctx, s.InviteCode, s.SessionID, ttl)
	}
	if in.IdempotencyKey != "" && f.idem != nil {
		_ = f.idem.Remember(ctx, idemScope, in.IdempotencyKey, s.SessionID)
	}
	f.publish(ctx, s, EventSessionCreated, "")
	return s, nil
}
