package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/group-order-api/internal/entity"
	"github.com/aq2208/group-order-api/internal/logging"
)

// FacadeConfig carries the session policy knobs from configs.
type FacadeConfig struct {
	SessionTTL      time.Duration
	MaxParticipants int
	SaveRetries     int
	CodeRetries     int
}

func (c FacadeConfig) withDefaults() FacadeConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 2 * time.Hour
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = domain.DefaultMaxParticipants
	}
	if c.SaveRetries <= 0 {
		c.SaveRetries = 3
	}
	if c.CodeRetries <= 0 {
		c.CodeRetries = 5
	}
	return c
}

// GroupOrderFacade is the single entry point for every externally visible
// operation. Each mutation follows read-modify-conditionally-write against
// the session store; no long-lived in-process state is held.
type GroupOrderFacade struct {
	repo   SessionRepo
	codes  CodeCache
	idem   IdempotencyStore
	events EventPublisher
	outbox OutboxRepo
	cfg    FacadeConfig

	// now is swapped out by tests.
	now func() time.Time
}

func NewGroupOrderFacade(repo SessionRepo, codes CodeCache, idem IdempotencyStore, events EventPublisher, outbox OutboxRepo, cfg FacadeConfig) *GroupOrderFacade {
	return &GroupOrderFacade{
		repo:   repo,
		codes:  codes,
		idem:   idem,
		events: events,
		outbox: outbox,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

type loadFunc func(ctx context.Context) (*domain.GroupOrderSession, error)

func (f *GroupOrderFacade) byID(sessionID string) loadFunc {
	return func(ctx context.Context) (*domain.GroupOrderSession, error) {
		return f.repo.GetByID(ctx, sessionID)
	}
}

func (f *GroupOrderFacade) byInviteCode(code string) loadFunc {
	return func(ctx context.Context) (*domain.GroupOrderSession, error) {
		return f.repo.GetByInviteCode(ctx, code)
	}
}

// mutate runs the load → pure transform → conditional-save loop. On a
// version conflict the whole cycle restarts from a fresh load so no caller's
// change is ever applied to a stale snapshot. After the bounded retries are
// spent the caller gets ErrConcurrentModification, never a silent drop.
func (f *GroupOrderFacade) mutate(ctx context.Context, load loadFunc, fn func(s *domain.GroupOrderSession) error) (*domain.GroupOrderSession, error) {
	for attempt := 0; attempt < f.cfg.SaveRetries; attempt++ {
		s, err := load(ctx)
		if err != nil {
			return nil, err
		}
		wasActive := s.Status == domain.StatusActive

		if mErr := fn(s); mErr != nil {
			// Expiry detected mid-operation is persisted even though the
			// triggering call failed; the transition is idempotent and a
			// lost race means another worker already recorded it.
			if errors.Is(mErr, domain.ErrSessionExpired) && wasActive && s.Status == domain.StatusExpired {
				f.persistExpiry(ctx, s)
			}
			return nil, mErr
		}

		if err := f.repo.Save(ctx, s, s.Version); err == nil {
			return s, nil
		} else if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		saveConflicts.Inc()
	}
	retryExhausted.Inc()
	return nil, ErrConcurrentModification
}

func (f *GroupOrderFacade) persistExpiry(ctx context.Context, s *domain.GroupOrderSession) {
	if err := f.repo.Save(ctx, s, s.Version); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			logging.FromCtx(ctx).Warn("persist lazy expiry failed", "session_id", s.SessionID, "error", err)
		}
		return
	}
	if f.codes != nil {
		_ = f.codes.DelCode(ctx, s.InviteCode)
	}
	f.publish(ctx, s, EventSessionExpired, "")
}

// publish is best-effort notification fan-out. Failures are logged, never
// surfaced: observers get no delivery guarantee.
func (f *GroupOrderFacade) publish(ctx context.Context, s *domain.GroupOrderSession, eventType, participantID string) {
	if f.events == nil {
		return
	}
	evt := SessionEventMsg{
		Type:          eventType,
		SessionID:     s.SessionID,
		InviteCode:    s.InviteCode,
		RestaurantID:  s.RestaurantID,
		Status:        s.Status,
		Version:       s.Version,
		ParticipantID: participantID,
		OrderNumber:   s.OrderNumber,
		TotalCents:    s.Totals.TotalCents,
		OccurredAt:    f.now(),
	}
	if err := f.events.Publish(ctx, evt); err != nil {
		logging.FromCtx(ctx).Warn("event publish failed", "type", eventType, "session_id", s.SessionID, "error", err)
	}
}

// GetSession is the read path. It never takes the write path except for the
// one-time lazy active→expired transition.
func (f *GroupOrderFacade) GetSession(ctx context.Context, sessionID string) (*domain.GroupOrderSession, error) {
	s, err := f.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.ExpireIfDue(f.now()) {
		f.persistExpiry(ctx, s)
	}
	return s, nil
}

// ValidateJoinCodeOutput mirrors the validate-join-code response shape.
type ValidateJoinCodeOutput struct {
	IsValid bool
	Session *domain.GroupOrderSession
}

// ValidateJoinCode resolves an invite code, preferring the cache fast path
// and falling back to the store's active-code index.
func (f *GroupOrderFacade) ValidateJoinCode(ctx context.Context, code string) (ValidateJoinCodeOutput, error) {
	var (
		s   *domain.GroupOrderSession
		err error
	)
	if f.codes != nil {
		if id, ok, cacheErr := f.codes.GetCode(ctx, code); cacheErr == nil && ok {
			s, err = f.repo.GetByID(ctx, id)
		}
	}
	if s == nil {
		s, err = f.repo.GetByInviteCode(ctx, code)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ValidateJoinCodeOutput{}, ErrNotFound
		}
		return ValidateJoinCodeOutput{}, err
	}
	if s.ExpireIfDue(f.now()) {
		f.persistExpiry(ctx, s)
	}
	if s.Status != domain.StatusActive {
		return ValidateJoinCodeOutput{IsValid: false}, nil
	}
	return ValidateJoinCodeOutput{IsValid: true, Session: s}, nil
}
