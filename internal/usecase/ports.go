package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

// Store-level sentinels. Adapters translate driver errors into these so the
// facade never imports an adapter package.
var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("stale session version")
	ErrDuplicateCode   = errors.New("invite code already active")
)

// Caller-facing conflict sentinels.
var (
	ErrConcurrentModification = errors.New("concurrent modification, retries exhausted")
	ErrDuplicate              = errors.New("duplicate idempotency key")
)

var ErrMissingRestaurant = errors.New("restaurant id required")

// SessionRepo is the durable representation of a group order session.
//
// Save is the single concurrency primitive: it succeeds only when the stored
// version still equals expectedVersion, incrementing the version and
// persisting the document in one atomic step, and returns ErrVersionConflict
// otherwise without any partial update. On success the in-memory session's
// Version is advanced to match the store.
type SessionRepo interface {
	Insert(ctx context.Context, s *domain.GroupOrderSession) error
	GetByID(ctx context.Context, sessionID string) (*domain.GroupOrderSession, error)
	GetByInviteCode(ctx context.Context, code string) (*domain.GroupOrderSession, error)
	Save(ctx context.Context, s *domain.GroupOrderSession, expectedVersion int64) error
}

// CodeCache is the fast path for invite-code validation.
type CodeCache interface {
	SetCode(ctx context.Context, code, sessionID string, ttl time.Duration) error
	GetCode(ctx context.Context, code string) (string, bool, error)
	DelCode(ctx context.Context, code string) error
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// EventPublisher fans session changes out to the notification service.
// Delivery is best-effort: no exactly-once promise is made to observers.
type EventPublisher interface {
	Publish(ctx context.Context, evt SessionEventMsg) error
}

// OutboxEvent is one pending notification row.
type OutboxEvent struct {
	ID      int64
	Channel string
	Payload []byte
}

// OutboxRepo durably stages submission events so they survive a broker
// outage; a drainer publishes and acknowledges them.
type OutboxRepo interface {
	InsertEvent(ctx context.Context, channel string, payload []byte) error
	FetchPending(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, retryIn time.Duration) error
}
