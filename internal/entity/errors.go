package domain

import (
	"errors"
	"fmt"
)

// Validation errors: rejected before any mutation.
var (
	ErrInvalidReference = errors.New("invalid menu item reference")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidLimit     = errors.New("invalid spending limit")
	ErrInvalidStructure = errors.New("invalid payment structure")
	ErrInvalidSplit     = errors.New("invalid payment split")
	ErrAnonymousDenied  = errors.New("anonymous participants not allowed")
)

// State errors: the session refused the operation in its current state.
var (
	ErrSessionNotActive       = errors.New("session not active")
	ErrSessionExpired         = errors.New("session expired")
	ErrSessionFull            = errors.New("session full")
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrEmptyOrder             = errors.New("order has no items")
	ErrLimitExceeded          = errors.New("spending limit exceeded")
)

// LimitExceededError carries the attempted overage so the caller can tell
// the participant by how much the addition went over their cap.
type LimitExceededError struct {
	ParticipantID string
	LimitCents    int64
	OverageCents  int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("spending limit exceeded for participant %s: over by %d", e.ParticipantID, e.OverageCents)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }
