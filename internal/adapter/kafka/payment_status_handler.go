package kafka

import (
	"context"
	"errors"

	domain "github.com/aq2208/group-order-api/internal/entity"
	"github.com/aq2208/group-order-api/internal/usecase"
)

// PaymentApplier is the slice of the facade this handler needs.
type PaymentApplier interface {
	ApplyPaymentStatus(ctx context.Context, msg usecase.PaymentStatusMsg) error
}

// PaymentStatusHandler records payment-gateway outcomes on the session's
// split assignments.
type PaymentStatusHandler struct {
	Facade PaymentApplier
}

func NewPaymentStatusHandler(f PaymentApplier) *PaymentStatusHandler {
	return &PaymentStatusHandler{Facade: f}
}

func (h *PaymentStatusHandler) Handle(ctx context.Context, ev usecase.PaymentStatusMsg) error {
	err := h.Facade.ApplyPaymentStatus(ctx, ev)
	// Events for unknown sessions or participants are dropped, not retried:
	// redelivery cannot make them resolvable.
	if errors.Is(err, usecase.ErrNotFound) || errors.Is(err, domain.ErrParticipantNotFound) {
		return nil
	}
	return err
}
