package domain

import (
	"math"
	"time"
)

type PaymentStructure string

const (
	StructurePayAll      PaymentStructure = "pay_all"
	StructureEqualSplit  PaymentStructure = "equal_split"
	StructurePayOwn      PaymentStructure = "pay_own"
	StructureCustomSplit PaymentStructure = "custom_split"
)

func ParsePaymentStructure(s string) (PaymentStructure, error) {
	switch PaymentStructure(s) {
	case StructurePayAll, StructureEqualSplit, StructurePayOwn, StructureCustomSplit:
		return PaymentStructure(s), nil
	}
	return "", ErrInvalidStructure
}

type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentCompleted PaymentState = "completed"
	PaymentFailed    PaymentState = "failed"
)

type PaymentAssignment struct {
	ParticipantID string       `json:"participantId"`
	AmountCents   int64        `json:"amountCents"`
	Percentage    float64      `json:"percentage,omitempty"`
	Status        PaymentState `json:"status"`
}

type PaymentSplit struct {
	Method            PaymentStructure    `json:"method"`
	Assignments       []PaymentAssignment `json:"assignments,omitempty"`
	CompletedPayments int                 `json:"completedPayments"`
	TotalPayments     int                 `json:"totalPayments"`
}

// percentTolerance absorbs float rounding when validating custom splits.
const percentTolerance = 0.01

// SetPaymentStructure switches the split strategy and clears stale
// assignments. Custom splits must name existing participants and sum to 100%.
// Already-completed payments are not re-validated.
func (s *GroupOrderSession) SetPaymentStructure(structure PaymentStructure, percentages map[string]float64, now time.Time) error {
	if err := s.ensureMutable(now); err != nil {
		return err
	}
	switch structure {
	case StructurePayAll, StructureEqualSplit, StructurePayOwn:
		s.PaymentSplit = PaymentSplit{Method: structure}
	case StructureCustomSplit:
		custom, err := s.validateCustomSplit(percentages)
		if err != nil {
			return err
		}
		// The validated percentages replace any stale assignments; amounts
		// are derived later by ComputeSplit.
		s.PaymentSplit = PaymentSplit{Method: structure, Assignments: custom}
	default:
		return ErrInvalidStructure
	}
	s.PaymentStructure = structure
	return nil
}

func (s *GroupOrderSession) validateCustomSplit(percentages map[string]float64) ([]PaymentAssignment, error) {
	if len(percentages) == 0 {
		return nil, ErrInvalidSplit
	}
	var sum float64
	// Build in join order so rounding absorption is deterministic.
	out := make([]PaymentAssignment, 0, len(percentages))
	for _, p := range s.Participants {
		pct, ok := percentages[p.ParticipantID]
		if !ok {
			continue
		}
		if pct < 0 {
			return nil, ErrInvalidSplit
		}
		out = append(out, PaymentAssignment{
			ParticipantID: p.ParticipantID,
			Percentage:    pct,
			Status:        PaymentPending,
		})
		sum += pct
	}
	if len(out) != len(percentages) {
		// A percentage named a participant that is not in this session.
		return nil, ErrInvalidSplit
	}
	if math.Abs(sum-100) > percentTolerance {
		return nil, ErrInvalidSplit
	}
	return out, nil
}

// ComputeSplit derives who owes what from the current strategy, ledger and
// participant roster. The returned assignments always sum exactly to
// Totals.TotalCents.
func (s *GroupOrderSession) ComputeSplit() ([]PaymentAssignment, error) {
	total := s.Totals.TotalCents
	switch s.PaymentStructure {
	case StructurePayAll:
		return []PaymentAssignment{{
			ParticipantID: s.creatorParticipantID(),
			AmountCents:   total,
			Status:        PaymentPending,
		}}, nil

	case StructureEqualSplit:
		active := s.ActiveParticipants()
		if len(active) == 0 {
			return nil, ErrInvalidSplit
		}
		n := int64(len(active))
		share := total / n
		remainder := total % n
		out := make([]PaymentAssignment, 0, len(active))
		for i, p := range active {
			amount := share
			if i == 0 {
				// Remainder goes to the first joiner so the sum stays exact.
				amount += remainder
			}
			out = append(out, PaymentAssignment{
				ParticipantID: p.ParticipantID,
				AmountCents:   amount,
				Status:        PaymentPending,
			})
		}
		return out, nil

	case StructurePayOwn:
		return s.computePayOwn(), nil

	case StructureCustomSplit:
		if len(s.PaymentSplit.Assignments) == 0 {
			return nil, ErrInvalidSplit
		}
		out := make([]PaymentAssignment, len(s.PaymentSplit.Assignments))
		copy(out, s.PaymentSplit.Assignments)
		var assigned int64
		for i := range out {
			out[i].AmountCents = int64(math.Round(float64(total) * out[i].Percentage / 100))
			assigned += out[i].AmountCents
		}
		// Last assignment absorbs rounding drift.
		out[len(out)-1].AmountCents += total - assigned
		return out, nil
	}
	return nil, ErrInvalidStructure
}

// computePayOwn sums each participant's ledger lines. Unattributed lines and
// non-item charges (tax, fees, tip) fall to the session creator so the
// assignments still cover the full total.
func (s *GroupOrderSession) computePayOwn() []PaymentAssignment {
	perParticipant := make(map[string]int64, len(s.Participants))
	var unattributed int64
	for _, li := range s.Items {
		if li.AddedBy == "" {
			unattributed += li.LineTotalCents()
			continue
		}
		perParticipant[li.AddedBy] += li.LineTotalCents()
	}

	out := make([]PaymentAssignment, 0, len(s.Participants))
	var assigned int64
	for _, p := range s.Participants {
		owed, ok := perParticipant[p.ParticipantID]
		if !ok && p.Status != ParticipantActive {
			continue
		}
		out = append(out, PaymentAssignment{
			ParticipantID: p.ParticipantID,
			AmountCents:   owed,
			Status:        PaymentPending,
		})
		assigned += owed
	}
	leftover := s.Totals.TotalCents - assigned
	if leftover != 0 {
		creator := s.creatorParticipantID()
		credited := false
		for i := range out {
			if out[i].ParticipantID == creator {
				out[i].AmountCents += leftover
				credited = true
				break
			}
		}
		if !credited {
			out = append(out, PaymentAssignment{
				ParticipantID: creator,
				AmountCents:   leftover,
				Status:        PaymentPending,
			})
		}
	}
	return out
}

// creatorParticipantID resolves the creator identity to a participant when
// the creator joined their own session, falling back to the raw identity.
func (s *GroupOrderSession) creatorParticipantID() string {
	if p := s.FindParticipantByUser(s.CreatedBy); p != nil {
		return p.ParticipantID
	}
	if p := s.FindParticipant(s.CreatedBy); p != nil {
		return p.ParticipantID
	}
	return s.CreatedBy
}

// ApplyPaymentStatus records a payment-gateway outcome for one assignment
// and refreshes the completed counter.
func (s *GroupOrderSession) ApplyPaymentStatus(participantID string, state PaymentState) error {
	for i := range s.PaymentSplit.Assignments {
		if s.PaymentSplit.Assignments[i].ParticipantID != participantID {
			continue
		}
		s.PaymentSplit.Assignments[i].Status = state
		completed := 0
		for _, a := range s.PaymentSplit.Assignments {
			if a.Status == PaymentCompleted {
				completed++
			}
		}
		s.PaymentSplit.CompletedPayments = completed
		return nil
	}
	return ErrParticipantNotFound
}
