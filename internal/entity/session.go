package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSubmitted Status = "submitted"
	StatusCancelled Status = "cancelled"
)

type ParticipantStatus string

const (
	ParticipantActive ParticipantStatus = "active"
	ParticipantLeft   ParticipantStatus = "left"
)

const DefaultMaxParticipants = 8

// Totals are minor units (cents). Total is always recomputed as the sum of
// the other five fields, never set independently.
type Totals struct {
	SubtotalCents    int64 `json:"subtotalCents"`
	TaxCents         int64 `json:"taxCents"`
	DeliveryFeeCents int64 `json:"deliveryFeeCents"`
	ServiceFeeCents  int64 `json:"serviceFeeCents"`
	TipCents         int64 `json:"tipCents"`
	TotalCents       int64 `json:"totalCents"`
}

type Settings struct {
	AllowItemModification      bool `json:"allowItemModification"`
	RequireApprovalForItems    bool `json:"requireApprovalForItems"`
	AllowAnonymousParticipants bool `json:"allowAnonymousParticipants"`
}

func DefaultSettings() Settings {
	return Settings{
		AllowItemModification:      true,
		RequireApprovalForItems:    false,
		AllowAnonymousParticipants: true,
	}
}

// DeliveryInfo is an opaque pass-through for the delivery collaborator.
type DeliveryInfo struct {
	Address      string     `json:"address,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	Contact      string     `json:"contact,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

type Participant struct {
	ParticipantID string            `json:"participantId"`
	Name          string            `json:"name"`
	Email         string            `json:"email,omitempty"`
	UserID        string            `json:"userId,omitempty"`
	IsAnonymous   bool              `json:"isAnonymous"`
	Status        ParticipantStatus `json:"status"`
	JoinedAt      time.Time         `json:"joinedAt"`
	LastActivity  time.Time         `json:"lastActivity"`

	// SpendingLimitCents is nil when no cap is configured.
	SpendingLimitCents *int64 `json:"spendingLimitCents,omitempty"`
	CurrentSpentCents  int64  `json:"currentSpentCents"`
}

type LineItem struct {
	ItemID         string    `json:"itemId"`
	MenuItemID     string    `json:"menuItemId"`
	Name           string    `json:"name"`
	PriceCents     int64     `json:"priceCents"`
	Quantity       int       `json:"quantity"`
	Customizations []string  `json:"customizations,omitempty"`
	AddedBy        string    `json:"addedBy,omitempty"`
	AddedAt        time.Time `json:"addedAt"`
	LastModified   time.Time `json:"lastModified"`
	ModifiedBy     string    `json:"modifiedBy,omitempty"`
}

func (li LineItem) LineTotalCents() int64 {
	return li.PriceCents * int64(li.Quantity)
}

// NewItem is the validated shape of one item addition request.
type NewItem struct {
	MenuItemID     string
	Name           string
	PriceCents     int64
	Quantity       int
	Customizations []string
}

type GroupOrderSession struct {
	SessionID    string `json:"sessionId"`
	InviteCode   string `json:"inviteCode"`
	RestaurantID string `json:"restaurantId"`
	TableID      string `json:"tableId,omitempty"`
	Status       Status `json:"status"`

	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	MaxParticipants int       `json:"maxParticipants"`

	Participants []Participant `json:"participants"`
	Items        []LineItem    `json:"items"`
	Totals       Totals        `json:"totals"`

	PaymentStructure      PaymentStructure `json:"paymentStructure"`
	PaymentSplit          PaymentSplit     `json:"paymentSplit"`
	SpendingLimitRequired bool             `json:"spendingLimitRequired"`

	DeliveryInfo *DeliveryInfo `json:"deliveryInfo,omitempty"`
	Settings     Settings      `json:"settings"`

	// Version is the optimistic concurrency token; every persisted mutation
	// increments it by exactly one.
	Version int64 `json:"version"`

	OrderNumber string     `json:"orderNumber,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	SubmittedBy string     `json:"submittedBy,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// AnonymousCreator marks sessions opened without a caller identity.
const AnonymousCreator = "anonymous"

func NewGroupOrderSession(restaurantID, tableID, createdBy string, maxParticipants int, expiresAt, now time.Time) *GroupOrderSession {
	if createdBy == "" {
		createdBy = AnonymousCreator
	}
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &GroupOrderSession{
		SessionID:        uuid.NewString(),
		InviteCode:       NewInviteCode(),
		RestaurantID:     restaurantID,
		TableID:          tableID,
		Status:           StatusActive,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
		MaxParticipants:  maxParticipants,
		PaymentStructure: StructureEqualSplit,
		PaymentSplit:     PaymentSplit{Method: StructureEqualSplit},
		Settings:         DefaultSettings(),
	}
}

// ExpireIfDue lazily flips an overdue active session to expired. It reports
// whether a transition happened so the caller knows a persist is owed.
func (s *GroupOrderSession) ExpireIfDue(now time.Time) bool {
	if s.Status == StatusActive && !now.Before(s.ExpiresAt) {
		s.Status = StatusExpired
		return true
	}
	return false
}

// ensureMutable is the shared lifecycle guard for every mutating operation.
// Expiry takes precedence over any other state check.
func (s *GroupOrderSession) ensureMutable(now time.Time) error {
	s.ExpireIfDue(now)
	switch s.Status {
	case StatusActive:
		return nil
	case StatusExpired:
		return ErrSessionExpired
	default:
		return ErrSessionNotActive
	}
}

func (s *GroupOrderSession) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Status == ParticipantActive {
			out = append(out, p)
		}
	}
	return out
}

func (s *GroupOrderSession) FindParticipant(participantID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ParticipantID == participantID {
			return &s.Participants[i]
		}
	}
	return nil
}

// FindParticipantByUser resolves an upstream user identity to the session
// participant bound to it, if any.
func (s *GroupOrderSession) FindParticipantByUser(userID string) *Participant {
	if userID == "" {
		return nil
	}
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// Join appends a new participant. Capacity and expiry are re-evaluated on
// every call, never cached.
func (s *GroupOrderSession) Join(name, email, userID string, now time.Time) (*Participant, error) {
	if err := s.ensureMutable(now); err != nil {
		return nil, err
	}
	if userID == "" && !s.Settings.AllowAnonymousParticipants {
		return nil, ErrAnonymousDenied
	}
	if len(s.ActiveParticipants()) >= s.MaxParticipants {
		return nil, ErrSessionFull
	}
	p := Participant{
		ParticipantID: uuid.NewString(),
		Name:          name,
		Email:         email,
		UserID:        userID,
		IsAnonymous:   userID == "",
		Status:        ParticipantActive,
		JoinedAt:      now,
		LastActivity:  now,
	}
	s.Participants = append(s.Participants, p)
	return &s.Participants[len(s.Participants)-1], nil
}

// Leave marks the participant as left. Their items stay attributed to them
// to preserve the audit trail.
func (s *GroupOrderSession) Leave(participantID string, now time.Time) error {
	if err := s.ensureMutable(now); err != nil {
		return err
	}
	p := s.FindParticipant(participantID)
	if p == nil {
		return ErrParticipantNotFound
	}
	p.Status = ParticipantLeft
	p.LastActivity = now
	return nil
}

func validateNewItem(in NewItem) error {
	id := strings.TrimSpace(in.MenuItemID)
	if id == "" || strings.ContainsAny(id, " \t\n") || len(id) > 128 {
		return ErrInvalidReference
	}
	if in.PriceCents < 0 {
		return ErrInvalidPrice
	}
	if in.Quantity < 1 {
		return ErrInvalidQuantity
	}
	return nil
}

// AddItems validates and appends line items, attributing them to the given
// participant when one is identified. The spending limit is a precondition:
// nothing is appended when the participant's cap would be exceeded.
// Anonymous (unattributed) additions are exempt from per-participant limits.
func (s *GroupOrderSession) AddItems(participantID string, items []NewItem, now time.Time) ([]LineItem, error) {
	if err := s.ensureMutable(now); err != nil {
		return nil, err
	}
	var addedCents int64
	for _, in := range items {
		if err := validateNewItem(in); err != nil {
			return nil, err
		}
		addedCents += in.PriceCents * int64(in.Quantity)
	}

	var p *Participant
	if participantID != "" {
		p = s.FindParticipant(participantID)
		if p == nil {
			return nil, ErrParticipantNotFound
		}
		if err := s.checkSpendingLimit(p, addedCents); err != nil {
			return nil, err
		}
	}

	added := make([]LineItem, 0, len(items))
	for _, in := range items {
		li := LineItem{
			ItemID:         uuid.NewString(),
			MenuItemID:     strings.TrimSpace(in.MenuItemID),
			Name:           in.Name,
			PriceCents:     in.PriceCents,
			Quantity:       in.Quantity,
			Customizations: in.Customizations,
			AddedBy:        participantID,
			AddedAt:        now,
			LastModified:   now,
			ModifiedBy:     participantID,
		}
		s.Items = append(s.Items, li)
		added = append(added, li)
	}
	if p != nil {
		p.CurrentSpentCents += addedCents
		p.LastActivity = now
	}
	s.RecomputeTotals()
	return added, nil
}

// checkSpendingLimit rejects an addition that would push the participant's
// running spend past their configured cap.
func (s *GroupOrderSession) checkSpendingLimit(p *Participant, addedCents int64) error {
	if !s.SpendingLimitRequired || p.SpendingLimitCents == nil {
		return nil
	}
	limit := *p.SpendingLimitCents
	if p.CurrentSpentCents+addedCents > limit {
		return &LimitExceededError{
			ParticipantID: p.ParticipantID,
			LimitCents:    limit,
			OverageCents:  p.CurrentSpentCents + addedCents - limit,
		}
	}
	return nil
}

// SetSpendingLimit sets or replaces a participant's cap. It never
// retroactively invalidates items already on the ledger.
func (s *GroupOrderSession) SetSpendingLimit(participantID string, limitCents int64, now time.Time) error {
	if err := s.ensureMutable(now); err != nil {
		return err
	}
	if limitCents < 0 {
		return ErrInvalidLimit
	}
	p := s.FindParticipant(participantID)
	if p == nil {
		return ErrParticipantNotFound
	}
	p.SpendingLimitCents = &limitCents
	p.LastActivity = now
	return nil
}

// RecomputeTotals derives subtotal from the ledger and total from the five
// component fields. Called unconditionally after every ledger mutation.
func (s *GroupOrderSession) RecomputeTotals() {
	var subtotal int64
	for _, li := range s.Items {
		subtotal += li.LineTotalCents()
	}
	s.Totals.SubtotalCents = subtotal
	s.Totals.TotalCents = s.Totals.SubtotalCents +
		s.Totals.TaxCents +
		s.Totals.DeliveryFeeCents +
		s.Totals.ServiceFeeCents +
		s.Totals.TipCents
}

// Cancel is the administrative terminal transition.
func (s *GroupOrderSession) Cancel(now time.Time) error {
	s.ExpireIfDue(now)
	if s.Status != StatusActive {
		return ErrInvalidStateTransition
	}
	s.Status = StatusCancelled
	return nil
}

// Submit finalizes the session: final totals recomputation, split
// computation, order number, terminal submitted state.
func (s *GroupOrderSession) Submit(info *DeliveryInfo, notes, submittedBy string, now time.Time) error {
	s.ExpireIfDue(now)
	if s.Status == StatusExpired {
		return ErrSessionExpired
	}
	if s.Status != StatusActive {
		return ErrInvalidStateTransition
	}
	if len(s.Items) == 0 {
		return ErrEmptyOrder
	}
	if info != nil {
		s.DeliveryInfo = mergeDeliveryInfo(s.DeliveryInfo, info)
	}
	s.RecomputeTotals()
	assignments, err := s.ComputeSplit()
	if err != nil {
		return err
	}
	s.PaymentSplit.Assignments = assignments
	s.PaymentSplit.TotalPayments = len(assignments)
	s.OrderNumber = newOrderNumber(now)
	s.SubmittedAt = &now
	if submittedBy == "" {
		submittedBy = AnonymousCreator
	}
	s.SubmittedBy = submittedBy
	s.Notes = notes
	s.Status = StatusSubmitted
	return nil
}

func mergeDeliveryInfo(base, in *DeliveryInfo) *DeliveryInfo {
	if base == nil {
		cp := *in
		return &cp
	}
	out := *base
	if in.Address != "" {
		out.Address = in.Address
	}
	if in.Instructions != "" {
		out.Instructions = in.Instructions
	}
	if in.Contact != "" {
		out.Contact = in.Contact
	}
	if in.ScheduledFor != nil {
		out.ScheduledFor = in.ScheduledFor
	}
	return &out
}
