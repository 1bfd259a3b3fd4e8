package http

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aq2208/group-order-api/internal/adapter/http/middleware"
	domain "github.com/aq2208/group-order-api/internal/entity"
	"github.com/aq2208/group-order-api/internal/usecase"
)

const handlerTimeout = 3 * time.Second

type SessionHandler struct {
	facade *usecase.GroupOrderFacade
}

func NewSessionHandler(f *usecase.GroupOrderFacade) *SessionHandler {
	return &SessionHandler{facade: f}
}

var inviteCodeShape = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)

// sessionID pulls and validates the :id path segment. A syntactically
// invalid id is a 400, never a 404.
func sessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id"})
		return "", false
	}
	return id, true
}

func reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), handlerTimeout)
}

// writeError maps domain and usecase errors onto the HTTP surface.
func writeError(c *gin.Context, err error) {
	var limitErr *domain.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         "limit_exceeded",
			"participantId": limitErr.ParticipantID,
			"limitCents":    limitErr.LimitCents,
			"overageCents":  limitErr.OverageCents,
		})
	case errors.Is(err, usecase.ErrNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, usecase.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_modification"})
	case errors.Is(err, usecase.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request"})
	case errors.Is(err, domain.ErrSessionExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_expired"})
	case errors.Is(err, domain.ErrSessionFull):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_full"})
	case errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrInvalidStateTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_not_active"})
	case errors.Is(err, domain.ErrEmptyOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_order"})
	case errors.Is(err, domain.ErrInvalidReference):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_menu_item_id"})
	case errors.Is(err, domain.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price"})
	case errors.Is(err, domain.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quantity"})
	case errors.Is(err, domain.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
	case errors.Is(err, domain.ErrInvalidStructure):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payment_structure"})
	case errors.Is(err, domain.ErrInvalidSplit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_split"})
	case errors.Is(err, domain.ErrAnonymousDenied):
		c.JSON(http.StatusBadRequest, gin.H{"error": "anonymous_not_allowed"})
	case errors.Is(err, usecase.ErrMissingRestaurant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "restaurant_id_required"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type createSessionReq struct {
	RestaurantID          string           `json:"restaurantId" binding:"required"`
	TableID               string           `json:"tableId"`
	MaxParticipants       int              `json:"maxParticipants"`
	ExpiresInMinutes      int              `json:"expiresInMinutes"`
	PaymentStructure      string           `json:"paymentStructure"`
	SpendingLimitRequired bool             `json:"spendingLimitRequired"`
	Settings              *domain.Settings `json:"settings"`
}

// CreateSession handles POST /create.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "restaurant_id_required"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.facade.CreateSession(ctx, usecase.CreateSessionInput{
		RestaurantID:          req.RestaurantID,
		TableID:               req.TableID,
		CreatedBy:             middleware.PrincipalFrom(c).UserID,
		MaxParticipants:       req.MaxParticipants,
		ExpiresIn:             time.Duration(req.ExpiresInMinutes) * time.Minute,
		PaymentStructure:      req.PaymentStructure,
		SpendingLimitRequired: req.SpendingLimitRequired,
		Settings:              req.Settings,
		IdempotencyKey:        c.GetHeader("X-Idempotency-Key"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId":        s.SessionID,
		"inviteCode":       s.InviteCode,
		"expiresAt":        s.ExpiresAt,
		"maxParticipants":  s.MaxParticipants,
		"paymentStructure": s.PaymentStructure,
	})
}

type joinSessionReq struct {
	InviteCode string `json:"inviteCode" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email"`
}

// JoinSession handles POST /join.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req joinSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	out, err := h.facade.JoinSession(ctx, usecase.JoinSessionInput{
		InviteCode: req.InviteCode,
		Name:       req.Name,
		Email:      req.Email,
		UserID:     middleware.PrincipalFrom(c).UserID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant": out.Participant,
		"session":     out.Session,
	})
}

// ValidateJoinCode handles GET /validate-join-code?code=.
func (h *SessionHandler) ValidateJoinCode(c *gin.Context) {
	code := c.Query("code")
	if !inviteCodeShape.MatchString(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	out, err := h.facade.ValidateJoinCode(ctx, code)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"isValid": out.IsValid}
	if out.Session != nil {
		resp["groupOrder"] = out.Session
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession handles GET /:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.facade.GetSession(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type leaveReq struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

// LeaveSession handles POST /:id/leave.
func (h *SessionHandler) LeaveSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req leaveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	remaining, err := h.facade.LeaveSession(ctx, id, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeParticipants": remaining})
}

type updateLimitsReq struct {
	SpendingLimitRequired *bool            `json:"spendingLimitRequired"`
	LimitsCents           map[string]int64 `json:"limitsCents"`
}

// UpdateSpendingLimits handles PUT /:id/spending-limits.
func (h *SessionHandler) UpdateSpendingLimits(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req updateLimitsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.facade.UpdateSpendingLimits(ctx, usecase.UpdateSpendingLimitsInput{
		SessionID:   id,
		Required:    req.SpendingLimitRequired,
		LimitsCents: req.LimitsCents,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"spendingLimitRequired": s.SpendingLimitRequired,
		"participants":          s.Participants,
	})
}

type updateOneLimitReq struct {
	LimitCents *int64 `json:"limitCents" binding:"required"`
}

// UpdateParticipantLimit handles PUT /:id/spending-limits/:participantId.
func (h *SessionHandler) UpdateParticipantLimit(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req updateOneLimitReq
	if err := c.ShouldBindJSON(&req); err != nil || req.LimitCents == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.facade.UpdateParticipantLimit(ctx, id, c.Param("participantId"), *req.LimitCents)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": s.Participants})
}

type addItemReq struct {
	MenuItemID     string   `json:"menuItemId" binding:"required"`
	Name           string   `json:"name" binding:"required"`
	PriceCents     int64    `json:"priceCents"`
	Quantity       int      `json:"quantity" binding:"required"`
	Customizations []string `json:"customizations"`
}

type addItemsReq struct {
	ParticipantID string       `json:"participantId"`
	Items         []addItemReq `json:"items" binding:"required,min=1"`
}

// AddItems handles POST /:id/add-items.
func (h *SessionHandler) AddItems(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req addItemsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	items := make([]domain.NewItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.NewItem{
			MenuItemID:     it.MenuItemID,
			Name:           it.Name,
			PriceCents:     it.PriceCents,
			Quantity:       it.Quantity,
			Customizations: it.Customizations,
		})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	out, err := h.facade.AddItems(ctx, usecase.AddItemsInput{
		SessionID:     id,
		ParticipantID: req.ParticipantID,
		UserID:        middleware.PrincipalFrom(c).UserID,
		Items:         items,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"added":  out.Added,
		"totals": out.Totals,
	})
}

type updateStructureReq struct {
	PaymentStructure string             `json:"paymentStructure" binding:"required"`
	Percentages      map[string]float64 `json:"percentages"`
}

// UpdatePaymentStructure handles PUT /:id/payment-structure.
func (h *SessionHandler) UpdatePaymentStructure(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req updateStructureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payment_structure"})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.facade.UpdatePaymentStructure(ctx, usecase.UpdatePaymentStructureInput{
		SessionID:   id,
		Structure:   req.PaymentStructure,
		Percentages: req.Percentages,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paymentSplit": s.PaymentSplit, "paymentStructure": s.PaymentStructure})
}

type submitReq struct {
	DeliveryInfo *domain.DeliveryInfo `json:"deliveryInfo"`
	Notes        string               `json:"notes"`
}

// SubmitSession handles POST /:id/submit. The path segment carries the
// shareable session code, not the opaque session id.
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	code := c.Param("id")
	if !inviteCodeShape.MatchString(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}
	var req submitReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	out, err := h.facade.SubmitSession(ctx, usecase.SubmitSessionInput{
		SessionCode:  code,
		SubmittedBy:  middleware.PrincipalFrom(c).UserID,
		DeliveryInfo: req.DeliveryInfo,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	s := out.Session
	c.JSON(http.StatusOK, gin.H{
		"orderNumber":  s.OrderNumber,
		"submittedAt":  s.SubmittedAt,
		"totals":       s.Totals,
		"paymentSplit": s.PaymentSplit,
		"breakdown":    out.Breakdown,
	})
}

// CancelSession handles POST /:id/cancel (administrative).
func (h *SessionHandler) CancelSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.facade.CancelSession(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": s.SessionID, "status": s.Status})
}
