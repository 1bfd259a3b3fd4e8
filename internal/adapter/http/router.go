package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aq2208/group-order-api/internal/adapter/http/middleware"
	"github.com/aq2208/group-order-api/internal/logging"
)

func NewRouter(h *SessionHandler, th *TokenHandler, authz *middleware.Authz) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := logging.New("http")
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/token", th.IssueToken)

	// Caller identity is optional on the group-order surface; anonymous
	// requests proceed where session settings allow.
	g := r.Group("/v1/group-orders", authz.Identity())
	{
		g.POST("/create", h.CreateSession)
		g.POST("/join", h.JoinSession)
		g.GET("/validate-join-code", h.ValidateJoinCode)
		g.GET("/:id", h.GetSession)
		g.POST("/:id/leave", h.LeaveSession)
		g.PUT("/:id/spending-limits", h.UpdateSpendingLimits)
		g.PUT("/:id/spending-limits/:participantId", h.UpdateParticipantLimit)
		g.POST("/:id/add-items", h.AddItems)
		g.PUT("/:id/payment-structure", h.UpdatePaymentStructure)
		// :id carries the shareable session code here, see SubmitSession.
		g.POST("/:id/submit", h.SubmitSession)
		g.POST("/:id/cancel", authz.Require("group-orders.admin"), h.CancelSession)
	}

	return r
}
