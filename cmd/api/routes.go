package main

import (
	"callbridge/internal/httpapi"
	"callbridge/internal/observability"
	"callbridge/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	// Provider callbacks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	r.POST("/webhooks/telephony/leg", h.LegWebhook)
	r.POST("/webhooks/telephony/conference", h.ConferenceWebhook)

	// TwiML documents fetched by the provider when a leg answers.
	r.GET("/twiml/conference/:id/:role", h.ConferenceTwiML)
	r.GET("/twiml/no-answer", h.NoAnswerTwiML)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", rbac.RequireAnyRole(rbac.RoleService, rbac.RoleOperator), h.CreateSession)
			sessions.GET("/:id", rbac.RequireAnyRole(rbac.RoleService, rbac.RoleOperator, rbac.RoleReconciler), h.GetSession)
			sessions.POST("/:id/cancel", rbac.RequireAnyRole(rbac.RoleService, rbac.RoleOperator), h.CancelSession)
			sessions.GET("/:id/events", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleReconciler), h.SessionEvents)
		}

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleReconciler))
		{
			reports.GET("/sessions", h.SessionsReport)
			reports.GET("/settlement", h.SettlementReport)
		}
	}
}
