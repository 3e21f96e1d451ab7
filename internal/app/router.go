// internal/app/router.go
package app

import (
	"net/http"

	authHandler "membership-service/internal/handlers/auth"
	catalogHandler "membership-service/internal/handlers/catalog"
	subscriptionHandler "membership-service/internal/handlers/subscription"
	wsHandler "membership-service/internal/handlers/websocket"
	"membership-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	AuthHandler         *authHandler.AuthHandler
	CatalogHandler      *catalogHandler.CatalogHandler
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	WSHandler           *wsHandler.WebSocketHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)
	r.GET("/ws/stats", h.AuthMiddleware.Auth(), h.WSHandler.Stats)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/register", h.AuthHandler.Register)
		authPublic.POST("/login", h.AuthHandler.Login)
	}

	// ==================== Catalog ====================
	plans := api.Group("/plans")
	{
		plans.GET("", h.CatalogHandler.ListPlans)
		plans.GET("/:id", h.CatalogHandler.GetPlan)
	}

	tiers := api.Group("/tiers")
	{
		tiers.GET("", h.CatalogHandler.ListTiers)
		tiers.GET("/:id", h.CatalogHandler.GetTier)
	}

	// ==================== Subscriptions ====================
	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(h.AuthMiddleware.Auth())
	{
		subscriptions.POST("", h.SubscriptionHandler.Subscribe)
		subscriptions.GET("/current", h.SubscriptionHandler.GetCurrent)
		subscriptions.GET("/history", h.SubscriptionHandler.GetHistory)
		subscriptions.PUT("/tier", h.SubscriptionHandler.ChangeTier)
		subscriptions.DELETE("", h.SubscriptionHandler.Cancel)
		subscriptions.POST("/orders", h.SubscriptionHandler.RecordOrder)
	}
}
