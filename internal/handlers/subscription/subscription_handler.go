// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"context"
	"net/http"

	"membership-service/internal/domain/membership"
	"membership-service/internal/middleware"
	"membership-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type LifecycleService interface {
	Subscribe(ctx context.Context, userID, planID, tierID int64) (*membership.Subscription, error)
	GetCurrent(ctx context.Context, userID int64) (*membership.Subscription, error)
	GetHistory(ctx context.Context, userID int64) ([]*membership.Subscription, error)
	ChangeTier(ctx context.Context, userID, newTierID int64) (*membership.Subscription, error)
	CancelSubscription(ctx context.Context, userID int64) (*membership.Subscription, error)
	RecordOrderActivity(ctx context.Context, userID int64, orderValue float64) (*membership.Subscription, error)
}

type Describer interface {
	Describe(ctx context.Context, sub *membership.Subscription) *membership.SubscriptionResponse
	DescribeAll(ctx context.Context, subs []*membership.Subscription) []*membership.SubscriptionResponse
}

type SubscriptionHandler struct {
	subscriptionService LifecycleService
	catalog             Describer
}

func NewSubscriptionHandler(subscriptionService LifecycleService, catalog Describer) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		catalog:             catalog,
	}
}

// Subscribe starts a subscription for the authenticated user
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req membership.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	sub, err := h.subscriptionService.Subscribe(c.Request.Context(), userID, req.PlanID, req.TierID)
	if err != nil {
		response.FromError(c, "failed to create subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription created successfully", h.catalog.Describe(c.Request.Context(), sub))
}

func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	sub, err := h.subscriptionService.GetCurrent(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "no active subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "current subscription retrieved", h.catalog.Describe(c.Request.Context(), sub))
}

func (h *SubscriptionHandler) GetHistory(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	subs, err := h.subscriptionService.GetHistory(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to get subscription history", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription history retrieved", h.catalog.DescribeAll(c.Request.Context(), subs))
}

// ChangeTier moves the current subscription to another tier
func (h *SubscriptionHandler) ChangeTier(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req membership.ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	sub, err := h.subscriptionService.ChangeTier(c.Request.Context(), userID, req.NewTierID)
	if err != nil {
		response.FromError(c, "failed to change tier", err)
		return
	}

	response.Success(c, http.StatusOK, "tier changed successfully", h.catalog.Describe(c.Request.Context(), sub))
}

func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	sub, err := h.subscriptionService.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription cancelled successfully", h.catalog.Describe(c.Request.Context(), sub))
}

// RecordOrder adds one completed order to the current subscription
func (h *SubscriptionHandler) RecordOrder(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req membership.RecordOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	sub, err := h.subscriptionService.RecordOrderActivity(c.Request.Context(), userID, req.OrderValue)
	if err != nil {
		response.FromError(c, "failed to record order", err)
		return
	}

	response.Success(c, http.StatusOK, "order recorded successfully", h.catalog.Describe(c.Request.Context(), sub))
}
