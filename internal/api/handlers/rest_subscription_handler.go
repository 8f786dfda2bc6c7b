package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"eaglehurst/platform/internal/api/middleware"
	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/services"
)

// RestSubscriptionHandler handles REST requests for subscriptions and
// PayPal settlement.
type RestSubscriptionHandler struct {
	subscriptionService services.ISubscriptionService
	cfg                 *config.Config
}

// NewRestSubscriptionHandler creates a new RestSubscriptionHandler.
func NewRestSubscriptionHandler(subscriptionService services.ISubscriptionService, cfg *config.Config) *RestSubscriptionHandler {
	return &RestSubscriptionHandler{subscriptionService: subscriptionService, cfg: cfg}
}

// GetPlan handles GET /v1/subscriptions/plan: the price the checkout
// page shows before creating a PayPal order.
func (h *RestSubscriptionHandler) GetPlan(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"price":       h.cfg.SubscriptionPrice,
		"period_days": h.cfg.SubscriptionPeriodDays,
	})
}

// GetSubscription handles GET /v1/subscriptions/me.
func (h *RestSubscriptionHandler) GetSubscription(c *gin.Context) {
	sub, err := h.subscriptionService.GetSubscription(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, services.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

type confirmPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// ConfirmPayment handles POST /v1/subscriptions/confirm: the PayPal
// callback the SPA hits after checkout approval. The order is verified
// against PayPal before any access is granted.
func (h *RestSubscriptionHandler) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment data"})
		return
	}

	sub, err := h.subscriptionService.ConfirmPayment(c.Request.Context(), middleware.UserID(c), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentAlreadyProcessed):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment already processed"})
		case errors.Is(err, services.ErrPaymentInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Payment could not be validated"})
		default:
			log.Printf("Payment confirmation error for order %s: %v", req.OrderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment processing failed"})
		}
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CancelSubscription handles POST /v1/subscriptions/cancel. Access
// continues until the paid period ends.
func (h *RestSubscriptionHandler) CancelSubscription(c *gin.Context) {
	sub, err := h.subscriptionService.CancelSubscription(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, services.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription to cancel"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListPayments handles GET /v1/subscriptions/payments.
func (h *RestSubscriptionHandler) ListPayments(c *gin.Context) {
	records, err := h.subscriptionService.ListPayments(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": records})
}
