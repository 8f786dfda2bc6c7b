package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/api/middleware"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
	"eaglehurst/platform/internal/tasks"
)

// RestAdminHandler handles the back-office: user management, seller
// verification review, listing moderation and analytics.
type RestAdminHandler struct {
	userService       services.IUserService
	listingService    services.IListingService
	connectionService services.IConnectionService
	configService     services.IConfigService
	taskClient        tasks.IClient
}

// NewRestAdminHandler creates a new RestAdminHandler.
func NewRestAdminHandler(
	userService services.IUserService,
	listingService services.IListingService,
	connectionService services.IConnectionService,
	configService services.IConfigService,
	taskClient tasks.IClient,
) *RestAdminHandler {
	return &RestAdminHandler{
		userService:       userService,
		listingService:    listingService,
		connectionService: connectionService,
		configService:     configService,
		taskClient:        taskClient,
	}
}

// ListUsers handles GET /v1/admin/users.
func (h *RestAdminHandler) ListUsers(c *gin.Context) {
	role := models.Role(c.Query("role"))
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	users, err := h.userService.ListUsers(c.Request.Context(), role, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type suspendUserRequest struct {
	Suspend *bool `json:"suspend" binding:"required"`
}

// SuspendUser handles PUT /v1/admin/users/:id/suspension.
func (h *RestAdminHandler) SuspendUser(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req suspendUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var err error
	if *req.Suspend {
		err = h.userService.SuspendUser(c.Request.Context(), userID)
	} else {
		err = h.userService.UnsuspendUser(c.Request.Context(), userID)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update suspension"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListConnections handles GET /v1/admin/connections.
func (h *RestAdminHandler) ListConnections(c *gin.Context) {
	status := models.ConnectionStatus(c.Query("status"))
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	conns, err := h.connectionService.ListAll(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list connections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// ListPendingVerifications handles GET /v1/admin/verifications.
func (h *RestAdminHandler) ListPendingVerifications(c *gin.Context) {
	users, err := h.userService.ListPendingSellerVerifications(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list verifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verifications": users})
}

type reviewVerificationRequest struct {
	Approve  *bool  `json:"approve" binding:"required"`
	Comments string `json:"comments"`
}

// ReviewVerification handles PUT /v1/admin/verifications/:id.
func (h *RestAdminHandler) ReviewVerification(c *gin.Context) {
	sellerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review data"})
		return
	}

	err := h.userService.ReviewSellerVerification(c.Request.Context(), sellerID, *req.Approve, req.Comments)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No pending verification for this seller"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record review"})
		return
	}

	h.notifyUser(c, sellerID, "verification_decided")
	c.Status(http.StatusNoContent)
}

type suspendListingRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// SuspendListing handles POST /v1/admin/listings/:id/suspension.
func (h *RestAdminHandler) SuspendListing(c *gin.Context) {
	listingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req suspendListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A reason is required"})
		return
	}

	susp, err := h.listingService.SuspendListing(c.Request.Context(), listingID, middleware.UserID(c), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		case errors.Is(err, services.ErrListingSuspended):
			c.JSON(http.StatusConflict, gin.H{"error": "Listing is already suspended"})
		default:
			log.Printf("Listing suspension error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to suspend listing"})
		}
		return
	}
	c.JSON(http.StatusCreated, susp)
}

// UnsuspendListing handles DELETE /v1/admin/listings/:id/suspension.
func (h *RestAdminHandler) UnsuspendListing(c *gin.Context) {
	listingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.listingService.UnsuspendListing(c.Request.Context(), listingID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to lift suspension"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Analytics handles GET /v1/admin/analytics: the counts behind the
// admin dashboard tiles.
func (h *RestAdminHandler) Analytics(c *gin.Context) {
	ctx := c.Request.Context()

	userCounts, err := h.userService.CountUsersByRole(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute analytics"})
		return
	}
	listingCounts, err := h.listingService.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute analytics"})
		return
	}
	connectionCounts, err := h.connectionService.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":       userCounts,
		"listings":    listingCounts,
		"connections": connectionCounts,
	})
}

type endpointRateLimitRequest struct {
	Endpoint  string                  `json:"endpoint" binding:"required"`
	RateLimit *models.RateLimitConfig `json:"rate_limit" binding:"required"`
}

// SetEndpointRateLimit handles PUT /v1/admin/config/rate-limits.
func (h *RestAdminHandler) SetEndpointRateLimit(c *gin.Context) {
	var req endpointRateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rate limit config"})
		return
	}
	if err := h.configService.SetEndpointRateLimit(c.Request.Context(), req.Endpoint, req.RateLimit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store rate limit config"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RestAdminHandler) notifyUser(c *gin.Context, userID primitive.ObjectID, templateID string) {
	if h.taskClient == nil {
		return
	}
	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		return
	}
	err = h.taskClient.EnqueueEmailDelivery(c.Request.Context(), tasks.EmailDeliveryPayload{
		UserID:     userID,
		Email:      user.Email,
		TemplateID: templateID,
	})
	if err != nil {
		log.Printf("Failed to enqueue %s email for %s: %v", templateID, userID.Hex(), err)
	}
}

func pathID(c *gin.Context, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}
