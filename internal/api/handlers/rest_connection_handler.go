package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/api/middleware"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
	"eaglehurst/platform/internal/tasks"
)

// RestConnectionHandler handles REST requests for connections.
type RestConnectionHandler struct {
	connectionService services.IConnectionService
	taskClient        tasks.IClient
}

// NewRestConnectionHandler creates a new RestConnectionHandler.
func NewRestConnectionHandler(connectionService services.IConnectionService, taskClient tasks.IClient) *RestConnectionHandler {
	return &RestConnectionHandler{connectionService: connectionService, taskClient: taskClient}
}

type createConnectionRequest struct {
	ListingID      string `json:"listing_id" binding:"required"`
	InitialMessage string `json:"initial_message" binding:"required"`
	// BuyerID is set only by sellers reaching out about their own
	// listing; buyers leave it empty.
	BuyerID string `json:"buyer_id"`
}

// CreateConnection handles POST /v1/connections.
func (h *RestConnectionHandler) CreateConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection data: " + err.Error()})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID"})
		return
	}

	callerID := middleware.UserID(c)
	ctx := c.Request.Context()

	var conn *models.Connection
	if req.BuyerID != "" {
		buyerID, err := primitive.ObjectIDFromHex(req.BuyerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid buyer ID"})
			return
		}
		conn, err = h.connectionService.SellerRequestConnection(ctx, listingID, callerID, buyerID, req.InitialMessage)
		if err != nil {
			h.respondConnectionError(c, err)
			return
		}
	} else {
		conn, err = h.connectionService.RequestConnection(ctx, listingID, callerID, req.InitialMessage)
		if err != nil {
			h.respondConnectionError(c, err)
			return
		}
	}

	h.notifyNewConnection(c, conn)
	c.JSON(http.StatusCreated, conn)
}

// ListConnections handles GET /v1/connections. An optional status query
// narrows the result; pending_decision=true returns only the
// connections waiting on the caller.
func (h *RestConnectionHandler) ListConnections(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	if c.Query("pending_decision") == "true" {
		conns, err := h.connectionService.PendingDecisionsFor(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list connections"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connections": conns})
		return
	}

	status := models.ConnectionStatus(c.Query("status"))
	conns, err := h.connectionService.ListForUser(ctx, userID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list connections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// GetConnection handles GET /v1/connections/:id.
func (h *RestConnectionHandler) GetConnection(c *gin.Context) {
	connID, ok := h.connectionID(c)
	if !ok {
		return
	}
	conn, err := h.connectionService.FindForUser(c.Request.Context(), connID, middleware.UserID(c))
	if err != nil {
		h.respondConnectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

type respondConnectionRequest struct {
	Approve         *bool  `json:"approve" binding:"required"`
	ResponseMessage string `json:"response_message"`
}

// RespondToConnection handles PUT /v1/connections/:id/status.
func (h *RestConnectionHandler) RespondToConnection(c *gin.Context) {
	connID, ok := h.connectionID(c)
	if !ok {
		return
	}
	var req respondConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid decision data: " + err.Error()})
		return
	}

	conn, err := h.connectionService.RespondToConnection(c.Request.Context(), connID, middleware.UserID(c), *req.Approve, req.ResponseMessage)
	if err != nil {
		h.respondConnectionError(c, err)
		return
	}

	h.notifyConnectionDecided(c, conn)
	c.JSON(http.StatusOK, conn)
}

// UnreadCount handles GET /v1/connections/unread: the badge counter the
// SPA polls on the configured interval.
func (h *RestConnectionHandler) UnreadCount(c *gin.Context) {
	total, err := h.connectionService.TotalUnreadFor(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count unread messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": total})
}

func (h *RestConnectionHandler) connectionID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func (h *RestConnectionHandler) respondConnectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
	case errors.Is(err, services.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a party to this connection"})
	case errors.Is(err, services.ErrNotDecider):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the receiving party may decide"})
	case errors.Is(err, services.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "Connection already resolved"})
	case errors.Is(err, services.ErrConnectionExists):
		c.JSON(http.StatusConflict, gin.H{"error": "A connection for this listing already exists"})
	case errors.Is(err, services.ErrSelfConnection):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot open a connection with yourself"})
	default:
		log.Printf("Connection handler error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func (h *RestConnectionHandler) notifyNewConnection(c *gin.Context, conn *models.Connection) {
	if h.taskClient == nil {
		return
	}
	err := h.taskClient.EnqueueConnectionNotification(c.Request.Context(), tasks.ConnectionNotificationPayload{
		ConnectionID: conn.GetID(),
		RecipientID:  conn.DeciderID(),
		TemplateID:   "new_connection",
	})
	if err != nil {
		log.Printf("Failed to enqueue new-connection notification for %s: %v", conn.GetID().Hex(), err)
	}
}

func (h *RestConnectionHandler) notifyConnectionDecided(c *gin.Context, conn *models.Connection) {
	if h.taskClient == nil {
		return
	}
	// The initiator hears about the outcome; the decider already knows.
	recipient := conn.OtherParty(conn.DeciderID())
	err := h.taskClient.EnqueueConnectionNotification(c.Request.Context(), tasks.ConnectionNotificationPayload{
		ConnectionID: conn.GetID(),
		RecipientID:  recipient,
		TemplateID:   "connection_decided",
	})
	if err != nil {
		log.Printf("Failed to enqueue decision notification for %s: %v", conn.GetID().Hex(), err)
	}
}
