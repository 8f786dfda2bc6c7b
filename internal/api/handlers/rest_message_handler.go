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
)

// RestMessageHandler handles REST requests for messages within a
// connection.
type RestMessageHandler struct {
	messageService services.IMessageService
	storage        PresignedUploader
}

// PresignedUploader is the slice of the storage layer handlers need:
// minting presigned PUT URLs for client-side uploads.
type PresignedUploader interface {
	PresignUpload(key string, contentType string) (string, error)
}

// NewRestMessageHandler creates a new RestMessageHandler.
func NewRestMessageHandler(messageService services.IMessageService, storage PresignedUploader) *RestMessageHandler {
	return &RestMessageHandler{messageService: messageService, storage: storage}
}

type sendMessageRequest struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"message_type"`
	FileKey string             `json:"file_key"`
}

// SendMessage handles POST /v1/connections/:id/messages.
func (h *RestMessageHandler) SendMessage(c *gin.Context) {
	connID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message data: " + err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = models.MessageTypeText
	}

	msg, err := h.messageService.SendMessage(c.Request.Context(), connID, middleware.UserID(c), req.Content, req.Type, req.FileKey)
	if err != nil {
		h.respondMessageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages handles GET /v1/connections/:id/messages. The poller
// passes after=<last message id> to fetch only the delta.
func (h *RestMessageHandler) ListMessages(c *gin.Context) {
	connID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return
	}

	after := primitive.NilObjectID
	if afterStr := c.Query("after"); afterStr != "" {
		after, err = primitive.ObjectIDFromHex(afterStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid after cursor"})
			return
		}
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil || limit <= 0 || limit > 500 {
		limit = 100
	}

	msgs, err := h.messageService.ListMessages(c.Request.Context(), connID, middleware.UserID(c), after, limit)
	if err != nil {
		h.respondMessageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead handles POST /v1/connections/:id/messages/read.
func (h *RestMessageHandler) MarkRead(c *gin.Context) {
	connID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return
	}

	n, err := h.messageService.MarkRead(c.Request.Context(), connID, middleware.UserID(c))
	if err != nil {
		h.respondMessageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_read": n})
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage handles PUT /v1/messages/:message_id.
func (h *RestMessageHandler) EditMessage(c *gin.Context) {
	msgID, err := primitive.ObjectIDFromHex(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message data"})
		return
	}

	msg, err := h.messageService.EditMessage(c.Request.Context(), msgID, middleware.UserID(c), req.Content)
	if err != nil {
		h.respondMessageError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /v1/messages/:message_id.
func (h *RestMessageHandler) DeleteMessage(c *gin.Context) {
	msgID, err := primitive.ObjectIDFromHex(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	if err := h.messageService.DeleteMessage(c.Request.Context(), msgID, middleware.UserID(c)); err != nil {
		h.respondMessageError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PresignAttachment handles POST /v1/connections/:id/attachments:
// it returns a presigned S3 PUT URL plus the file key to send with the
// follow-up file message.
func (h *RestMessageHandler) PresignAttachment(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "File uploads not configured"})
		return
	}
	contentType := c.DefaultQuery("content_type", "application/octet-stream")
	key := "attachments/" + c.Param("id") + "/" + newObjectKey()
	url, err := h.storage.PresignUpload(key, contentType)
	if err != nil {
		log.Printf("Failed to presign attachment upload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "file_key": key})
}

func (h *RestMessageHandler) respondMessageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, services.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a party to this connection"})
	case errors.Is(err, services.ErrNotApproved):
		c.JSON(http.StatusForbidden, gin.H{"error": "Connection is not approved for messaging"})
	case errors.Is(err, services.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the sender may modify a message"})
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("Message handler error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
