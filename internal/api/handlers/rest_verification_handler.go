package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/api/middleware"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
)

// RestVerificationHandler handles the seller KYC flow: document upload
// and profile submission. Admin review lives in the admin handler.
type RestVerificationHandler struct {
	userService services.IUserService
	storage     PresignedUploader
}

// NewRestVerificationHandler creates a new RestVerificationHandler.
func NewRestVerificationHandler(userService services.IUserService, storage PresignedUploader) *RestVerificationHandler {
	return &RestVerificationHandler{userService: userService, storage: storage}
}

// PresignDocument handles POST /v1/verification/documents: a presigned
// S3 PUT URL for one business document.
func (h *RestVerificationHandler) PresignDocument(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Document uploads not configured"})
		return
	}
	contentType := c.DefaultQuery("content_type", "application/pdf")
	key := "kyc/" + middleware.UserID(c).Hex() + "/" + newObjectKey()
	url, err := h.storage.PresignUpload(key, contentType)
	if err != nil {
		log.Printf("Failed to presign KYC document upload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "file_key": key})
}

type submitVerificationRequest struct {
	PracticeName       string `json:"practice_name" binding:"required"`
	RegistrationNumber string `json:"registration_number" binding:"required"`
	Documents          []struct {
		FileKey  string `json:"file_key" binding:"required"`
		Filename string `json:"filename" binding:"required"`
	} `json:"documents" binding:"required,min=1"`
}

// SubmitVerification handles POST /v1/verification: the seller submits
// their business identity for admin review.
func (h *RestVerificationHandler) SubmitVerification(c *gin.Context) {
	var req submitVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification data: " + err.Error()})
		return
	}

	docs := make([]models.VerificationDocument, len(req.Documents))
	now := time.Now().UTC()
	for i, d := range req.Documents {
		docs[i] = models.VerificationDocument{S3Key: d.FileKey, Filename: d.Filename, UploadedAt: now}
	}

	err := h.userService.SubmitSellerProfile(c.Request.Context(), middleware.UserID(c), req.PracticeName, req.RegistrationNumber, docs)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// GetVerification handles GET /v1/verification: the seller's own
// review status, shown as the dashboard banner.
func (h *RestVerificationHandler) GetVerification(c *gin.Context) {
	user, err := h.userService.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	if user.SellerProfile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No verification submitted"})
		return
	}
	c.JSON(http.StatusOK, user.SellerProfile)
}
