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

// RestListingHandler handles REST requests for practice listings.
type RestListingHandler struct {
	listingService services.IListingService
	storage        PresignedUploader
	taskClient     tasks.IClient
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(listingService services.IListingService, storage PresignedUploader, taskClient tasks.IClient) *RestListingHandler {
	return &RestListingHandler{listingService: listingService, storage: storage, taskClient: taskClient}
}

type listingRequest struct {
	Title         string              `json:"title" binding:"required"`
	Body          string              `json:"body"`
	Specialty     string              `json:"specialty" binding:"required"`
	City          string              `json:"city"`
	State         string              `json:"state" binding:"required"`
	AskingPrice   *models.AskingPrice `json:"asking_price"`
	AnnualRevenue *models.AskingPrice `json:"annual_revenue"`
}

func (r *listingRequest) toModel() *models.Listing {
	return &models.Listing{
		Title:         r.Title,
		Body:          r.Body,
		Specialty:     r.Specialty,
		City:          r.City,
		State:         r.State,
		AskingPrice:   r.AskingPrice,
		AnnualRevenue: r.AnnualRevenue,
	}
}

// CreateListing handles POST /v1/listings.
func (h *RestListingHandler) CreateListing(c *gin.Context) {
	var req listingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing data: " + err.Error()})
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), middleware.UserID(c), req.toModel())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create listing"})
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PUT /v1/listings/:id.
func (h *RestListingHandler) UpdateListing(c *gin.Context) {
	listingID, ok := h.listingID(c)
	if !ok {
		return
	}
	var req listingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing data: " + err.Error()})
		return
	}

	if err := h.listingService.UpdateListing(c.Request.Context(), listingID, middleware.UserID(c), req.toModel()); err != nil {
		h.respondListingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetListing handles GET /v1/listings/:id.
func (h *RestListingHandler) GetListing(c *gin.Context) {
	listingID, ok := h.listingID(c)
	if !ok {
		return
	}
	listing, err := h.listingService.FindByID(c.Request.Context(), listingID)
	if err != nil {
		h.respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// SearchListings handles GET /v1/listings.
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	q := services.ListingSearch{
		Specialty: c.Query("specialty"),
		State:     c.Query("state"),
	}
	if v := c.Query("price_min"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.PriceMin = f
		}
	}
	if v := c.Query("price_max"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.PriceMax = f
		}
	}
	if v := c.Query("cursor"); v != "" {
		cursor, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
			return
		}
		q.Cursor = cursor
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.Limit = n
		}
	}

	listings, err := h.listingService.Search(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	var nextCursor string
	if n := len(listings); n > 0 && int64(n) == q.Limit {
		nextCursor = listings[n-1].GetID().Hex()
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "next_cursor": nextCursor})
}

// MyListings handles GET /v1/listings/mine.
func (h *RestListingHandler) MyListings(c *gin.Context) {
	listings, err := h.listingService.ListBySeller(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list listings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// PublishListing handles POST /v1/listings/:id/publish.
func (h *RestListingHandler) PublishListing(c *gin.Context) {
	listingID, ok := h.listingID(c)
	if !ok {
		return
	}
	if err := h.listingService.Publish(c.Request.Context(), listingID, middleware.UserID(c)); err != nil {
		h.respondListingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setHiddenRequest struct {
	Hidden *bool `json:"hidden" binding:"required"`
}

// SetListingHidden handles PUT /v1/listings/:id/hidden.
func (h *RestListingHandler) SetListingHidden(c *gin.Context) {
	listingID, ok := h.listingID(c)
	if !ok {
		return
	}
	var req setHiddenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.listingService.SetHidden(c.Request.Context(), listingID, middleware.UserID(c), *req.Hidden); err != nil {
		h.respondListingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteListing handles DELETE /v1/listings/:id.
func (h *RestListingHandler) DeleteListing(c *gin.Context) {
	listingID, ok := h.listingID(c)
	if !ok {
		return
	}
	if err := h.listingService.DeleteListing(c.Request.Context(), listingID, middleware.UserID(c)); err != nil {
		h.respondListingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PresignPhoto handles POST /v1/listings/:id/photos: it returns a
// presigned S3 PUT URL. Once the client uploads, the background resize
// task normalises the image and attaches it to the listing.
func (h *RestListingHandler) PresignPhoto(c *gin.Context) {
	listingID, ok := h.listingID(c)
	if !ok {
		return
	}
	if h.storage == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Photo uploads not configured"})
		return
	}

	contentType := c.DefaultQuery("content_type", "image/jpeg")
	key := "listings/" + listingID.Hex() + "/raw/" + newObjectKey()
	url, err := h.storage.PresignUpload(key, contentType)
	if err != nil {
		log.Printf("Failed to presign photo upload for listing %s: %v", listingID.Hex(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload"})
		return
	}

	if h.taskClient != nil {
		err = h.taskClient.EnqueueImageProcess(c.Request.Context(), tasks.ImageProcessPayload{
			ListingID: listingID,
			SellerID:  middleware.UserID(c),
			SourceKey: key,
		})
		if err != nil {
			log.Printf("Failed to enqueue image processing for listing %s: %v", listingID.Hex(), err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"upload_url": url, "file_key": key})
}

func (h *RestListingHandler) listingID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func (h *RestListingHandler) respondListingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "Listing does not belong to you"})
	case errors.Is(err, services.ErrListingSuspended):
		c.JSON(http.StatusConflict, gin.H{"error": "Listing is suspended by moderation"})
	default:
		log.Printf("Listing handler error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
