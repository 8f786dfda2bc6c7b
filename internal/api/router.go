package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/api/handlers"
	"eaglehurst/platform/internal/api/middleware"
	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/gate"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
	"eaglehurst/platform/internal/storage"
	"eaglehurst/platform/internal/tasks"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(
	cfg *config.Config,
	db *mongo.Database,
	rdb *redis.Client,
	taskClient tasks.IClient,
	paypalGateway services.PaypalGateway,
	configSvc services.IConfigService,
) *gin.Engine {
	userService := services.NewUserService(db)
	actionService := services.NewActionService(db, cfg)
	listingService := services.NewListingService(db)
	connectionService := services.NewConnectionService(db, listingService, userService)
	messageService := services.NewMessageService(db, connectionService, cfg)
	subscriptionService := services.NewSubscriptionService(db, cfg, paypalGateway)

	// Presigned uploads need a bucket; without one the upload endpoints
	// answer 501 and the rest of the API still works.
	var store storage.IS3Storage
	if cfg.AwsS3Bucket != "" {
		var err error
		store, err = storage.NewS3Storage(cfg)
		if err != nil {
			log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
		}
	}
	var uploader handlers.PresignedUploader
	if store != nil {
		uploader = store
	}

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, configSvc)
	r.Use(middleware.CORSMiddleware(cfg.FrontendURL))
	r.Use(rateLimiter.Limit())

	authHandler := handlers.NewRestAuthHandler(userService, actionService, taskClient, cfg)
	listingHandler := handlers.NewRestListingHandler(listingService, uploader, taskClient)
	connectionHandler := handlers.NewRestConnectionHandler(connectionService, taskClient)
	messageHandler := handlers.NewRestMessageHandler(messageService, uploader)
	subscriptionHandler := handlers.NewRestSubscriptionHandler(subscriptionService, cfg)
	verificationHandler := handlers.NewRestVerificationHandler(userService, uploader)
	adminHandler := handlers.NewRestAdminHandler(userService, listingService, connectionService, configSvc, taskClient)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Public client configuration: how often to poll for messages,
		// and the message length cap enforced server-side.
		v1.GET("/config", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message_poll_interval_seconds": int(cfg.MessagePollInterval.Seconds()),
				"max_message_length":            cfg.MaxMessageLength,
			})
		})

		// Public routes.
		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)
		v1.POST("/auth/verify-email/:action_id", authHandler.VerifyEmail)
		v1.POST("/auth/password-reset", authHandler.RequestPasswordReset)
		v1.POST("/auth/password-reset/:action_id", authHandler.ResetPassword)
		v1.GET("/listings", listingHandler.SearchListings)
		v1.GET("/listings/:id", listingHandler.GetListing)
		v1.GET("/subscriptions/plan", subscriptionHandler.GetPlan)

		// Authenticated routes. These stay outside the access gate: the
		// profile, email verification and subscription endpoints are
		// exactly what a user blocked by the gate needs to get unblocked.
		authed := v1.Group("/")
		authed.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authed.GET("/auth/me", authHandler.Me)
			authed.PUT("/auth/me", authHandler.UpdateProfile)
			authed.POST("/auth/verify-email", authHandler.ResendVerification)
			authed.GET("/auth/gate", authHandler.EvaluateGate)

			authed.GET("/subscriptions/me", subscriptionHandler.GetSubscription)
			authed.POST("/subscriptions/confirm", subscriptionHandler.ConfirmPayment)
			authed.POST("/subscriptions/cancel", subscriptionHandler.CancelSubscription)
			authed.GET("/subscriptions/payments", subscriptionHandler.ListPayments)
		}

		// Seller KYC. Subscription is checked before verification here,
		// so document upload opens up only to subscribed sellers.
		kyc := v1.Group("/verification")
		kyc.Use(
			middleware.AuthMiddleware(cfg.JwtSecret),
			middleware.AccessGate(userService, gate.PathKycUpload, models.RoleSeller),
		)
		{
			kyc.POST("/documents", verificationHandler.PresignDocument)
			kyc.POST("", verificationHandler.SubmitVerification)
			kyc.GET("", verificationHandler.GetVerification)
		}

		// Connections and messaging, for buyers and sellers. The gate
		// path is the caller's dashboard, so all five checks apply.
		dashboard := v1.Group("/")
		dashboard.Use(
			middleware.AuthMiddleware(cfg.JwtSecret),
			middleware.AccessGate(userService, "", models.RoleBuyer, models.RoleSeller),
		)
		{
			dashboard.POST("/connections", connectionHandler.CreateConnection)
			dashboard.GET("/connections", connectionHandler.ListConnections)
			dashboard.GET("/connections/unread", connectionHandler.UnreadCount)
			dashboard.GET("/connections/:id", connectionHandler.GetConnection)
			dashboard.PUT("/connections/:id/status", connectionHandler.RespondToConnection)

			dashboard.POST("/connections/:id/messages", messageHandler.SendMessage)
			dashboard.GET("/connections/:id/messages", messageHandler.ListMessages)
			dashboard.POST("/connections/:id/messages/read", messageHandler.MarkRead)
			dashboard.POST("/connections/:id/attachments", messageHandler.PresignAttachment)
			dashboard.PUT("/messages/:message_id", messageHandler.EditMessage)
			dashboard.DELETE("/messages/:message_id", messageHandler.DeleteMessage)
		}

		// Listing authoring, for verified sellers only.
		authoring := v1.Group("/listings")
		authoring.Use(
			middleware.AuthMiddleware(cfg.JwtSecret),
			middleware.AccessGate(userService, gate.PathListingNew, models.RoleSeller),
		)
		{
			authoring.POST("", listingHandler.CreateListing)
			authoring.GET("/mine", listingHandler.MyListings)
			authoring.PUT("/:id", listingHandler.UpdateListing)
			authoring.DELETE("/:id", listingHandler.DeleteListing)
			authoring.POST("/:id/publish", listingHandler.PublishListing)
			authoring.PUT("/:id/hidden", listingHandler.SetListingHidden)
			authoring.POST("/:id/photos", listingHandler.PresignPhoto)
		}

		// Admin back-office.
		admin := v1.Group("/admin")
		admin.Use(
			middleware.AuthMiddleware(cfg.JwtSecret),
			middleware.RequireRoles(models.RoleAdmin),
		)
		{
			admin.GET("/users", adminHandler.ListUsers)
			admin.PUT("/users/:id/suspension", adminHandler.SuspendUser)
			admin.GET("/connections", adminHandler.ListConnections)
			admin.GET("/verifications", adminHandler.ListPendingVerifications)
			admin.PUT("/verifications/:id", adminHandler.ReviewVerification)
			admin.POST("/listings/:id/suspension", adminHandler.SuspendListing)
			admin.DELETE("/listings/:id/suspension", adminHandler.UnsuspendListing)
			admin.GET("/analytics", adminHandler.Analytics)
			admin.PUT("/config/rate-limits", adminHandler.SetEndpointRateLimit)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service engine: health,
// graceful shutdown, and mock email retrieval for integration tests.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // ["category", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [category, email]"})
				return
			}
			redisKey := fmt.Sprintf("mockemail:%s:%s", args[1], args[0])

			var emailJSON string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				emailJSON, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJSON), &emailData); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
