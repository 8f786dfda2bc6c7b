package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/api/middleware"
	"eaglehurst/platform/internal/auth"
	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/gate"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
	"eaglehurst/platform/internal/tasks"
)

// RestAuthHandler handles registration, login and account flows.
type RestAuthHandler struct {
	userService   services.IUserService
	actionService services.IActionService
	taskClient    tasks.IClient
	cfg           *config.Config
}

// NewRestAuthHandler creates a new RestAuthHandler.
func NewRestAuthHandler(userService services.IUserService, actionService services.IActionService, taskClient tasks.IClient, cfg *config.Config) *RestAuthHandler {
	return &RestAuthHandler{
		userService:   userService,
		actionService: actionService,
		taskClient:    taskClient,
		cfg:           cfg,
	}
}

type registerRequest struct {
	Name     string      `json:"name" binding:"required"`
	Email    string      `json:"email" binding:"required,email"`
	Password string      `json:"password" binding:"required,min=8"`
	Role     models.Role `json:"role" binding:"required"`
}

// Register handles POST /v1/auth/register.
func (h *RestAuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid registration data: " + err.Error()})
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, services.ErrEmailExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already in use"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.sendVerificationEmail(c, user)

	token, err := auth.GenerateJWT(user.GetID(), user.Role, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to issue JWT for new user %s: %v", user.GetID().Hex(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration succeeded but login failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/auth/login.
func (h *RestAuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid login data"})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrUserSuspended) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Account suspended"})
			return
		}
		// Wrong email and wrong password are indistinguishable on purpose.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := auth.GenerateJWT(user.GetID(), user.Role, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to issue JWT for user %s: %v", user.GetID().Hex(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Me handles GET /v1/auth/me: the profile the SPA gate waits on,
// including subscription and seller profile.
func (h *RestAuthHandler) Me(c *gin.Context) {
	user, err := h.userService.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateProfileRequest struct {
	Name                    string                          `json:"name"`
	NotificationPreferences *models.NotificationPreferences `json:"notification_preferences"`
}

// UpdateProfile handles PUT /v1/auth/me.
func (h *RestAuthHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile data"})
		return
	}
	if err := h.userService.UpdateProfile(c.Request.Context(), middleware.UserID(c), req.Name, req.NotificationPreferences); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}
	c.Status(http.StatusNoContent)
}

// VerifyEmail handles POST /v1/auth/verify-email/:action_id.
func (h *RestAuthHandler) VerifyEmail(c *gin.Context) {
	actionID, err := primitive.ObjectIDFromHex(c.Param("action_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification link"})
		return
	}

	ctx := c.Request.Context()
	action, err := h.actionService.FindAndValidateAction(ctx, actionID, models.ActionVerifyEmail)
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "Verification link is invalid or has expired"})
		return
	}
	if err := h.userService.MarkEmailVerified(ctx, action.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify email"})
		return
	}
	if err := h.actionService.MarkActionExecuted(ctx, actionID); err != nil {
		log.Printf("Email verified but failed to consume action %s: %v", actionID.Hex(), err)
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// ResendVerification handles POST /v1/auth/verify-email.
func (h *RestAuthHandler) ResendVerification(c *gin.Context) {
	user, err := h.userService.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	if user.EmailVerified {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already verified"})
		return
	}
	h.sendVerificationEmail(c, user)
	c.Status(http.StatusAccepted)
}

type passwordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestPasswordReset handles POST /v1/auth/password-reset. Always
// answers 202 so the endpoint cannot be used to probe for accounts.
func (h *RestAuthHandler) RequestPasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.userService.FindByEmail(ctx, req.Email)
	if err == nil {
		action, err := h.actionService.CreatePasswordResetAction(ctx, user.GetID())
		if err != nil {
			log.Printf("Failed to create password reset action for %s: %v", user.GetID().Hex(), err)
		} else {
			h.enqueueActionEmail(c, user, "password_reset", action.GetID())
		}
	}

	c.Status(http.StatusAccepted)
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=8"`
}

// ResetPassword handles POST /v1/auth/password-reset/:action_id.
func (h *RestAuthHandler) ResetPassword(c *gin.Context) {
	actionID, err := primitive.ObjectIDFromHex(c.Param("action_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reset link"})
		return
	}
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid password"})
		return
	}

	ctx := c.Request.Context()
	action, err := h.actionService.FindAndValidateAction(ctx, actionID, models.ActionPasswordReset)
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "Reset link is invalid or has expired"})
		return
	}
	if err := h.userService.SetPassword(ctx, action.UserID, req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset password"})
		return
	}
	if err := h.actionService.MarkActionExecuted(ctx, actionID); err != nil {
		log.Printf("Password reset but failed to consume action %s: %v", actionID.Hex(), err)
	}

	c.Status(http.StatusNoContent)
}

// EvaluateGate handles GET /v1/auth/gate?path=... so the SPA router can
// ask where an arbitrary navigation should land before rendering.
func (h *RestAuthHandler) EvaluateGate(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not found"})
		return
	}

	sess := gate.Session{
		Authenticated: true,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		ProfileLoaded: true,
		Profile:       user,
	}
	decision := gate.Evaluate(gate.Request{Path: path}, sess, time.Now())
	c.JSON(http.StatusOK, decision)
}

func (h *RestAuthHandler) sendVerificationEmail(c *gin.Context, user *models.User) {
	action, err := h.actionService.CreateVerifyEmailAction(c.Request.Context(), user.GetID())
	if err != nil {
		log.Printf("Failed to create verification action for %s: %v", user.GetID().Hex(), err)
		return
	}
	h.enqueueActionEmail(c, user, "verify_email", action.GetID())
}

func (h *RestAuthHandler) enqueueActionEmail(c *gin.Context, user *models.User, templateID string, actionID primitive.ObjectID) {
	if h.taskClient == nil {
		return
	}
	err := h.taskClient.EnqueueEmailDelivery(c.Request.Context(), tasks.EmailDeliveryPayload{
		UserID:     user.GetID(),
		Email:      user.Email,
		TemplateID: templateID,
		Data:       map[string]string{"action_id": actionID.Hex()},
	})
	if err != nil {
		log.Printf("Failed to enqueue %s email for %s: %v", templateID, user.Email, err)
	}
}
