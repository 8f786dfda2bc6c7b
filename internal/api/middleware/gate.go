package middleware

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/gate"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
)

// ContextKeyUser holds the loaded *models.User once the gate has run.
const ContextKeyUser = "user"

// AccessGate enforces the ordered access checks for an API route. Each
// protected route group names the client-side destination it backs
// (gatePath); the decision engine then applies the same rules the SPA
// router does: email verification, subscription, seller verification.
// A denial carries the redirect target so the client can route there.
// An empty gatePath stands for the caller's own dashboard, which varies
// by role.
//
// Assumes AuthMiddleware runs first; the authentication check proper is
// its job.
func AccessGate(users services.IUserService, gatePath string, allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)

		user, err := users.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Account not found"})
				return
			}
			log.Printf("AccessGate: failed to load user %s: %v", userID.Hex(), err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		if user.Suspended {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account suspended"})
			return
		}

		sess := gate.Session{
			Authenticated: true,
			Role:          user.Role,
			EmailVerified: user.EmailVerified,
			ProfileLoaded: true,
			Profile:       user,
		}
		path := gatePath
		if path == "" {
			path = gate.DashboardFor(user.Role)
		}
		decision := gate.Evaluate(gate.Request{Path: path, AllowedRoles: allowedRoles}, sess, time.Now())
		if !decision.Allow {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "Access denied",
				"redirect": decision.RedirectTo,
			})
			return
		}

		c.Set(ContextKeyUser, user)
		c.Next()
	}
}

// GateUser returns the user loaded by AccessGate, if present.
func GateUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil, false
	}
	return v.(*models.User), true
}
