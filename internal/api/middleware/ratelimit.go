package middleware

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/services"
)

// clientLimiter stores the rate limiter for a specific client.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterMiddleware applies per-client token buckets, with
// per-endpoint overrides from the config service.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config
	configService services.IConfigService
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware.
func NewRateLimiterMiddleware(cfg *config.Config, configService services.IConfigService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
	}
	go rm.cleanupClients()
	return rm
}

// getClientLimiter retrieves or creates the rate limiter for a client
// key. The key includes the endpoint so per-endpoint overrides get
// their own bucket.
func (rm *RateLimiterMiddleware) getClientLimiter(key string, refillRate, burst int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[key]
	if !exists {
		limiter = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(refillRate), burst),
		}
		rm.clients[key] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter
}

// cleanupClients periodically removes idle client entries from the map.
func (rm *RateLimiterMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		rm.mu.Lock()
		count := 0
		for id, client := range rm.clients {
			if time.Since(client.lastSeen) > 30*time.Minute {
				delete(rm.clients, id)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d idle client entries.", count)
		}
	}
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()

		refillRate := rm.cfg.RateLimitRefillRate
		burst := rm.cfg.RateLimitBucketSize

		if rm.configService != nil {
			ec, err := rm.configService.GetEndpointConfig(c.Request.Context(), endpoint)
			if err != nil {
				log.Printf("Error fetching endpoint config for %s: %v. Using defaults.", endpoint, err)
			} else if ec != nil && ec.RateLimit != nil {
				refillRate = ec.RateLimit.TokenRefillRate
				burst = ec.RateLimit.BucketSize
			}
		}

		key := c.ClientIP() + "|" + endpoint
		limiter := rm.getClientLimiter(key, refillRate, burst)

		if !limiter.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}
