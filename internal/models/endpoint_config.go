package models

// RateLimitConfig holds token bucket parameters.
type RateLimitConfig struct {
	BucketSize      int `bson:"bucket_size" json:"bucket_size"`
	TokenRefillRate int `bson:"token_refill_rate" json:"token_refill_rate"` // Tokens per second
}

// EndpointConfig overrides rate limiting for one route pattern.
// Stored in the `endpoint_config` collection; absent entries fall back
// to the global defaults from env config.
type EndpointConfig struct {
	Base      `bson:",inline"`
	Endpoint  string           `bson:"endpoint" json:"endpoint"` // Gin route pattern, e.g. "/v1/connections/:id/messages"
	RateLimit *RateLimitConfig `bson:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}
