package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/models"
)

// IConfigService provides platform tunables stored in Mongo and cached
// in Redis. Env config is the bootstrap default; the database overrides
// it without a redeploy.
type IConfigService interface {
	Get(ctx context.Context, key string) (string, error)
	GetString(ctx context.Context, key, defaultValue string) string
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	Set(ctx context.Context, key, value string) error
	GetEndpointConfig(ctx context.Context, endpoint string) (*models.EndpointConfig, error)
	SetEndpointRateLimit(ctx context.Context, endpoint string, rl *models.RateLimitConfig) error
}

const (
	configCollection         = "configuration"
	endpointConfigCollection = "endpoint_config"

	configKeyPrefix   = "cfg:"
	endpointKeyPrefix = "cfg:endpoint:"
)

// ErrConfigKeyNotFound is returned when neither Mongo nor the defaults
// know a key.
var ErrConfigKeyNotFound = errors.New("config key not found")

type configService struct {
	db  *mongo.Database
	cfg *config.Config
	rdb *redis.Client
}

// ConfigEntry represents a document in the configuration collection.
type ConfigEntry struct {
	Key   string `bson:"key"`
	Value string `bson:"value"`
}

// NewConfigService creates a new ConfigService.
func NewConfigService(db *mongo.Database, initialCfg *config.Config, rdb *redis.Client) IConfigService {
	return &configService{db: db, cfg: initialCfg, rdb: rdb}
}

// Get retrieves a config value, Redis first, then Mongo. Values land
// in Redis with the configured TTL so a database edit takes effect
// within one cache period.
func (s *configService) Get(ctx context.Context, key string) (string, error) {
	cached, err := s.rdb.Get(ctx, configKeyPrefix+key).Result()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("Warning: Redis config cache read failed for %s: %v", key, err)
	}

	var entry ConfigEntry
	err = s.db.Collection(configCollection).FindOne(ctx, bson.M{"key": key}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrConfigKeyNotFound
		}
		return "", fmt.Errorf("failed to query config key %s: %w", key, err)
	}

	if err := s.rdb.Set(ctx, configKeyPrefix+key, entry.Value, s.cfg.GetCacheTTL).Err(); err != nil {
		log.Printf("Warning: Redis config cache write failed for %s: %v", key, err)
	}
	return entry.Value, nil
}

// GetString returns the value for key or the given default.
func (s *configService) GetString(ctx context.Context, key, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetInt returns the integer value for key or the given default.
func (s *configService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		log.Printf("Warning: config key %s holds non-integer %q", key, val)
		return defaultValue
	}
	return n
}

// GetDuration returns the duration value for key or the given default.
func (s *configService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Warning: config key %s holds non-duration %q", key, val)
		return defaultValue
	}
	return d
}

// Set upserts a config value and drops the cache entry so the next read
// sees the new value immediately.
func (s *configService) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Collection(configCollection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set config key %s: %w", key, err)
	}
	if err := s.rdb.Del(ctx, configKeyPrefix+key).Err(); err != nil {
		log.Printf("Warning: Redis config cache invalidation failed for %s: %v", key, err)
	}
	return nil
}

// GetEndpointConfig returns the per-endpoint overrides used by the rate
// limiter, cached in Redis as JSON. A missing document is a valid
// answer (global defaults apply) and is returned as nil without error.
func (s *configService) GetEndpointConfig(ctx context.Context, endpoint string) (*models.EndpointConfig, error) {
	cached, err := s.rdb.Get(ctx, endpointKeyPrefix+endpoint).Result()
	if err == nil {
		if cached == "" {
			return nil, nil // negative cache
		}
		var ec models.EndpointConfig
		if err := json.Unmarshal([]byte(cached), &ec); err == nil {
			return &ec, nil
		}
		log.Printf("Warning: malformed cached endpoint config for %s", endpoint)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("Warning: Redis endpoint config read failed for %s: %v", endpoint, err)
	}

	var ec models.EndpointConfig
	err = s.db.Collection(endpointConfigCollection).FindOne(ctx, bson.M{"endpoint": endpoint}).Decode(&ec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.cacheEndpoint(ctx, endpoint, "")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query endpoint config for %s: %w", endpoint, err)
	}

	if data, err := json.Marshal(&ec); err == nil {
		s.cacheEndpoint(ctx, endpoint, string(data))
	}
	return &ec, nil
}

// SetEndpointRateLimit upserts an endpoint's rate limit override and
// invalidates its cache entry.
func (s *configService) SetEndpointRateLimit(ctx context.Context, endpoint string, rl *models.RateLimitConfig) error {
	_, err := s.db.Collection(endpointConfigCollection).UpdateOne(ctx,
		bson.M{"endpoint": endpoint},
		bson.M{"$set": bson.M{"endpoint": endpoint, "rate_limit": rl}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set endpoint config for %s: %w", endpoint, err)
	}
	if err := s.rdb.Del(ctx, endpointKeyPrefix+endpoint).Err(); err != nil {
		log.Printf("Warning: Redis endpoint config invalidation failed for %s: %v", endpoint, err)
	}
	return nil
}

func (s *configService) cacheEndpoint(ctx context.Context, endpoint, payload string) {
	if err := s.rdb.Set(ctx, endpointKeyPrefix+endpoint, payload, s.cfg.GetCacheTTL).Err(); err != nil {
		log.Printf("Warning: Redis endpoint config write failed for %s: %v", endpoint, err)
	}
}
