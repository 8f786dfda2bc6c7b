package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"eaglehurst/platform/internal/config"
)

// RedisSender stores outgoing email in Redis instead of sending it.
// Integration tests read the stored message back to follow links such
// as verification and password reset actions.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{client: client, cfg: cfg}
}

// categorize keys the stored email by what kind of message it is, so a
// test can fetch "the verification email for x@y" without scanning.
func categorize(subject string) string {
	switch {
	case strings.Contains(subject, "Verify"):
		return "verify_email"
	case strings.Contains(subject, "password"):
		return "password_reset"
	case strings.Contains(subject, "connection"):
		return "connection"
	case strings.Contains(subject, "unread"):
		return "unread_digest"
	case strings.Contains(subject, "subscription"):
		return "subscription"
	case strings.Contains(subject, "verification"):
		return "verification"
	default:
		return "other"
	}
}

// Send stores a JSON representation of the email under a key derived
// from the primary recipient and the message category.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}
	category := categorize(subject)

	emailData := map[string]interface{}{
		"to":       strings.Join(to, ", "),
		"from":     s.cfg.SmtpFromAddress,
		"subject":  subject,
		"body":     string(rawMessage),
		"sent_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"category": category,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, category)
	ttl := 5 * time.Minute

	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (To: %s, Subject: %s)", key, strings.Join(to, ", "), subject)
	return nil
}
