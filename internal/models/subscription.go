package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SubscriptionStatus is the provider-reported state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// Subscription is the access-granting record embedded in the user
// document. A cancelled subscription keeps granting access until
// ExpiresAt (grace period); expiry is enforced strictly, so a
// subscription whose ExpiresAt equals "now" is already inactive.
type Subscription struct {
	Status        SubscriptionStatus `bson:"status" json:"status"`
	StartedAt     time.Time          `bson:"started_at" json:"started_at"`
	ExpiresAt     *time.Time         `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	IsCancelled   bool               `bson:"is_cancelled" json:"is_cancelled"`
	PaypalOrderID string             `bson:"paypal_order_id,omitempty" json:"-"`
}

// IsActiveAt reports whether the subscription grants access at the
// given instant: status must be "active" and any expiry must be
// strictly in the future.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != SubscriptionActive {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	return true
}

// PaymentRecord is an audit entry for a verified PayPal capture.
// Stored in the `payments` collection.
type PaymentRecord struct {
	Base          `bson:",inline"`
	UserID        primitive.ObjectID `bson:"user_id" json:"user_id"`
	PaypalOrderID string             `bson:"paypal_order_id" json:"paypal_order_id"`
	Amount        float64            `bson:"amount" json:"amount"`
	CurrencyCode  string             `bson:"currency_code" json:"currency_code"`
	CapturedAt    time.Time          `bson:"captured_at" json:"captured_at"`
}
