package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ActionType defines the single-use actions confirmed via emailed links.
type ActionType string

const (
	ActionVerifyEmail   ActionType = "verify_email"
	ActionPasswordReset ActionType = "password_reset"
)

// Action is a single-use token, usually delivered by email. The
// document _id doubles as the secret in the link.
type Action struct {
	Base      `bson:",inline"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Type      ActionType         `bson:"type" json:"type"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time          `bson:"expires_at" json:"expires_at"`
	Executed  *time.Time         `bson:"executed,omitempty" json:"executed,omitempty"`
	Deleted   bool               `bson:"deleted" json:"-"`
}
