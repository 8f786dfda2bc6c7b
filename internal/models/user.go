package models

import (
	"time"
)

// Role is the closed set of account types. Branching on roles goes
// through exhaustive switches so an unhandled role is caught in review
// rather than silently falling through a string comparison.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// VerificationStatus is the review state of a seller's business documents.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// VerificationDocument is a business document uploaded for KYC review.
type VerificationDocument struct {
	S3Key      string    `bson:"s3_key" json:"s3_key"`
	Filename   string    `bson:"filename" json:"filename"`
	UploadedAt time.Time `bson:"uploaded_at" json:"uploaded_at"`
}

// SellerProfile holds the business identity a seller must establish
// before listing a practice. A nil SellerProfile means the seller has
// not started KYC yet.
type SellerProfile struct {
	PracticeName       string                 `bson:"practice_name" json:"practice_name"`
	RegistrationNumber string                 `bson:"registration_number" json:"registration_number"`
	VerificationStatus VerificationStatus     `bson:"verification_status" json:"verification_status"`
	Documents          []VerificationDocument `bson:"documents,omitempty" json:"documents,omitempty"`
	SubmittedAt        time.Time              `bson:"submitted_at" json:"submitted_at"`
	ReviewedAt         *time.Time             `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	ReviewComments     string                 `bson:"review_comments,omitempty" json:"review_comments,omitempty"`
}

// NotificationPreferences allows users to control email notifications.
type NotificationPreferences struct {
	NewConnection    bool `bson:"new_connection" json:"new_connection"`
	NewMessage       bool `bson:"new_message" json:"new_message"`
	SubscriptionEnds bool `bson:"subscription_ends" json:"subscription_ends"`
	ListingModerated bool `bson:"listing_moderated" json:"listing_moderated"`
}

// User represents an account in the system.
type User struct {
	Base                    `bson:",inline"`
	Name                    string                   `bson:"name" json:"name"`
	Email                   string                   `bson:"email" json:"email"`
	PasswordHash            string                   `bson:"password" json:"-"` // Store hash, not plaintext
	Role                    Role                     `bson:"role" json:"role"`
	EmailVerified           bool                     `bson:"email_verified" json:"email_verified"`
	Suspended               bool                     `bson:"suspended" json:"suspended"`
	Subscription            *Subscription            `bson:"subscription,omitempty" json:"subscription,omitempty"`
	SellerProfile           *SellerProfile           `bson:"seller_profile,omitempty" json:"seller_profile,omitempty"`
	NotificationPreferences *NotificationPreferences `bson:"notification_preferences,omitempty" json:"notification_preferences,omitempty"`
	CreatedAt               time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time                `bson:"updated_at" json:"updated_at"`
	Deleted                 bool                     `bson:"deleted" json:"-"` // Soft delete flag
}

// IsAdmin is a convenience accessor used by middleware.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
