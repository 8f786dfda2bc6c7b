package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AskingPrice defines the structure for monetary values.
type AskingPrice struct {
	Value        float64 `bson:"value" json:"value"`
	CurrencyCode string  `bson:"currency_code" json:"currency_code"`
}

// Listing represents a medical practice offered for sale.
type Listing struct {
	Base          `bson:",inline"`
	UserID        primitive.ObjectID  `bson:"user_id" json:"user_id"` // Selling user
	Title         string              `bson:"title" json:"title"`
	Body          string              `bson:"body" json:"body"`
	Specialty     string              `bson:"specialty" json:"specialty"` // e.g., "general_practice", "dental", "optometry"
	City          string              `bson:"city" json:"city"`
	State         string              `bson:"state" json:"state"`
	AskingPrice   *AskingPrice        `bson:"asking_price,omitempty" json:"asking_price,omitempty"`
	AnnualRevenue *AskingPrice        `bson:"annual_revenue,omitempty" json:"annual_revenue,omitempty"`
	Images        []string            `bson:"images" json:"images"` // S3 keys
	IsDraft       bool                `bson:"is_draft" json:"is_draft"`
	Hidden        bool                `bson:"hidden" json:"hidden"`
	SuspensionID  *primitive.ObjectID `bson:"suspension,omitempty" json:"suspension,omitempty"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at" json:"updated_at"`
	PublishedAt   *time.Time          `bson:"published_at,omitempty" json:"published_at,omitempty"`
	Deleted       bool                `bson:"deleted" json:"-"`
}

// ListingSuspension records a moderation action against a listing.
type ListingSuspension struct {
	Base       `bson:",inline"`
	ListingID  primitive.ObjectID `bson:"listing_id" json:"listing_id"`
	AdminID    primitive.ObjectID `bson:"admin_id" json:"admin_id"`
	Reason     string             `bson:"reason" json:"reason"`
	ExecutedAt *time.Time         `bson:"executed,omitempty" json:"executed,omitempty"`
	Suspended  bool               `bson:"suspended" json:"suspended"`
	Deleted    bool               `bson:"deleted" json:"-"`
}
