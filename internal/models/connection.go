package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConnectionStatus is the approval state of a buyer-seller introduction.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionApproved ConnectionStatus = "approved"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Terminal reports whether no further status transition is permitted.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionApproved || s == ConnectionRejected
}

// Connection is an introduction request between a buyer and a seller
// about one listing. Status transitions exactly once out of pending;
// approved and rejected are absorbing.
type Connection struct {
	Base            `bson:",inline"`
	ListingID       primitive.ObjectID `bson:"listing_id" json:"listing_id"`
	BuyerID         primitive.ObjectID `bson:"buyer_id" json:"buyer_id"`
	SellerID        primitive.ObjectID `bson:"seller_id" json:"seller_id"`
	Status          ConnectionStatus   `bson:"status" json:"status"`
	SellerInitiated bool               `bson:"seller_initiated" json:"seller_initiated"` // Immutable, set at creation
	InitialMessage  string             `bson:"initial_message" json:"initial_message"`
	ResponseMessage string             `bson:"response_message,omitempty" json:"response_message,omitempty"`
	RequestedAt     time.Time          `bson:"requested_at" json:"requested_at"`
	RespondedAt     *time.Time         `bson:"responded_at,omitempty" json:"responded_at,omitempty"`
	LastActivity    time.Time          `bson:"last_activity" json:"last_activity"`
	UnreadByBuyer   int                `bson:"unread_by_buyer" json:"unread_by_buyer"`
	UnreadBySeller  int                `bson:"unread_by_seller" json:"unread_by_seller"`
	Deleted         bool               `bson:"deleted" json:"-"`
}

// CanMessage reports whether private messaging is permitted: only an
// approved connection may carry messages.
func (c *Connection) CanMessage() bool {
	return c.Status == ConnectionApproved
}

// DeciderID returns the party holding approval authority while the
// connection is pending: always the non-initiator. When the seller
// reached out first, the buyer decides.
func (c *Connection) DeciderID() primitive.ObjectID {
	if c.SellerInitiated {
		return c.BuyerID
	}
	return c.SellerID
}

// IsParticipant reports whether userID is one of the two parties.
func (c *Connection) IsParticipant(userID primitive.ObjectID) bool {
	return c.BuyerID == userID || c.SellerID == userID
}

// OtherParty returns the counterparty of userID. The caller must have
// checked IsParticipant first.
func (c *Connection) OtherParty(userID primitive.ObjectID) primitive.ObjectID {
	if c.BuyerID == userID {
		return c.SellerID
	}
	return c.BuyerID
}

// UnreadFor returns the unread message count from the viewpoint of the
// given party.
func (c *Connection) UnreadFor(userID primitive.ObjectID) int {
	if c.BuyerID == userID {
		return c.UnreadByBuyer
	}
	return c.UnreadBySeller
}
