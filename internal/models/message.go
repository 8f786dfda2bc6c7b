package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageType distinguishes plain text from file attachments.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Message is a single entry in a connection's thread. Messages exist
// only on approved connections; edit and delete are reserved for the
// original sender.
type Message struct {
	Base         `bson:",inline"`
	ConnectionID primitive.ObjectID `bson:"connection_id" json:"connection_id"`
	SenderID     primitive.ObjectID `bson:"sender_id" json:"sender_id"`
	Content      string             `bson:"content" json:"content"`
	Type         MessageType        `bson:"message_type" json:"message_type"`
	FileKey      string             `bson:"file_key,omitempty" json:"file_key,omitempty"` // S3 key for file messages
	IsRead       bool               `bson:"is_read" json:"is_read"`
	IsEdited     bool               `bson:"is_edited" json:"is_edited"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	EditedAt     *time.Time         `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Deleted      bool               `bson:"deleted" json:"-"`
}
