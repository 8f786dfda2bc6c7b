package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/db"
	"eaglehurst/platform/internal/models"
)

var (
	// ErrNotApproved is returned when a message operation targets a
	// connection that is not approved. Pending and rejected connections
	// carry no messages.
	ErrNotApproved = errors.New("connection is not approved for messaging")

	// ErrNotSender is returned when someone other than the original
	// sender attempts to edit or delete a message.
	ErrNotSender = errors.New("only the sender may modify this message")

	// ErrMessageTooLong is returned when content exceeds the configured
	// maximum length.
	ErrMessageTooLong = errors.New("message exceeds the maximum length")

	// ErrEmptyMessage is returned for blank text content.
	ErrEmptyMessage = errors.New("message content must not be empty")
)

// IMessageService manages private messages inside approved connections.
type IMessageService interface {
	SendMessage(ctx context.Context, connectionID, senderID primitive.ObjectID, content string, msgType models.MessageType, fileKey string) (*models.Message, error)
	ListMessages(ctx context.Context, connectionID, viewerID primitive.ObjectID, after primitive.ObjectID, limit int64) ([]models.Message, error)
	MarkRead(ctx context.Context, connectionID, viewerID primitive.ObjectID) (int64, error)
	EditMessage(ctx context.Context, messageID, senderID primitive.ObjectID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID, senderID primitive.ObjectID) error
}

const messagesCollection = "messages"

type messageService struct {
	db      *mongo.Database
	connSvc IConnectionService
	cfg     *config.Config
}

// NewMessageService creates a new MessageService.
func NewMessageService(db *mongo.Database, connSvc IConnectionService, cfg *config.Config) IMessageService {
	return &messageService{db: db, connSvc: connSvc, cfg: cfg}
}

// SendMessage appends a message to an approved connection. The sender
// must be a party; the counterparty's unread counter and the
// connection's last_activity are bumped in the same update.
func (s *messageService) SendMessage(ctx context.Context, connectionID, senderID primitive.ObjectID, content string, msgType models.MessageType, fileKey string) (*models.Message, error) {
	conn, err := s.connSvc.FindForUser(ctx, connectionID, senderID)
	if err != nil {
		return nil, err
	}
	if !conn.CanMessage() {
		return nil, ErrNotApproved
	}
	if err := s.validateContent(content, msgType, fileKey); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ConnectionID: connectionID,
		SenderID:     senderID,
		Content:      content,
		Type:         msgType,
		FileKey:      fileKey,
		CreatedAt:    now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(messagesCollection), msg); err != nil {
		return nil, fmt.Errorf("error inserting message on connection %s: %w", connectionID.Hex(), err)
	}

	unreadField := "unread_by_seller"
	if conn.OtherParty(senderID) == conn.BuyerID {
		unreadField = "unread_by_buyer"
	}
	_, err = s.db.Collection(connectionsCollection).UpdateOne(ctx,
		bson.M{"_id": connectionID, "deleted": false},
		bson.M{
			"$set": bson.M{"last_activity": now},
			"$inc": bson.M{unreadField: 1},
		})
	if err != nil {
		// The message itself is durable; a failed counter bump is
		// corrected by the next mark-read.
		return msg, fmt.Errorf("message sent but failed to update connection %s: %w", connectionID.Hex(), err)
	}
	return msg, nil
}

// ListMessages returns messages of a connection in chronological order.
// Pass a zero `after` for the beginning; otherwise only messages newer
// than that ID are returned, which is what the interval poller asks for.
func (s *messageService) ListMessages(ctx context.Context, connectionID, viewerID primitive.ObjectID, after primitive.ObjectID, limit int64) ([]models.Message, error) {
	if _, err := s.connSvc.FindForUser(ctx, connectionID, viewerID); err != nil {
		return nil, err
	}

	filter := bson.M{"connection_id": connectionID, "deleted": false}
	if !after.IsZero() {
		filter["_id"] = bson.M{"$gt": after}
	}
	opts := findSorted(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for connection %s: %w", connectionID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var msgs []models.Message
	if err = cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages for connection %s: %w", connectionID.Hex(), err)
	}
	return msgs, nil
}

// MarkRead marks the counterparty's unread messages as read and resets
// the viewer's unread counter. Returns the number of messages affected.
func (s *messageService) MarkRead(ctx context.Context, connectionID, viewerID primitive.ObjectID) (int64, error) {
	conn, err := s.connSvc.FindForUser(ctx, connectionID, viewerID)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Collection(messagesCollection).UpdateMany(ctx,
		bson.M{
			"connection_id": connectionID,
			"sender_id":     bson.M{"$ne": viewerID},
			"is_read":       false,
			"deleted":       false,
		},
		bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, fmt.Errorf("error marking messages read on connection %s: %w", connectionID.Hex(), err)
	}

	unreadField := "unread_by_seller"
	if viewerID == conn.BuyerID {
		unreadField = "unread_by_buyer"
	}
	_, err = s.db.Collection(connectionsCollection).UpdateOne(ctx,
		bson.M{"_id": connectionID, "deleted": false},
		bson.M{"$set": bson.M{unreadField: 0}})
	if err != nil {
		return result.ModifiedCount, fmt.Errorf("error resetting unread counter on connection %s: %w", connectionID.Hex(), err)
	}
	return result.ModifiedCount, nil
}

// EditMessage replaces the content of the sender's own message and sets
// the edited flag. The sender_id filter enforces ownership atomically.
func (s *messageService) EditMessage(ctx context.Context, messageID, senderID primitive.ObjectID, content string) (*models.Message, error) {
	msg, err := s.findByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, ErrNotSender
	}
	if err := s.validateContent(content, msg.Type, msg.FileKey); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := s.db.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": messageID, "sender_id": senderID, "deleted": false},
		bson.M{"$set": bson.M{
			"content":   content,
			"is_edited": true,
			"edited_at": now,
		}})
	if err != nil {
		return nil, fmt.Errorf("error editing message %s: %w", messageID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}

	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	return msg, nil
}

// DeleteMessage soft-deletes the sender's own message.
func (s *messageService) DeleteMessage(ctx context.Context, messageID, senderID primitive.ObjectID) error {
	msg, err := s.findByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != senderID {
		return ErrNotSender
	}

	result, err := s.db.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": messageID, "sender_id": senderID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true}})
	if err != nil {
		return fmt.Errorf("error deleting message %s: %w", messageID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (s *messageService) findByID(ctx context.Context, messageID primitive.ObjectID) (*models.Message, error) {
	var msg models.Message
	err := s.db.Collection(messagesCollection).FindOne(ctx,
		bson.M{"_id": messageID, "deleted": false}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding message %s: %w", messageID.Hex(), err)
	}
	return &msg, nil
}

func (s *messageService) validateContent(content string, msgType models.MessageType, fileKey string) error {
	if msgType == models.MessageTypeFile {
		if fileKey == "" {
			return fmt.Errorf("file message requires a file key")
		}
		return nil
	}
	if content == "" {
		return ErrEmptyMessage
	}
	if s.cfg.MaxMessageLength > 0 && len(content) > s.cfg.MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
