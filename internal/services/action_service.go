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

// ErrActionInvalid is returned when an action token does not exist, has
// expired, or was already used. Callers must not distinguish these
// cases to the user.
var ErrActionInvalid = errors.New("action link is invalid or has expired")

// IActionService manages single-use emailed action tokens.
type IActionService interface {
	CreateVerifyEmailAction(ctx context.Context, userID primitive.ObjectID) (*models.Action, error)
	CreatePasswordResetAction(ctx context.Context, userID primitive.ObjectID) (*models.Action, error)
	FindAndValidateAction(ctx context.Context, actionID primitive.ObjectID, actionType models.ActionType) (*models.Action, error)
	MarkActionExecuted(ctx context.Context, actionID primitive.ObjectID) error
}

const actionsCollection = "actions"

type actionService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewActionService creates a new ActionService.
func NewActionService(db *mongo.Database, cfg *config.Config) IActionService {
	return &actionService{db: db, cfg: cfg}
}

// CreateVerifyEmailAction issues a fresh email-verification token.
// Earlier unexecuted tokens of the same type are invalidated so only
// the latest emailed link works.
func (s *actionService) CreateVerifyEmailAction(ctx context.Context, userID primitive.ObjectID) (*models.Action, error) {
	return s.createAction(ctx, userID, models.ActionVerifyEmail, s.cfg.EmailVerifyTTL)
}

// CreatePasswordResetAction issues a password-reset token with a short TTL.
func (s *actionService) CreatePasswordResetAction(ctx context.Context, userID primitive.ObjectID) (*models.Action, error) {
	return s.createAction(ctx, userID, models.ActionPasswordReset, s.cfg.ResetAccessLinkTTL)
}

func (s *actionService) createAction(ctx context.Context, userID primitive.ObjectID, actionType models.ActionType, ttl time.Duration) (*models.Action, error) {
	collection := s.db.Collection(actionsCollection)

	// Supersede any outstanding token of this type for the user.
	_, err := collection.UpdateMany(ctx,
		bson.M{"user_id": userID, "type": actionType, "executed": nil, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true}})
	if err != nil {
		return nil, fmt.Errorf("error invalidating previous %s actions for user %s: %w", actionType, userID.Hex(), err)
	}

	now := time.Now().UTC()
	action := &models.Action{
		UserID:    userID,
		Type:      actionType,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if _, err := db.InsertOne(ctx, collection, action); err != nil {
		return nil, fmt.Errorf("error inserting %s action for user %s: %w", actionType, userID.Hex(), err)
	}
	return action, nil
}

// FindAndValidateAction looks up a live token of the expected type. The
// filter rejects executed, expired, and deleted tokens in one query.
func (s *actionService) FindAndValidateAction(ctx context.Context, actionID primitive.ObjectID, actionType models.ActionType) (*models.Action, error) {
	filter := bson.M{
		"_id":        actionID,
		"type":       actionType,
		"executed":   nil,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"deleted":    false,
	}
	var action models.Action
	err := s.db.Collection(actionsCollection).FindOne(ctx, filter).Decode(&action)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrActionInvalid
		}
		return nil, fmt.Errorf("error finding action %s: %w", actionID.Hex(), err)
	}
	return &action, nil
}

// MarkActionExecuted consumes a token. The executed:nil filter makes
// consumption atomic, so a link can only ever be used once.
func (s *actionService) MarkActionExecuted(ctx context.Context, actionID primitive.ObjectID) error {
	now := time.Now().UTC()
	result, err := s.db.Collection(actionsCollection).UpdateOne(ctx,
		bson.M{"_id": actionID, "executed": nil, "deleted": false},
		bson.M{"$set": bson.M{"executed": now}})
	if err != nil {
		return fmt.Errorf("error marking action %s executed: %w", actionID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return ErrActionInvalid
	}
	return nil
}
