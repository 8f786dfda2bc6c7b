package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/utils"
)

func setupActionTest(t *testing.T) (IActionService, *mongo.Database) {
	db := utils.SetupTestDB(t, "eaglehurst_test_actions", actionsCollection)
	cfg := &config.Config{
		EmailVerifyTTL:     48 * time.Hour,
		ResetAccessLinkTTL: 20 * time.Minute,
	}
	return NewActionService(db, cfg), db
}

func TestActionLifecycle(t *testing.T) {
	actions, _ := setupActionTest(t)
	ctx := context.Background()
	userID := primitive.NewObjectID()

	action, err := actions.CreateVerifyEmailAction(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionVerifyEmail, action.Type)
	assert.True(t, action.ExpiresAt.After(time.Now()))

	found, err := actions.FindAndValidateAction(ctx, action.GetID(), models.ActionVerifyEmail)
	require.NoError(t, err)
	assert.Equal(t, userID, found.UserID)

	require.NoError(t, actions.MarkActionExecuted(ctx, action.GetID()))

	// A consumed link never validates again.
	_, err = actions.FindAndValidateAction(ctx, action.GetID(), models.ActionVerifyEmail)
	assert.ErrorIs(t, err, ErrActionInvalid)
	assert.ErrorIs(t, actions.MarkActionExecuted(ctx, action.GetID()), ErrActionInvalid)
}

func TestFindAndValidateAction_WrongType(t *testing.T) {
	actions, _ := setupActionTest(t)
	ctx := context.Background()

	action, err := actions.CreateVerifyEmailAction(ctx, primitive.NewObjectID())
	require.NoError(t, err)

	_, err = actions.FindAndValidateAction(ctx, action.GetID(), models.ActionPasswordReset)
	assert.ErrorIs(t, err, ErrActionInvalid)
}

func TestFindAndValidateAction_Expired(t *testing.T) {
	actions, db := setupActionTest(t)
	ctx := context.Background()

	action, err := actions.CreatePasswordResetAction(ctx, primitive.NewObjectID())
	require.NoError(t, err)

	// Force the expiry into the past.
	_, err = db.Collection(actionsCollection).UpdateOne(ctx,
		bson.M{"_id": action.GetID()},
		bson.M{"$set": bson.M{"expires_at": time.Now().UTC().Add(-time.Minute)}})
	require.NoError(t, err)

	_, err = actions.FindAndValidateAction(ctx, action.GetID(), models.ActionPasswordReset)
	assert.ErrorIs(t, err, ErrActionInvalid)
}

func TestCreateAction_SupersedesOutstandingTokens(t *testing.T) {
	actions, _ := setupActionTest(t)
	ctx := context.Background()
	userID := primitive.NewObjectID()

	first, err := actions.CreateVerifyEmailAction(ctx, userID)
	require.NoError(t, err)
	second, err := actions.CreateVerifyEmailAction(ctx, userID)
	require.NoError(t, err)

	// Only the latest emailed link works.
	_, err = actions.FindAndValidateAction(ctx, first.GetID(), models.ActionVerifyEmail)
	assert.ErrorIs(t, err, ErrActionInvalid)
	_, err = actions.FindAndValidateAction(ctx, second.GetID(), models.ActionVerifyEmail)
	assert.NoError(t, err)
}

func TestCreateAction_TypesDoNotSupersedeEachOther(t *testing.T) {
	actions, _ := setupActionTest(t)
	ctx := context.Background()
	userID := primitive.NewObjectID()

	verify, err := actions.CreateVerifyEmailAction(ctx, userID)
	require.NoError(t, err)
	_, err = actions.CreatePasswordResetAction(ctx, userID)
	require.NoError(t, err)

	_, err = actions.FindAndValidateAction(ctx, verify.GetID(), models.ActionVerifyEmail)
	assert.NoError(t, err)
}
