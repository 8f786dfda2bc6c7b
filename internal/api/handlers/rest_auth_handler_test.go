package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
)

type stubUserService struct {
	services.IUserService
	registerFn     func(ctx context.Context, name, email, password string, role models.Role) (*models.User, error)
	authenticateFn func(ctx context.Context, email, password string) (*models.User, error)
	verifyFn       func(ctx context.Context, userID primitive.ObjectID) error
}

func (s *stubUserService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	return s.registerFn(ctx, name, email, password, role)
}

func (s *stubUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	return s.authenticateFn(ctx, email, password)
}

func (s *stubUserService) MarkEmailVerified(ctx context.Context, userID primitive.ObjectID) error {
	return s.verifyFn(ctx, userID)
}

type stubActionService struct {
	services.IActionService
	createFn   func(ctx context.Context, userID primitive.ObjectID) (*models.Action, error)
	validateFn func(ctx context.Context, actionID primitive.ObjectID, actionType models.ActionType) (*models.Action, error)
}

func (s *stubActionService) CreateVerifyEmailAction(ctx context.Context, userID primitive.ObjectID) (*models.Action, error) {
	return s.createFn(ctx, userID)
}

func (s *stubActionService) FindAndValidateAction(ctx context.Context, actionID primitive.ObjectID, actionType models.ActionType) (*models.Action, error) {
	return s.validateFn(ctx, actionID, actionType)
}

func (s *stubActionService) MarkActionExecuted(ctx context.Context, actionID primitive.ObjectID) error {
	return nil
}

func authTestConfig() *config.Config {
	return &config.Config{JwtSecret: "auth-handler-test-secret", JwtTTL: time.Hour}
}

func authRouter(users services.IUserService, actions services.IActionService, taskClient *recordingTaskClient) *gin.Engine {
	h := NewRestAuthHandler(users, actions, taskClient, authTestConfig())
	r := gin.New()
	r.POST("/v1/auth/register", h.Register)
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/verify-email/:action_id", h.VerifyEmail)
	return r
}

func TestRegisterIssuesTokenAndVerificationEmail(t *testing.T) {
	user := &models.User{Name: "New Buyer", Email: "buyer@example.com", Role: models.RoleBuyer}
	user.ID = primitive.NewObjectID()
	action := &models.Action{UserID: user.ID, Type: models.ActionVerifyEmail}
	action.ID = primitive.NewObjectID()

	users := &stubUserService{
		registerFn: func(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
			assert.Equal(t, models.RoleBuyer, role)
			return user, nil
		},
	}
	actions := &stubActionService{
		createFn: func(ctx context.Context, userID primitive.ObjectID) (*models.Action, error) {
			return action, nil
		},
	}
	taskClient := &recordingTaskClient{}
	r := authRouter(users, actions, taskClient)

	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/register", map[string]string{
		"name": "New Buyer", "email": "buyer@example.com", "password": "long-enough", "role": "buyer",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "token")

	require.Len(t, taskClient.emails, 1)
	assert.Equal(t, "verify_email", taskClient.emails[0].TemplateID)
	assert.Equal(t, action.ID.Hex(), taskClient.emails[0].Data["action_id"])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	users := &stubUserService{
		registerFn: func(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
			return nil, services.ErrEmailExists
		},
	}
	r := authRouter(users, &stubActionService{}, &recordingTaskClient{})

	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/register", map[string]string{
		"name": "Dup", "email": "dup@example.com", "password": "long-enough", "role": "buyer",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	r := authRouter(&stubUserService{}, &stubActionService{}, &recordingTaskClient{})
	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/register", map[string]string{
		"name": "Short", "email": "short@example.com", "password": "tiny", "role": "buyer",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginWrongCredentials(t *testing.T) {
	users := &stubUserService{
		authenticateFn: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, mongo.ErrNoDocuments
		},
	}
	r := authRouter(users, &stubActionService{}, &recordingTaskClient{})

	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "who@example.com", "password": "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginSuspendedAccount(t *testing.T) {
	users := &stubUserService{
		authenticateFn: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, services.ErrUserSuspended
		},
	}
	r := authRouter(users, &stubActionService{}, &recordingTaskClient{})

	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "gone@example.com", "password": "whatever",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVerifyEmailExpiredLink(t *testing.T) {
	actions := &stubActionService{
		validateFn: func(ctx context.Context, actionID primitive.ObjectID, actionType models.ActionType) (*models.Action, error) {
			return nil, services.ErrActionInvalid
		},
	}
	r := authRouter(&stubUserService{}, actions, &recordingTaskClient{})

	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/verify-email/"+primitive.NewObjectID().Hex(), nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestVerifyEmailSuccess(t *testing.T) {
	userID := primitive.NewObjectID()
	action := &models.Action{UserID: userID, Type: models.ActionVerifyEmail}
	action.ID = primitive.NewObjectID()

	verified := false
	users := &stubUserService{
		verifyFn: func(ctx context.Context, gotID primitive.ObjectID) error {
			assert.Equal(t, userID, gotID)
			verified = true
			return nil
		},
	}
	actions := &stubActionService{
		validateFn: func(ctx context.Context, actionID primitive.ObjectID, actionType models.ActionType) (*models.Action, error) {
			assert.Equal(t, models.ActionVerifyEmail, actionType)
			return action, nil
		},
	}
	r := authRouter(users, actions, &recordingTaskClient{})

	w := jsonRequest(t, r, http.MethodPost, "/v1/auth/verify-email/"+action.ID.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, verified)
}
