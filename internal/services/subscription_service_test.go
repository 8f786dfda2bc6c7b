package services

import (
	"context"
	"testing"
	"time"

	"github.com/plutov/paypal/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/utils"
)

type mockPaypalGateway struct {
	mock.Mock
}

func (m *mockPaypalGateway) GetOrder(ctx context.Context, orderID string) (*paypal.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paypal.Order), args.Error(1)
}

func completedOrder(id, value string) *paypal.Order {
	return &paypal.Order{
		ID:     id,
		Status: "COMPLETED",
		PurchaseUnits: []paypal.PurchaseUnit{
			{Amount: &paypal.PurchaseUnitAmount{Currency: "AUD", Value: value}},
		},
	}
}

func setupSubscriptionTest(t *testing.T) (ISubscriptionService, IUserService, *mockPaypalGateway) {
	db := utils.SetupTestDB(t, "eaglehurst_test_subscriptions", usersCollection, paymentsCollection)
	cfg := &config.Config{SubscriptionPrice: 99.00, SubscriptionPeriodDays: 30}
	gateway := &mockPaypalGateway{}
	return NewSubscriptionService(db, cfg, gateway), NewUserService(db), gateway
}

func TestConfirmPayment_ActivatesSubscription(t *testing.T) {
	subs, users, gateway := setupSubscriptionTest(t)
	ctx := context.Background()

	buyer, err := users.Register(ctx, "Barbara", "b@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	gateway.On("GetOrder", mock.Anything, "ORDER-1").Return(completedOrder("ORDER-1", "99.00"), nil)

	sub, err := subs.ConfirmPayment(ctx, buyer.GetID(), "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.True(t, sub.IsActiveAt(time.Now()))

	fresh, err := users.FindByID(ctx, buyer.GetID())
	require.NoError(t, err)
	require.NotNil(t, fresh.Subscription)
	assert.Equal(t, "ORDER-1", fresh.Subscription.PaypalOrderID)

	records, err := subs.ListPayments(ctx, buyer.GetID())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 99.00, records[0].Amount)
}

func TestConfirmPayment_ReplayRejected(t *testing.T) {
	subs, users, gateway := setupSubscriptionTest(t)
	ctx := context.Background()

	buyer, err := users.Register(ctx, "Barbara", "b@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	gateway.On("GetOrder", mock.Anything, "ORDER-1").Return(completedOrder("ORDER-1", "99.00"), nil)

	_, err = subs.ConfirmPayment(ctx, buyer.GetID(), "ORDER-1")
	require.NoError(t, err)
	_, err = subs.ConfirmPayment(ctx, buyer.GetID(), "ORDER-1")
	assert.ErrorIs(t, err, ErrPaymentAlreadyProcessed)
}

func TestConfirmPayment_RejectsBadOrders(t *testing.T) {
	subs, users, gateway := setupSubscriptionTest(t)
	ctx := context.Background()

	buyer, err := users.Register(ctx, "Barbara", "b@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	// Underpaid.
	gateway.On("GetOrder", mock.Anything, "CHEAP").Return(completedOrder("CHEAP", "1.00"), nil)
	_, err = subs.ConfirmPayment(ctx, buyer.GetID(), "CHEAP")
	assert.ErrorIs(t, err, ErrPaymentInvalid)

	// Not completed.
	pending := completedOrder("PENDING", "99.00")
	pending.Status = "CREATED"
	gateway.On("GetOrder", mock.Anything, "PENDING").Return(pending, nil)
	_, err = subs.ConfirmPayment(ctx, buyer.GetID(), "PENDING")
	assert.ErrorIs(t, err, ErrPaymentInvalid)

	// No access was granted either way.
	fresh, err := users.FindByID(ctx, buyer.GetID())
	require.NoError(t, err)
	assert.False(t, fresh.Subscription.IsActiveAt(time.Now()))
}

func TestConfirmPayment_RenewalExtendsFromCurrentExpiry(t *testing.T) {
	subs, users, gateway := setupSubscriptionTest(t)
	ctx := context.Background()

	buyer, err := users.Register(ctx, "Barbara", "b@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	gateway.On("GetOrder", mock.Anything, "ORDER-1").Return(completedOrder("ORDER-1", "99.00"), nil)
	gateway.On("GetOrder", mock.Anything, "ORDER-2").Return(completedOrder("ORDER-2", "99.00"), nil)

	first, err := subs.ConfirmPayment(ctx, buyer.GetID(), "ORDER-1")
	require.NoError(t, err)
	second, err := subs.ConfirmPayment(ctx, buyer.GetID(), "ORDER-2")
	require.NoError(t, err)

	// Renewing early adds a full period on top of the remaining one.
	expected := first.ExpiresAt.Add(30 * 24 * time.Hour)
	assert.WithinDuration(t, expected, *second.ExpiresAt, time.Second)
}

func TestCancelSubscription_KeepsAccessUntilExpiry(t *testing.T) {
	subs, users, gateway := setupSubscriptionTest(t)
	ctx := context.Background()

	buyer, err := users.Register(ctx, "Barbara", "b@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)
	gateway.On("GetOrder", mock.Anything, "ORDER-1").Return(completedOrder("ORDER-1", "99.00"), nil)
	_, err = subs.ConfirmPayment(ctx, buyer.GetID(), "ORDER-1")
	require.NoError(t, err)

	sub, err := subs.CancelSubscription(ctx, buyer.GetID())
	require.NoError(t, err)
	assert.True(t, sub.IsCancelled)
	assert.True(t, sub.IsActiveAt(time.Now()), "grace period lasts until expiry")
}

func TestCancelSubscription_NoSubscription(t *testing.T) {
	subs, users, _ := setupSubscriptionTest(t)
	ctx := context.Background()

	buyer, err := users.Register(ctx, "Barbara", "b@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	_, err = subs.CancelSubscription(ctx, buyer.GetID())
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestExpireLapsed(t *testing.T) {
	db := utils.SetupTestDB(t, "eaglehurst_test_expiry", usersCollection, paymentsCollection)
	cfg := &config.Config{SubscriptionPrice: 99.00, SubscriptionPeriodDays: 30}
	subs := NewSubscriptionService(db, cfg, &mockPaypalGateway{})
	users := NewUserService(db)
	ctx := context.Background()

	lapsed, err := users.Register(ctx, "Lapsed", "lapsed@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)
	current, err := users.Register(ctx, "Current", "current@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)
	for _, u := range []struct {
		user    *models.User
		expires time.Time
	}{
		{lapsed, past},
		{current, future},
	} {
		_, err = db.Collection(usersCollection).UpdateOne(ctx,
			bson.M{"_id": u.user.GetID()},
			bson.M{"$set": bson.M{"subscription": models.Subscription{
				Status:    models.SubscriptionActive,
				StartedAt: past,
				ExpiresAt: &u.expires,
			}}})
		require.NoError(t, err)
	}

	n, err := subs.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	fresh, err := users.FindByID(ctx, lapsed.GetID())
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionExpired, fresh.Subscription.Status)

	fresh, err = users.FindByID(ctx, current.GetID())
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, fresh.Subscription.Status)
}
