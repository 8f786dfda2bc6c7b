package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/plutov/paypal/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/db"
	"eaglehurst/platform/internal/models"
)

var (
	// ErrPaymentAlreadyProcessed is returned when a PayPal order ID has
	// already been captured. Replayed callbacks must not extend access
	// twice.
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")

	// ErrPaymentInvalid is returned when the provider-side order does
	// not match what the platform charges.
	ErrPaymentInvalid = errors.New("payment could not be validated")

	// ErrNoSubscription is returned when a subscription operation
	// targets a user who never subscribed.
	ErrNoSubscription = errors.New("user has no subscription")
)

// PaypalGateway is the slice of the PayPal client the service needs.
// The real client is created by NewPaypalGateway; tests substitute a
// fake.
type PaypalGateway interface {
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

// NewPaypalGateway builds an authenticated PayPal client from config.
func NewPaypalGateway(ctx context.Context, cfg *config.Config) (PaypalGateway, error) {
	c, err := paypal.NewClient(cfg.PaypalClientID, cfg.PaypalSecret, cfg.PaypalAPIBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain paypal access token: %w", err)
	}
	c.SetAccessToken(token.Token)
	return c, nil
}

// ISubscriptionService manages member subscriptions and their PayPal
// settlement.
type ISubscriptionService interface {
	ConfirmPayment(ctx context.Context, userID primitive.ObjectID, orderID string) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, userID primitive.ObjectID) (*models.Subscription, error)
	GetSubscription(ctx context.Context, userID primitive.ObjectID) (*models.Subscription, error)
	ExpireLapsed(ctx context.Context) (int64, error)
	ListPayments(ctx context.Context, userID primitive.ObjectID) ([]models.PaymentRecord, error)
}

const paymentsCollection = "payments"

type subscriptionService struct {
	db      *mongo.Database
	cfg     *config.Config
	gateway PaypalGateway
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(db *mongo.Database, cfg *config.Config, gateway PaypalGateway) ISubscriptionService {
	return &subscriptionService{db: db, cfg: cfg, gateway: gateway}
}

// ConfirmPayment verifies a completed PayPal order server-side and
// activates (or extends) the user's subscription. The order is fetched
// from PayPal rather than trusted from the client; the amount must
// cover the subscription price, and each order ID settles at most once.
func (s *subscriptionService) ConfirmPayment(ctx context.Context, userID primitive.ObjectID, orderID string) (*models.Subscription, error) {
	payments := s.db.Collection(paymentsCollection)

	count, err := payments.CountDocuments(ctx, bson.M{"paypal_order_id": orderID})
	if err != nil {
		return nil, fmt.Errorf("error checking for existing payment %s: %w", orderID, err)
	}
	if count > 0 {
		return nil, ErrPaymentAlreadyProcessed
	}

	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("error fetching paypal order %s: %w", orderID, err)
	}
	if order.Status != "COMPLETED" {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, ErrPaymentInvalid)
	}
	if len(order.PurchaseUnits) == 0 || order.PurchaseUnits[0].Amount == nil {
		return nil, fmt.Errorf("order %s has no purchase amount: %w", orderID, ErrPaymentInvalid)
	}
	amount, err := strconv.ParseFloat(order.PurchaseUnits[0].Amount.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("order %s has malformed amount %q: %w", orderID, order.PurchaseUnits[0].Amount.Value, ErrPaymentInvalid)
	}
	if amount < s.cfg.SubscriptionPrice {
		return nil, fmt.Errorf("order %s paid %.2f, expected %.2f: %w", orderID, amount, s.cfg.SubscriptionPrice, ErrPaymentInvalid)
	}

	now := time.Now().UTC()
	record := &models.PaymentRecord{
		UserID:        userID,
		PaypalOrderID: orderID,
		Amount:        amount,
		CurrencyCode:  order.PurchaseUnits[0].Amount.Currency,
		CapturedAt:    now,
	}
	if _, err := db.InsertOne(ctx, payments, record); err != nil {
		return nil, fmt.Errorf("error recording payment %s: %w", orderID, err)
	}

	sub, err := s.activate(ctx, userID, orderID, now)
	if err != nil {
		return nil, err
	}
	log.Printf("Subscription activated for user %s until %s (order %s)", userID.Hex(), sub.ExpiresAt.Format(time.RFC3339), orderID)
	return sub, nil
}

// activate starts a fresh period or extends a still-running one. The
// new expiry counts from the current expiry when the subscription is
// still active, so renewing early never loses paid days.
func (s *subscriptionService) activate(ctx context.Context, userID primitive.ObjectID, orderID string, now time.Time) (*models.Subscription, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	from := now
	if user.Subscription.IsActiveAt(now) && user.Subscription.ExpiresAt != nil {
		from = *user.Subscription.ExpiresAt
	}
	expires := from.Add(time.Duration(s.cfg.SubscriptionPeriodDays) * 24 * time.Hour)

	started := now
	if user.Subscription != nil && user.Subscription.IsActiveAt(now) {
		started = user.Subscription.StartedAt
	}
	sub := &models.Subscription{
		Status:        models.SubscriptionActive,
		StartedAt:     started,
		ExpiresAt:     &expires,
		IsCancelled:   false,
		PaypalOrderID: orderID,
	}

	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"subscription": sub, "updated_at": now}})
	if err != nil {
		return nil, fmt.Errorf("error activating subscription for user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}
	return sub, nil
}

// CancelSubscription marks the subscription cancelled. Access continues
// until the already-paid period runs out; the expiry sweep flips the
// status afterwards.
func (s *subscriptionService) CancelSubscription(ctx context.Context, userID primitive.ObjectID) (*models.Subscription, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Subscription == nil {
		return nil, ErrNoSubscription
	}

	now := time.Now().UTC()
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false, "subscription": bson.M{"$ne": nil}},
		bson.M{"$set": bson.M{"subscription.is_cancelled": true, "updated_at": now}})
	if err != nil {
		return nil, fmt.Errorf("error cancelling subscription for user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrNoSubscription
	}

	user.Subscription.IsCancelled = true
	return user.Subscription, nil
}

// GetSubscription returns the user's subscription, or ErrNoSubscription.
func (s *subscriptionService) GetSubscription(ctx context.Context, userID primitive.ObjectID) (*models.Subscription, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Subscription == nil {
		return nil, ErrNoSubscription
	}
	return user.Subscription, nil
}

// ExpireLapsed flips lapsed subscriptions from active to expired. The
// access gate already denies them by timestamp; the sweep keeps the
// stored status honest and feeds the reminder emails. Returns the
// number of users affected.
func (s *subscriptionService) ExpireLapsed(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.Collection(usersCollection).UpdateMany(ctx,
		bson.M{
			"deleted":                 false,
			"subscription.status":     models.SubscriptionActive,
			"subscription.expires_at": bson.M{"$lte": now},
		},
		bson.M{"$set": bson.M{"subscription.status": models.SubscriptionExpired, "updated_at": now}})
	if err != nil {
		return 0, fmt.Errorf("error expiring lapsed subscriptions: %w", err)
	}
	return result.ModifiedCount, nil
}

// ListPayments returns the user's capture history, newest first.
func (s *subscriptionService) ListPayments(ctx context.Context, userID primitive.ObjectID) ([]models.PaymentRecord, error) {
	cursor, err := s.db.Collection(paymentsCollection).Find(ctx,
		bson.M{"user_id": userID},
		findSorted(bson.D{{Key: "captured_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var records []models.PaymentRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode payments for user %s: %w", userID.Hex(), err)
	}
	return records, nil
}

func (s *subscriptionService) findUser(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx,
		bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.Hex(), err)
	}
	return &user, nil
}
