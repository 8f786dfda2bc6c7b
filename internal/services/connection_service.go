package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eaglehurst/platform/internal/db"
	"eaglehurst/platform/internal/models"
)

var (
	// ErrConnectionExists is returned when a live connection already
	// links the buyer and the listing. One introduction per pair.
	ErrConnectionExists = errors.New("a connection for this listing already exists")

	// ErrAlreadyResolved is returned when a decision arrives for a
	// connection that has left the pending state. Approved and rejected
	// are final.
	ErrAlreadyResolved = errors.New("connection has already been resolved")

	// ErrNotDecider is returned when a party other than the current
	// decider attempts to approve or reject.
	ErrNotDecider = errors.New("only the receiving party may decide this connection")

	// ErrNotParticipant is returned when a user outside the connection
	// attempts to act on it.
	ErrNotParticipant = errors.New("user is not a party to this connection")

	// ErrSelfConnection is returned when a seller attempts to connect
	// to their own listing.
	ErrSelfConnection = errors.New("cannot open a connection with yourself")
)

// IConnectionService manages the introduction lifecycle between buyers
// and sellers.
type IConnectionService interface {
	RequestConnection(ctx context.Context, listingID, buyerID primitive.ObjectID, initialMessage string) (*models.Connection, error)
	SellerRequestConnection(ctx context.Context, listingID, sellerID, buyerID primitive.ObjectID, initialMessage string) (*models.Connection, error)
	RespondToConnection(ctx context.Context, connectionID, deciderID primitive.ObjectID, approve bool, responseMessage string) (*models.Connection, error)
	FindByID(ctx context.Context, connectionID primitive.ObjectID) (*models.Connection, error)
	FindForUser(ctx context.Context, connectionID, userID primitive.ObjectID) (*models.Connection, error)
	ListForUser(ctx context.Context, userID primitive.ObjectID, status models.ConnectionStatus) ([]models.Connection, error)
	PendingDecisionsFor(ctx context.Context, userID primitive.ObjectID) ([]models.Connection, error)
	TotalUnreadFor(ctx context.Context, userID primitive.ObjectID) (int64, error)
	ListAll(ctx context.Context, status models.ConnectionStatus, limit, offset int64) ([]models.Connection, error)
	CountByStatus(ctx context.Context) (map[models.ConnectionStatus]int64, error)
}

const connectionsCollection = "connections"

type connectionService struct {
	db         *mongo.Database
	listingSvc IListingService
	userSvc    IUserService
}

// NewConnectionService creates a new ConnectionService.
func NewConnectionService(db *mongo.Database, listingSvc IListingService, userSvc IUserService) IConnectionService {
	return &connectionService{db: db, listingSvc: listingSvc, userSvc: userSvc}
}

// RequestConnection opens a buyer-initiated introduction about a
// listing. The direction is recorded at creation and never changes,
// because it determines who holds approval authority: here the seller
// will decide.
func (s *connectionService) RequestConnection(ctx context.Context, listingID, buyerID primitive.ObjectID, initialMessage string) (*models.Connection, error) {
	listing, err := s.listingSvc.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID == buyerID {
		return nil, ErrSelfConnection
	}

	buyer, err := s.userSvc.FindByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyer.Role != models.RoleBuyer {
		return nil, fmt.Errorf("only buyers may request a connection to a listing")
	}

	return s.create(ctx, listing, buyerID, false, initialMessage)
}

// SellerRequestConnection opens a seller-initiated introduction: the
// listing's owner reaches out to a buyer, and approval authority flips
// to the buyer.
func (s *connectionService) SellerRequestConnection(ctx context.Context, listingID, sellerID, buyerID primitive.ObjectID, initialMessage string) (*models.Connection, error) {
	listing, err := s.listingSvc.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != sellerID {
		return nil, fmt.Errorf("listing %s does not belong to seller %s", listingID.Hex(), sellerID.Hex())
	}
	if buyerID == sellerID {
		return nil, ErrSelfConnection
	}

	buyer, err := s.userSvc.FindByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyer.Role != models.RoleBuyer {
		return nil, fmt.Errorf("connection target %s is not a buyer", buyerID.Hex())
	}

	return s.create(ctx, listing, buyerID, true, initialMessage)
}

// create inserts the pending connection after checking for a live
// duplicate. Rejected connections do not block a new attempt.
func (s *connectionService) create(ctx context.Context, listing *models.Listing, buyerID primitive.ObjectID, sellerInitiated bool, initialMessage string) (*models.Connection, error) {
	collection := s.db.Collection(connectionsCollection)

	count, err := collection.CountDocuments(ctx, bson.M{
		"listing_id": listing.GetID(),
		"buyer_id":   buyerID,
		"status":     bson.M{"$ne": models.ConnectionRejected},
		"deleted":    false,
	})
	if err != nil {
		return nil, fmt.Errorf("error checking for existing connection: %w", err)
	}
	if count > 0 {
		return nil, ErrConnectionExists
	}

	now := time.Now().UTC()
	conn := &models.Connection{
		ListingID:       listing.GetID(),
		BuyerID:         buyerID,
		SellerID:        listing.UserID,
		Status:          models.ConnectionPending,
		SellerInitiated: sellerInitiated,
		InitialMessage:  initialMessage,
		RequestedAt:     now,
		LastActivity:    now,
	}
	if _, err := db.InsertOne(ctx, collection, conn); err != nil {
		return nil, fmt.Errorf("error inserting connection for listing %s: %w", listing.GetID().Hex(), err)
	}
	return conn, nil
}

// RespondToConnection settles a pending connection. Authority rests
// with the non-initiating party only, and the status:pending filter
// makes the transition atomic: concurrent decisions cannot both win,
// and a settled connection can never change again.
func (s *connectionService) RespondToConnection(ctx context.Context, connectionID, deciderID primitive.ObjectID, approve bool, responseMessage string) (*models.Connection, error) {
	conn, err := s.FindByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.IsParticipant(deciderID) {
		return nil, ErrNotParticipant
	}
	if conn.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if conn.DeciderID() != deciderID {
		return nil, ErrNotDecider
	}

	status := models.ConnectionRejected
	if approve {
		status = models.ConnectionApproved
	}
	now := time.Now().UTC()

	result := s.db.Collection(connectionsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": connectionID, "status": models.ConnectionPending, "deleted": false},
		bson.M{"$set": bson.M{
			"status":           status,
			"response_message": responseMessage,
			"responded_at":     now,
			"last_activity":    now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))

	var updated models.Connection
	if err := result.Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Lost the race to another decision.
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("error settling connection %s: %w", connectionID.Hex(), err)
	}
	return &updated, nil
}

// FindByID finds a non-deleted connection.
func (s *connectionService) FindByID(ctx context.Context, connectionID primitive.ObjectID) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.Collection(connectionsCollection).FindOne(ctx,
		bson.M{"_id": connectionID, "deleted": false}).Decode(&conn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding connection %s: %w", connectionID.Hex(), err)
	}
	return &conn, nil
}

// FindForUser finds a connection and verifies the caller is a party to
// it. Outsiders get ErrNotParticipant, not a peek at the document.
func (s *connectionService) FindForUser(ctx context.Context, connectionID, userID primitive.ObjectID) (*models.Connection, error) {
	conn, err := s.FindByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conn, nil
}

// ListForUser returns the user's connections on either side, most
// recently active first. An empty status matches all statuses.
func (s *connectionService) ListForUser(ctx context.Context, userID primitive.ObjectID, status models.ConnectionStatus) ([]models.Connection, error) {
	filter := bson.M{
		"$or":     bson.A{bson.M{"buyer_id": userID}, bson.M{"seller_id": userID}},
		"deleted": false,
	}
	if status != "" {
		filter["status"] = status
	}
	cursor, err := s.db.Collection(connectionsCollection).Find(ctx, filter,
		findSorted(bson.D{{Key: "last_activity", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query connections for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var conns []models.Connection
	if err = cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections for user %s: %w", userID.Hex(), err)
	}
	return conns, nil
}

// PendingDecisionsFor returns the pending connections awaiting this
// user's decision: those where the user is the non-initiating party.
func (s *connectionService) PendingDecisionsFor(ctx context.Context, userID primitive.ObjectID) ([]models.Connection, error) {
	filter := bson.M{
		"status":  models.ConnectionPending,
		"deleted": false,
		"$or": bson.A{
			bson.M{"seller_id": userID, "seller_initiated": false},
			bson.M{"buyer_id": userID, "seller_initiated": true},
		},
	}
	cursor, err := s.db.Collection(connectionsCollection).Find(ctx, filter,
		findSorted(bson.D{{Key: "requested_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending decisions for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var conns []models.Connection
	if err = cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode pending decisions for user %s: %w", userID.Hex(), err)
	}
	return conns, nil
}

// TotalUnreadFor sums the user's unread counters across approved
// connections. Only approved connections carry messages, so the sum is
// restricted to them.
func (s *connectionService) TotalUnreadFor(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"status":  models.ConnectionApproved,
			"deleted": false,
			"$or":     bson.A{bson.M{"buyer_id": userID}, bson.M{"seller_id": userID}},
		}}},
		{{Key: "$project", Value: bson.M{
			"unread": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$buyer_id", userID}},
				"$unread_by_buyer",
				"$unread_by_seller",
			}},
		}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$unread"}}}},
	}
	cursor, err := s.db.Collection(connectionsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate unread counts for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode unread counts for user %s: %w", userID.Hex(), err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// ListAll returns connections across all users, newest activity first.
// Admin oversight only.
func (s *connectionService) ListAll(ctx context.Context, status models.ConnectionStatus, limit, offset int64) ([]models.Connection, error) {
	filter := bson.M{"deleted": false}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if offset > 0 {
		opts.SetSkip(offset)
	}
	cursor, err := s.db.Collection(connectionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []models.Connection
	if err = cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return conns, nil
}

// CountByStatus aggregates connection counts per status for the admin
// analytics panel.
func (s *connectionService) CountByStatus(ctx context.Context) (map[models.ConnectionStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"deleted": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.db.Collection(connectionsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate connection counts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status models.ConnectionStatus `bson:"_id"`
		Count  int64                   `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode connection counts: %w", err)
	}

	counts := make(map[models.ConnectionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
