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
	// ErrNotOwner is returned when a seller acts on a listing they do
	// not own.
	ErrNotOwner = errors.New("listing does not belong to this user")

	// ErrListingSuspended is returned when an operation targets a
	// listing under an active moderation suspension.
	ErrListingSuspended = errors.New("listing is suspended by moderation")
)

// ListingSearch bundles the public search filters. Zero values mean
// "no constraint". Cursor is the _id of the last listing of the
// previous page.
type ListingSearch struct {
	Specialty string
	State     string
	PriceMin  float64
	PriceMax  float64
	Cursor    primitive.ObjectID
	Limit     int64
}

// IListingService manages practice listings and their moderation.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID primitive.ObjectID, draft *models.Listing) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, sellerID primitive.ObjectID, changes *models.Listing) error
	FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error)
	Publish(ctx context.Context, listingID, sellerID primitive.ObjectID) error
	SetHidden(ctx context.Context, listingID, sellerID primitive.ObjectID, hidden bool) error
	DeleteListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error
	AddImage(ctx context.Context, listingID, sellerID primitive.ObjectID, s3Key string) error
	ListBySeller(ctx context.Context, sellerID primitive.ObjectID) ([]models.Listing, error)
	Search(ctx context.Context, q ListingSearch) ([]models.Listing, error)
	SuspendListing(ctx context.Context, listingID, adminID primitive.ObjectID, reason string) (*models.ListingSuspension, error)
	UnsuspendListing(ctx context.Context, listingID primitive.ObjectID) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

const (
	listingsCollection           = "listings"
	listingSuspensionsCollection = "listing_suspensions"
)

type listingService struct {
	db *mongo.Database
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database) IListingService {
	return &listingService{db: db}
}

// CreateListing inserts a new draft owned by the seller. Listings are
// born as drafts; Publish makes them publicly searchable.
func (s *listingService) CreateListing(ctx context.Context, sellerID primitive.ObjectID, draft *models.Listing) (*models.Listing, error) {
	now := time.Now().UTC()
	listing := &models.Listing{
		UserID:        sellerID,
		Title:         draft.Title,
		Body:          draft.Body,
		Specialty:     draft.Specialty,
		City:          draft.City,
		State:         draft.State,
		AskingPrice:   draft.AskingPrice,
		AnnualRevenue: draft.AnnualRevenue,
		Images:        []string{},
		IsDraft:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(listingsCollection), listing); err != nil {
		return nil, fmt.Errorf("error inserting listing for seller %s: %w", sellerID.Hex(), err)
	}
	return listing, nil
}

// UpdateListing applies the seller's edits. Suspended listings cannot
// be edited until moderation lifts the suspension.
func (s *listingService) UpdateListing(ctx context.Context, listingID, sellerID primitive.ObjectID, changes *models.Listing) error {
	listing, err := s.findOwned(ctx, listingID, sellerID)
	if err != nil {
		return err
	}
	if listing.SuspensionID != nil {
		return ErrListingSuspended
	}

	set := bson.M{
		"title":      changes.Title,
		"body":       changes.Body,
		"specialty":  changes.Specialty,
		"city":       changes.City,
		"state":      changes.State,
		"updated_at": time.Now().UTC(),
	}
	if changes.AskingPrice != nil {
		set["asking_price"] = changes.AskingPrice
	}
	if changes.AnnualRevenue != nil {
		set["annual_revenue"] = changes.AnnualRevenue
	}
	return s.update(ctx, listingID, set)
}

// FindByID finds a non-deleted listing.
func (s *listingService) FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx,
		bson.M{"_id": listingID, "deleted": false}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID.Hex(), err)
	}
	return &listing, nil
}

// Publish takes a draft live, stamping published_at on the first
// publish only.
func (s *listingService) Publish(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	listing, err := s.findOwned(ctx, listingID, sellerID)
	if err != nil {
		return err
	}
	if listing.SuspensionID != nil {
		return ErrListingSuspended
	}

	set := bson.M{"is_draft": false, "updated_at": time.Now().UTC()}
	if listing.PublishedAt == nil {
		set["published_at"] = time.Now().UTC()
	}
	return s.update(ctx, listingID, set)
}

// SetHidden toggles the seller's own visibility switch. Hiding does not
// touch moderation state.
func (s *listingService) SetHidden(ctx context.Context, listingID, sellerID primitive.ObjectID, hidden bool) error {
	if _, err := s.findOwned(ctx, listingID, sellerID); err != nil {
		return err
	}
	return s.update(ctx, listingID, bson.M{"hidden": hidden, "updated_at": time.Now().UTC()})
}

// DeleteListing soft-deletes the seller's listing.
func (s *listingService) DeleteListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	if _, err := s.findOwned(ctx, listingID, sellerID); err != nil {
		return err
	}
	return s.update(ctx, listingID, bson.M{"deleted": true, "updated_at": time.Now().UTC()})
}

// AddImage appends a processed photo's S3 key.
func (s *listingService) AddImage(ctx context.Context, listingID, sellerID primitive.ObjectID, s3Key string) error {
	if _, err := s.findOwned(ctx, listingID, sellerID); err != nil {
		return err
	}
	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{
			"$push": bson.M{"images": s3Key},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("error adding image to listing %s: %w", listingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ListBySeller returns all of a seller's non-deleted listings,
// including drafts and hidden ones.
func (s *listingService) ListBySeller(ctx context.Context, sellerID primitive.ObjectID) ([]models.Listing, error) {
	cursor, err := s.db.Collection(listingsCollection).Find(ctx,
		bson.M{"user_id": sellerID, "deleted": false},
		findSorted(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query listings for seller %s: %w", sellerID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings for seller %s: %w", sellerID.Hex(), err)
	}
	return listings, nil
}

// Search runs the public listing search: published, visible,
// unsuspended listings only, filtered by specialty, state and asking
// price, paged by _id cursor.
func (s *listingService) Search(ctx context.Context, q ListingSearch) ([]models.Listing, error) {
	filter := bson.M{
		"deleted":    false,
		"is_draft":   false,
		"hidden":     false,
		"suspension": nil,
	}
	if q.Specialty != "" {
		filter["specialty"] = q.Specialty
	}
	if q.State != "" {
		filter["state"] = q.State
	}
	price := bson.M{}
	if q.PriceMin > 0 {
		price["$gte"] = q.PriceMin
	}
	if q.PriceMax > 0 {
		price["$lte"] = q.PriceMax
	}
	if len(price) > 0 {
		filter["asking_price.value"] = price
	}
	if !q.Cursor.IsZero() {
		filter["_id"] = bson.M{"$gt": q.Cursor}
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(limit)

	cursor, err := s.db.Collection(listingsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listing search results: %w", err)
	}
	return listings, nil
}

// SuspendListing records a moderation action and marks the listing. A
// suspended listing disappears from search and rejects seller edits.
func (s *listingService) SuspendListing(ctx context.Context, listingID, adminID primitive.ObjectID, reason string) (*models.ListingSuspension, error) {
	listing, err := s.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SuspensionID != nil {
		return nil, ErrListingSuspended
	}

	now := time.Now().UTC()
	susp := &models.ListingSuspension{
		ListingID:  listingID,
		AdminID:    adminID,
		Reason:     reason,
		ExecutedAt: &now,
		Suspended:  true,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(listingSuspensionsCollection), susp); err != nil {
		return nil, fmt.Errorf("error inserting suspension for listing %s: %w", listingID.Hex(), err)
	}

	suspID := susp.GetID()
	if err := s.update(ctx, listingID, bson.M{"suspension": suspID, "updated_at": now}); err != nil {
		return nil, err
	}
	return susp, nil
}

// UnsuspendListing lifts the active suspension.
func (s *listingService) UnsuspendListing(ctx context.Context, listingID primitive.ObjectID) error {
	listing, err := s.FindByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.SuspensionID == nil {
		return nil
	}

	_, err = s.db.Collection(listingSuspensionsCollection).UpdateOne(ctx,
		bson.M{"_id": *listing.SuspensionID},
		bson.M{"$set": bson.M{"suspended": false}})
	if err != nil {
		return fmt.Errorf("error closing suspension for listing %s: %w", listingID.Hex(), err)
	}
	return s.update(ctx, listingID, bson.M{"suspension": nil, "updated_at": time.Now().UTC()})
}

// CountByStatus aggregates listing counts for the admin analytics
// panel, keyed draft/published/hidden/suspended.
func (s *listingService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	collection := s.db.Collection(listingsCollection)
	counts := make(map[string]int64, 4)

	for key, filter := range map[string]bson.M{
		"draft":     {"deleted": false, "is_draft": true},
		"published": {"deleted": false, "is_draft": false},
		"hidden":    {"deleted": false, "hidden": true},
		"suspended": {"deleted": false, "suspension": bson.M{"$ne": nil}},
	} {
		n, err := collection.CountDocuments(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s listings: %w", key, err)
		}
		counts[key] = n
	}
	return counts, nil
}

func (s *listingService) findOwned(ctx context.Context, listingID, sellerID primitive.ObjectID) (*models.Listing, error) {
	listing, err := s.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != sellerID {
		return nil, ErrNotOwner
	}
	return listing, nil
}

func (s *listingService) update(ctx context.Context, listingID primitive.ObjectID, set bson.M) error {
	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("error updating listing %s: %w", listingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
