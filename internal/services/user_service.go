package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/auth"
	"eaglehurst/platform/internal/db"
	"eaglehurst/platform/internal/models"
)

// ErrEmailExists is returned when an attempt is made to use an email that already exists.
var ErrEmailExists = errors.New("email already in use by another account")

// ErrUserSuspended is returned when a suspended account attempts to authenticate.
var ErrUserSuspended = errors.New("account is suspended")

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, userID primitive.ObjectID) error
	SetPassword(ctx context.Context, userID primitive.ObjectID, password string) error
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, name string, prefs *models.NotificationPreferences) error
	SuspendUser(ctx context.Context, userID primitive.ObjectID) error
	UnsuspendUser(ctx context.Context, userID primitive.ObjectID) error
	SubmitSellerProfile(ctx context.Context, userID primitive.ObjectID, practiceName, registrationNumber string, docs []models.VerificationDocument) error
	ReviewSellerVerification(ctx context.Context, userID primitive.ObjectID, approve bool, comments string) error
	ListPendingSellerVerifications(ctx context.Context) ([]models.User, error)
	ListUsers(ctx context.Context, role models.Role, limit, offset int64) ([]models.User, error)
	CountUsersByRole(ctx context.Context) (map[models.Role]int64, error)
	DeleteUser(ctx context.Context, userID primitive.ObjectID) error
}

const usersCollection = "users"

// userService implements IUserService.
type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

// Register creates a new account with a verified-pending email. Sellers
// start without a seller profile; they submit KYC separately.
func (s *userService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	collection := s.db.Collection(usersCollection)

	if !role.Valid() || role == models.RoleAdmin {
		return nil, fmt.Errorf("role %q cannot self-register", role)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	count, err := collection.CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("error checking email uniqueness for %s: %w", email, err)
	}
	if count > 0 {
		return nil, ErrEmailExists
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password for %s: %w", email, err)
	}

	now := time.Now().UTC()
	user := &models.User{
		Name:          name,
		Email:         email,
		PasswordHash:  hashed,
		Role:          role,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
		NotificationPreferences: &models.NotificationPreferences{
			NewConnection:    true,
			NewMessage:       true,
			SubscriptionEnds: true,
			ListingModerated: true,
		},
	}

	if _, err := db.InsertOne(ctx, collection, user); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "email_1") {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("error inserting user for %s: %w", email, err)
	}
	return user, nil
}

// FindByEmail finds a non-deleted user by their email address.
// Returns mongo.ErrNoDocuments when no such user exists.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	filter := bson.M{"email": strings.ToLower(strings.TrimSpace(email)), "deleted": false}
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// FindByID finds a non-deleted user by their ID.
func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// Authenticate verifies the email/password pair. Suspended accounts are
// rejected even with correct credentials.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, mongo.ErrNoDocuments
	}
	if user.Suspended {
		return nil, ErrUserSuspended
	}
	return user, nil
}

// MarkEmailVerified flips the email_verified flag.
func (s *userService) MarkEmailVerified(ctx context.Context, userID primitive.ObjectID) error {
	return s.updateUser(ctx, userID, bson.M{"email_verified": true})
}

// SetPassword replaces the stored password hash.
func (s *userService) SetPassword(ctx context.Context, userID primitive.ObjectID, password string) error {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password for user %s: %w", userID.Hex(), err)
	}
	return s.updateUser(ctx, userID, bson.M{"password": hashed})
}

// UpdateProfile updates the mutable profile fields. A nil prefs leaves
// notification preferences untouched.
func (s *userService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, name string, prefs *models.NotificationPreferences) error {
	set := bson.M{}
	if name != "" {
		set["name"] = name
	}
	if prefs != nil {
		set["notification_preferences"] = prefs
	}
	if len(set) == 0 {
		return nil
	}
	return s.updateUser(ctx, userID, set)
}

// SuspendUser blocks the account from authenticating.
func (s *userService) SuspendUser(ctx context.Context, userID primitive.ObjectID) error {
	return s.updateUser(ctx, userID, bson.M{"suspended": true})
}

// UnsuspendUser lifts a suspension.
func (s *userService) UnsuspendUser(ctx context.Context, userID primitive.ObjectID) error {
	return s.updateUser(ctx, userID, bson.M{"suspended": false})
}

// SubmitSellerProfile records the seller's business identity and queues
// it for admin review. Resubmission after a rejection resets the status
// to pending and clears the previous review.
func (s *userService) SubmitSellerProfile(ctx context.Context, userID primitive.ObjectID, practiceName, registrationNumber string, docs []models.VerificationDocument) error {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != models.RoleSeller {
		return fmt.Errorf("user %s is not a seller", userID.Hex())
	}
	if user.SellerProfile != nil && user.SellerProfile.VerificationStatus == models.VerificationApproved {
		return fmt.Errorf("seller %s is already verified", userID.Hex())
	}

	profile := models.SellerProfile{
		PracticeName:       practiceName,
		RegistrationNumber: registrationNumber,
		VerificationStatus: models.VerificationPending,
		Documents:          docs,
		SubmittedAt:        time.Now().UTC(),
	}
	return s.updateUser(ctx, userID, bson.M{"seller_profile": profile})
}

// ReviewSellerVerification records an admin decision on a pending
// seller profile. Only pending profiles may be decided.
func (s *userService) ReviewSellerVerification(ctx context.Context, userID primitive.ObjectID, approve bool, comments string) error {
	status := models.VerificationRejected
	if approve {
		status = models.VerificationApproved
	}
	now := time.Now().UTC()
	filter := bson.M{
		"_id":                                userID,
		"deleted":                            false,
		"seller_profile.verification_status": models.VerificationPending,
	}
	update := bson.M{"$set": bson.M{
		"seller_profile.verification_status": status,
		"seller_profile.reviewed_at":         now,
		"seller_profile.review_comments":     comments,
		"updated_at":                         now,
	}}
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error reviewing seller verification for %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ListPendingSellerVerifications returns sellers awaiting KYC review,
// oldest submission first.
func (s *userService) ListPendingSellerVerifications(ctx context.Context) ([]models.User, error) {
	filter := bson.M{
		"deleted":                            false,
		"seller_profile.verification_status": models.VerificationPending,
	}
	cursor, err := s.db.Collection(usersCollection).Find(ctx, filter, findSorted(bson.D{{Key: "seller_profile.submitted_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending seller verifications: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode pending seller verifications: %w", err)
	}
	return users, nil
}

// ListUsers pages through non-deleted accounts, optionally filtered by
// role. An empty role matches everyone.
func (s *userService) ListUsers(ctx context.Context, role models.Role, limit, offset int64) ([]models.User, error) {
	filter := bson.M{"deleted": false}
	if role != "" {
		filter["role"] = role
	}
	opts := findSorted(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	opts.SetSkip(offset)

	cursor, err := s.db.Collection(usersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// CountUsersByRole aggregates active account counts per role for the
// admin analytics panel.
func (s *userService) CountUsersByRole(ctx context.Context) (map[models.Role]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"deleted": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$role", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.db.Collection(usersCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate user counts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Role  models.Role `bson:"_id"`
		Count int64       `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode user counts: %w", err)
	}

	counts := make(map[models.Role]int64, len(rows))
	for _, row := range rows {
		counts[row.Role] = row.Count
	}
	return counts, nil
}

// DeleteUser soft-deletes an account.
func (s *userService) DeleteUser(ctx context.Context, userID primitive.ObjectID) error {
	return s.updateUser(ctx, userID, bson.M{"deleted": true})
}

func (s *userService) updateUser(ctx context.Context, userID primitive.ObjectID, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("error updating user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
