package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"eaglehurst/platform/internal/models"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"verify_email": {
		TemplateID: "verify_email",
		Locale:     "en-US",
		Subject:    "Verify your Eaglehurst account",
		Body:       "Welcome! Please click here to verify your email: /verify-email/{{.action_id}}",
	},
	"password_reset": {
		TemplateID: "password_reset",
		Locale:     "en-US",
		Subject:    "Reset your Eaglehurst password",
		Body:       "Click here to set a new password: /reset-password/{{.action_id}}. The link expires shortly.",
	},
	"new_connection": {
		TemplateID: "new_connection",
		Locale:     "en-US",
		Subject:    "New connection request",
		Body:       "{{.counterparty}} wants to connect about \"{{.listing_title}}\". Review it at /dashboard.",
	},
	"connection_decided": {
		TemplateID: "connection_decided",
		Locale:     "en-US",
		Subject:    "Your connection request was {{.decision}}",
		Body:       "Your request about \"{{.listing_title}}\" was {{.decision}}.",
	},
	"unread_digest": {
		TemplateID: "unread_digest",
		Locale:     "en-US",
		Subject:    "You have unread messages",
		Body:       "You have {{.unread_count}} unread messages waiting. Visit /dashboard to read them.",
	},
	"subscription_expiring": {
		TemplateID: "subscription_expiring",
		Locale:     "en-US",
		Subject:    "Your Eaglehurst subscription is ending",
		Body:       "Your subscription expires on {{.expires_at}}. Renew at /subscriptions to keep access.",
	},
	"listing_moderated": {
		TemplateID: "listing_moderated",
		Locale:     "en-US",
		Subject:    "Your listing was suspended",
		Body:       "Your listing \"{{.listing_title}}\" was suspended by moderation: {{.reason}}",
	},
	"verification_decided": {
		TemplateID: "verification_decided",
		Locale:     "en-US",
		Subject:    "Your seller verification was {{.decision}}",
		Body:       "Your business verification was {{.decision}}. {{.comments}}",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{db: db}
}

// GetTemplate retrieves an email template by ID and locale, falling
// back to the compiled-in defaults when the database has no override.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	filter := bson.M{"template_id": templateID, "locale": locale}

	var template models.EmailTemplate
	err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("email template %s (%s) not found", templateID, locale)
		}
		return nil, fmt.Errorf("error fetching email template %s (%s): %w", templateID, locale, err)
	}
	return &template, nil
}
