package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/email"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/services"
)

// Task type identifiers.
const (
	TypeEmailDelivery     = "email:deliver"
	TypeConnectionNotify  = "connection:notify"
	TypeImageProcess      = "image:process"
	TypeSubscriptionSweep = "subscription:sweep"
	TypeUnreadDigest      = "message:unread_digest"
)

// Queue names, in priority order.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueImages   = "images"
	QueueLow      = "low"
)

// EmailDeliveryPayload is the payload for TypeEmailDelivery tasks.
type EmailDeliveryPayload struct {
	UserID     primitive.ObjectID `json:"user_id"`
	Email      string             `json:"email"`
	TemplateID string             `json:"template_id"`
	Data       map[string]string  `json:"data,omitempty"`
}

// ConnectionNotificationPayload is the payload for TypeConnectionNotify
// tasks. The handler loads the connection and recipient fresh so that a
// retried task never emails stale state.
type ConnectionNotificationPayload struct {
	ConnectionID primitive.ObjectID `json:"connection_id"`
	RecipientID  primitive.ObjectID `json:"recipient_id"`
	TemplateID   string             `json:"template_id"`
}

// ImageProcessPayload is the payload for TypeImageProcess tasks.
// SourceKey is the raw upload; the processed image is written next to it
// and attached to the listing.
type ImageProcessPayload struct {
	ListingID primitive.ObjectID `json:"listing_id"`
	SellerID  primitive.ObjectID `json:"seller_id"`
	SourceKey string             `json:"source_key"`
}

// IClient is the enqueue-side interface handlers and the scheduler use.
type IClient interface {
	EnqueueEmailDelivery(ctx context.Context, payload EmailDeliveryPayload) error
	EnqueueConnectionNotification(ctx context.Context, payload ConnectionNotificationPayload) error
	EnqueueImageProcess(ctx context.Context, payload ImageProcessPayload) error
	EnqueueSubscriptionSweep(ctx context.Context) error
	EnqueueUnreadDigest(ctx context.Context) error
	Close() error
}

// Client implements IClient on top of asynq.
type Client struct {
	asynq *asynq.Client
}

// NewClient creates a task client sharing the connection details of an
// existing Redis client.
func NewClient(rdb *redis.Client) *Client {
	opts := rdb.Options()
	return &Client{
		asynq: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.asynq.Close()
}

// EnqueueEmailDelivery queues a templated email. Emails carry account
// actions (verification links, password resets), so they go to the
// critical queue.
func (c *Client) EnqueueEmailDelivery(ctx context.Context, payload EmailDeliveryPayload) error {
	return c.enqueue(ctx, TypeEmailDelivery, payload,
		asynq.Queue(QueueCritical), asynq.MaxRetry(5))
}

// EnqueueConnectionNotification queues a notification email about a
// connection event for its recipient.
func (c *Client) EnqueueConnectionNotification(ctx context.Context, payload ConnectionNotificationPayload) error {
	return c.enqueue(ctx, TypeConnectionNotify, payload,
		asynq.Queue(QueueDefault), asynq.MaxRetry(5))
}

// EnqueueImageProcess queues resize-and-attach processing for an
// uploaded listing photo. The task is delayed because it is enqueued at
// presign time, before the browser has finished the S3 PUT; retries
// cover slow uploads.
func (c *Client) EnqueueImageProcess(ctx context.Context, payload ImageProcessPayload) error {
	return c.enqueue(ctx, TypeImageProcess, payload,
		asynq.Queue(QueueImages), asynq.MaxRetry(10),
		asynq.ProcessIn(30*time.Second), asynq.Timeout(2*time.Minute))
}

// EnqueueSubscriptionSweep queues one pass of the subscription expiry
// sweep. Fired on a fixed interval by the poll scheduler.
func (c *Client) EnqueueSubscriptionSweep(ctx context.Context) error {
	task := asynq.NewTask(TypeSubscriptionSweep, nil)
	_, err := c.asynq.EnqueueContext(ctx, task, asynq.Queue(QueueLow), asynq.MaxRetry(1))
	return err
}

// EnqueueUnreadDigest queues one pass of the unread-message digest.
func (c *Client) EnqueueUnreadDigest(ctx context.Context) error {
	task := asynq.NewTask(TypeUnreadDigest, nil)
	_, err := c.asynq.EnqueueContext(ctx, task, asynq.Queue(QueueLow), asynq.MaxRetry(1))
	return err
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	info, err := c.asynq.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	log.Printf("Enqueued task %s id=%s queue=%s", taskType, info.ID, info.Queue)
	return nil
}

// ObjectStore is the slice of the storage layer the image task needs.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// TaskProcessor holds the dependencies for background task handlers.
type TaskProcessor struct {
	cfg           *config.Config
	emailSender   email.Sender
	templates     services.IEmailTemplateService
	users         services.IUserService
	listings      services.IListingService
	connections   services.IConnectionService
	subscriptions services.ISubscriptionService
	store         ObjectStore
}

// NewTaskProcessor creates a new TaskProcessor.
func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	templates services.IEmailTemplateService,
	users services.IUserService,
	listings services.IListingService,
	connections services.IConnectionService,
	subscriptions services.ISubscriptionService,
	store ObjectStore,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:           cfg,
		emailSender:   emailSender,
		templates:     templates,
		users:         users,
		listings:      listings,
		connections:   connections,
		subscriptions: subscriptions,
		store:         store,
	}
}

// SetupServer creates the asynq server and registers all task handlers.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	opts := rdb.Options()
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueImages:   5,
				QueueDefault:  3,
				QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task %s failed: %v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
	mux.HandleFunc(TypeConnectionNotify, processor.HandleConnectionNotificationTask)
	mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	mux.HandleFunc(TypeSubscriptionSweep, processor.HandleSubscriptionSweepTask)
	mux.HandleFunc(TypeUnreadDigest, processor.HandleUnreadDigestTask)

	return server, mux
}

// HandleEmailDeliveryTask renders a template and sends it to one user.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailDeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid email delivery payload: %w", asynq.SkipRetry)
	}

	user, err := p.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", payload.UserID.Hex(), err)
	}
	if user.Suspended {
		log.Printf("Skipping email %s to suspended user %s", payload.TemplateID, user.GetID().Hex())
		return nil
	}

	to := payload.Email
	if to == "" {
		to = user.Email
	}
	return p.sendTemplate(ctx, user, to, payload.TemplateID, payload.Data)
}

// HandleConnectionNotificationTask emails a connection participant about
// a new request or a decision, honouring their notification preferences.
func (p *TaskProcessor) HandleConnectionNotificationTask(ctx context.Context, t *asynq.Task) error {
	var payload ConnectionNotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid connection notification payload: %w", asynq.SkipRetry)
	}

	conn, err := p.connections.FindByID(ctx, payload.ConnectionID)
	if err != nil {
		return fmt.Errorf("failed to load connection %s: %w", payload.ConnectionID.Hex(), err)
	}
	recipient, err := p.users.FindByID(ctx, payload.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load recipient %s: %w", payload.RecipientID.Hex(), err)
	}
	// Absent preferences mean the account predates the setting; default
	// to sending.
	if prefs := recipient.NotificationPreferences; prefs != nil && !prefs.NewConnection {
		return nil
	}

	data := map[string]string{
		"connection_id": conn.GetID().Hex(),
		"decision":      string(conn.Status),
	}
	if listing, err := p.listings.FindByID(ctx, conn.ListingID); err == nil {
		data["listing_title"] = listing.Title
	}
	if other, err := p.users.FindByID(ctx, conn.OtherParty(payload.RecipientID)); err == nil {
		data["counterparty"] = other.Name
	}
	if conn.ResponseMessage != "" {
		data["response_message"] = conn.ResponseMessage
	}
	return p.sendTemplate(ctx, recipient, recipient.Email, payload.TemplateID, data)
}

// HandleImageProcessTask downloads a raw listing photo, bounds it to the
// configured dimensions, re-encodes as JPEG and attaches it.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid image process payload: %w", asynq.SkipRetry)
	}

	// The upload may still be in flight; a plain error here lets asynq
	// retry until the object appears or retries run out.
	raw, err := p.store.Download(ctx, payload.SourceKey)
	if err != nil {
		return fmt.Errorf("source object %s not available: %w", payload.SourceKey, err)
	}

	maxBytes := p.cfg.UploadMaxSizeMB * 1024 * 1024
	if len(raw) > maxBytes {
		return fmt.Errorf("upload %s exceeds %dMB limit: %w", payload.SourceKey, p.cfg.UploadMaxSizeMB, asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", payload.SourceKey, asynq.SkipRetry)
	}
	log.Printf("Processing %s image %s for listing %s", format, payload.SourceKey, payload.ListingID.Hex())

	maxDim := uint(p.cfg.ImageMaxDimension)
	resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to encode %s: %w", payload.SourceKey, err)
	}

	processedKey := strings.Replace(payload.SourceKey, "/raw/", "/", 1) + ".jpg"
	if err := p.store.Upload(ctx, processedKey, "image/jpeg", buf.Bytes()); err != nil {
		return fmt.Errorf("failed to store processed image %s: %w", processedKey, err)
	}

	if err := p.listings.AddImage(ctx, payload.ListingID, payload.SellerID, processedKey); err != nil {
		return fmt.Errorf("failed to attach image to listing %s: %w", payload.ListingID.Hex(), err)
	}
	return nil
}

// HandleSubscriptionSweepTask expires subscriptions whose paid period
// has lapsed.
func (p *TaskProcessor) HandleSubscriptionSweepTask(ctx context.Context, t *asynq.Task) error {
	n, err := p.subscriptions.ExpireLapsed(ctx)
	if err != nil {
		return fmt.Errorf("subscription sweep failed: %w", err)
	}
	if n > 0 {
		log.Printf("Subscription sweep expired %d subscriptions", n)
	}
	return nil
}

// HandleUnreadDigestTask emails each user who has unread messages on
// approved connections and wants message notifications.
func (p *TaskProcessor) HandleUnreadDigestTask(ctx context.Context, t *asynq.Task) error {
	users, err := p.users.ListUsers(ctx, "", 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list users for digest: %w", err)
	}

	for i := range users {
		user := &users[i]
		if user.Suspended {
			continue
		}
		if prefs := user.NotificationPreferences; prefs != nil && !prefs.NewMessage {
			continue
		}
		unread, err := p.connections.TotalUnreadFor(ctx, user.GetID())
		if err != nil {
			log.Printf("Digest: failed to count unread for %s: %v", user.GetID().Hex(), err)
			continue
		}
		if unread == 0 {
			continue
		}
		data := map[string]string{"unread_count": strconv.FormatInt(unread, 10)}
		if err := p.sendTemplate(ctx, user, user.Email, "unread_digest", data); err != nil {
			log.Printf("Digest: failed to email %s: %v", user.GetID().Hex(), err)
		}
	}
	return nil
}

// sendTemplate renders the template with the user's locale-neutral
// defaults merged into data and hands the raw message to the sender.
func (p *TaskProcessor) sendTemplate(ctx context.Context, user *models.User, to, templateID string, data map[string]string) error {
	tmpl, err := p.templates.GetTemplate(ctx, templateID, "en")
	if err != nil {
		return fmt.Errorf("template %s not found: %w", templateID, asynq.SkipRetry)
	}

	merged := map[string]string{
		"name":         user.Name,
		"app_name":     p.cfg.AppName,
		"frontend_url": p.cfg.FrontendURL,
	}
	for k, v := range data {
		merged[k] = v
	}

	subject := tmpl.Subject
	body := tmpl.Body
	for k, v := range merged {
		placeholder := "{{." + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", p.cfg.AppName, p.cfg.SmtpFromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := p.emailSender.Send(ctx, []string{to}, subject, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send %s email to %s: %w", templateID, to, err)
	}
	return nil
}
