package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	testAppBinary     = "./eaglehurst_test_app"
	testAppPort       = "8089"
	testServicePort   = "8091"
	testServicePortBg = "8092"
	testDbName        = "eaglehurst_integration"
	testAppURL        = "http://localhost:" + testAppPort
	testServiceURL    = "http://localhost:" + testServicePort
	startupTimeout    = 15 * time.Second
	pingEndpoint      = testAppURL + "/v1/ping"
)

// serverUp records whether TestMain managed to start the stack; when
// MONGO_URI is absent every test skips instead of failing.
var serverUp bool

// TestMain builds the binary, starts one API process and one background
// worker, and tears both down after the tests.
func TestMain(m *testing.M) {
	godotenv.Load()
	if os.Getenv("MONGO_URI") == "" {
		log.Println("MONGO_URI not set, integration tests will be skipped")
		m.Run()
		return
	}

	defer func() { _ = os.Remove(testAppBinary) }()

	log.Println("Integration Test Setup: Building application...")
	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, out)
		os.Exit(1)
	}

	defer cleanupTestData()

	commonEnv := []string{
		"MONGO_DB_NAME=" + testDbName,
		"JWT_SECRET=integration-test-secret",
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"REDIS_ADDR=" + envOr("REDIS_ADDR", "localhost:6379"),
		"SMTP_FROM_ADDRESS=test@example.com",
		"SWEEP_INTERVAL_SECONDS=2",
	}

	apiCmd := exec.Command(testAppBinary, "-m", "api")
	apiCmd.Env = append(append(os.Environ(), commonEnv...),
		"API_PORT="+testAppPort,
		"SERVICE_API_PORT="+testServicePort,
	)
	apiCmd.Stderr = os.Stderr
	apiCmd.Stdout = os.Stdout
	if err := apiCmd.Start(); err != nil {
		log.Printf("Failed to start API process: %v", err)
		os.Exit(1)
	}

	bgCmd := exec.Command(testAppBinary, "-m", "bg")
	bgCmd.Env = append(append(os.Environ(), commonEnv...),
		"SERVICE_API_PORT="+testServicePortBg,
	)
	bgCmd.Stderr = os.Stderr
	bgCmd.Stdout = os.Stdout
	if err := bgCmd.Start(); err != nil {
		_ = apiCmd.Process.Kill()
		log.Printf("Failed to start background worker: %v", err)
		os.Exit(1)
	}

	defer func() {
		stopProcess("background worker", bgCmd)
		stopProcess("API process", apiCmd)
	}()

	start := time.Now()
	for time.Since(start) < startupTimeout {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "pong" {
				serverUp = true
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !serverUp {
		log.Printf("Application failed to start within %v", startupTimeout)
		os.Exit(1)
	}

	// Give the worker a moment to register with Redis.
	time.Sleep(2 * time.Second)

	m.Run()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func stopProcess(name string, cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_, _ = cmd.Process.Wait()
	log.Printf("Integration Test Teardown: %s stopped", name)
}

func cleanupTestData() {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Printf("Cleanup: failed to connect to MongoDB: %v", err)
		return
	}
	defer client.Disconnect(ctx)
	if err := client.Database(testDbName).Drop(ctx); err != nil {
		log.Printf("Cleanup: failed to drop %s: %v", testDbName, err)
	}
}

func requireServer(t *testing.T) {
	t.Helper()
	if !serverUp {
		t.Skip("integration server not running (MONGO_URI not set)")
	}
}

// apiRequest performs a JSON request against the running API and
// decodes the response body when there is one.
func apiRequest(t *testing.T, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, testAppURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

// getTestEmail fetches a mock email stored in Redis via the service
// API, retrying while the background worker delivers it.
func getTestEmail(t *testing.T, category, emailAddr string) map[string]interface{} {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"method":    "getTestEmail",
		"arguments": []string{category, emailAddr},
	})
	require.NoError(t, err)

	var lastStatus int
	for i := 0; i < 20; i++ {
		resp, err := http.Post(testServiceURL+"/api", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode
		if resp.StatusCode == http.StatusOK {
			var result struct {
				Data map[string]interface{} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(raw, &result))
			return result.Data
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("test email %s for %s never arrived (last status %d)", category, emailAddr, lastStatus)
	return nil
}

var actionIDRe = regexp.MustCompile(`/verify-email/([0-9a-f]{24})`)
var resetIDRe = regexp.MustCompile(`/reset-password/([0-9a-f]{24})`)

// registerVerifiedUser registers an account, completes email
// verification through the emailed action link, and returns the token.
func registerVerifiedUser(t *testing.T, name, emailAddr, password, role string) string {
	t.Helper()

	status, body := apiRequest(t, http.MethodPost, "/v1/auth/register", map[string]string{
		"name": name, "email": emailAddr, "password": password, "role": role,
	}, "")
	require.Equal(t, http.StatusCreated, status, "register failed: %v", body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	emailData := getTestEmail(t, "verify_email", emailAddr)
	emailBody, _ := emailData["body"].(string)
	match := actionIDRe.FindStringSubmatch(emailBody)
	require.Len(t, match, 2, "no action link in verification email: %s", emailBody)

	status, body = apiRequest(t, http.MethodPost, "/v1/auth/verify-email/"+match[1], nil, "")
	require.Equal(t, http.StatusOK, status, "verification failed: %v", body)

	return token
}

// grantSubscription writes an active subscription straight into the
// user document; paying through PayPal is out of reach for the suite.
func grantSubscription(t *testing.T, emailAddr string) {
	t.Helper()
	expires := time.Now().Add(30 * 24 * time.Hour)
	updateUser(t, emailAddr, bson.M{"$set": bson.M{"subscription": bson.M{
		"status":       "active",
		"started_at":   time.Now(),
		"expires_at":   expires,
		"is_cancelled": false,
	}}})
}

// approveSeller marks the seller's business verification approved.
func approveSeller(t *testing.T, emailAddr string) {
	t.Helper()
	updateUser(t, emailAddr, bson.M{"$set": bson.M{"seller_profile": bson.M{
		"practice_name":       "Test Practice",
		"registration_number": "REG-123",
		"verification_status": "approved",
		"documents":           bson.A{},
		"submitted_at":        time.Now(),
	}}})
}

func updateUser(t *testing.T, emailAddr string, update bson.M) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(os.Getenv("MONGO_URI")))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	res, err := client.Database(testDbName).Collection("users").
		UpdateOne(ctx, bson.M{"email": emailAddr}, update)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.MatchedCount)
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

func TestIntegrationPing(t *testing.T) {
	requireServer(t)
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestIntegrationPublicConfig(t *testing.T) {
	requireServer(t)
	status, body := apiRequest(t, http.MethodGet, "/v1/config", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "message_poll_interval_seconds")
	assert.Contains(t, body, "max_message_length")
}

func TestIntegrationRegisterVerifyLogin(t *testing.T) {
	requireServer(t)
	emailAddr := uniqueEmail("verify")
	registerVerifiedUser(t, "Verify Flow", emailAddr, "s3cret-pass", "buyer")

	status, body := apiRequest(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": emailAddr, "password": "s3cret-pass",
	}, "")
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	status, body = apiRequest(t, http.MethodGet, "/v1/auth/me", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["email_verified"])
}

func TestIntegrationPasswordReset(t *testing.T) {
	requireServer(t)
	emailAddr := uniqueEmail("reset")
	registerVerifiedUser(t, "Reset Flow", emailAddr, "original-pass", "buyer")

	status, _ := apiRequest(t, http.MethodPost, "/v1/auth/password-reset", map[string]string{"email": emailAddr}, "")
	require.Equal(t, http.StatusAccepted, status)

	emailData := getTestEmail(t, "password_reset", emailAddr)
	emailBody, _ := emailData["body"].(string)
	match := resetIDRe.FindStringSubmatch(emailBody)
	require.Len(t, match, 2, "no reset link in email: %s", emailBody)

	status, _ = apiRequest(t, http.MethodPost, "/v1/auth/password-reset/"+match[1],
		map[string]string{"password": "brand-new-pass"}, "")
	require.Equal(t, http.StatusNoContent, status)

	status, _ = apiRequest(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": emailAddr, "password": "original-pass",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = apiRequest(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": emailAddr, "password": "brand-new-pass",
	}, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestIntegrationGateBlocksUnsubscribed(t *testing.T) {
	requireServer(t)
	emailAddr := uniqueEmail("gated")
	token := registerVerifiedUser(t, "Gated Buyer", emailAddr, "s3cret-pass", "buyer")

	status, body := apiRequest(t, http.MethodGet, "/v1/connections", nil, token)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "/subscriptions", body["redirect"])

	grantSubscription(t, emailAddr)
	status, _ = apiRequest(t, http.MethodGet, "/v1/connections", nil, token)
	assert.Equal(t, http.StatusOK, status)
}

// The full marketplace round trip: a verified, subscribed seller lists
// a practice; a subscribed buyer requests a connection; the seller
// approves; the two exchange messages.
func TestIntegrationConnectionLifecycle(t *testing.T) {
	requireServer(t)

	sellerEmail := uniqueEmail("seller")
	sellerToken := registerVerifiedUser(t, "Dr Seller", sellerEmail, "s3cret-pass", "seller")
	grantSubscription(t, sellerEmail)
	approveSeller(t, sellerEmail)

	buyerEmail := uniqueEmail("buyer")
	buyerToken := registerVerifiedUser(t, "Dr Buyer", buyerEmail, "s3cret-pass", "buyer")
	grantSubscription(t, buyerEmail)

	// Seller creates and publishes a listing.
	status, listing := apiRequest(t, http.MethodPost, "/v1/listings", map[string]interface{}{
		"title":        "General practice, Ballarat",
		"specialty":    "general_practice",
		"state":        "VIC",
		"asking_price": map[string]interface{}{"value": 450000.0, "currency_code": "AUD"},
	}, sellerToken)
	require.Equal(t, http.StatusCreated, status, "listing create failed: %v", listing)
	listingID, _ := listing["id"].(string)
	require.NotEmpty(t, listingID)

	status, _ = apiRequest(t, http.MethodPost, "/v1/listings/"+listingID+"/publish", nil, sellerToken)
	require.Equal(t, http.StatusNoContent, status)

	// Published listing is publicly searchable.
	status, results := apiRequest(t, http.MethodGet, "/v1/listings?specialty=general_practice&state=VIC", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, results["listings"])

	// Buyer requests a connection.
	status, conn := apiRequest(t, http.MethodPost, "/v1/connections", map[string]interface{}{
		"listing_id":      listingID,
		"initial_message": "Interested in your practice.",
	}, buyerToken)
	require.Equal(t, http.StatusCreated, status, "connection request failed: %v", conn)
	connID, _ := conn["id"].(string)
	require.NotEmpty(t, connID)
	assert.Equal(t, "pending", conn["status"])

	// Buyer cannot message before approval.
	status, _ = apiRequest(t, http.MethodPost, "/v1/connections/"+connID+"/messages",
		map[string]string{"content": "hello?"}, buyerToken)
	assert.Equal(t, http.StatusForbidden, status)

	// The buyer is not the decider.
	approve := true
	status, _ = apiRequest(t, http.MethodPut, "/v1/connections/"+connID+"/status",
		map[string]interface{}{"approve": &approve}, buyerToken)
	assert.Equal(t, http.StatusForbidden, status)

	// Seller sees it pending decision and approves.
	status, pending := apiRequest(t, http.MethodGet, "/v1/connections?pending_decision=true", nil, sellerToken)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, pending["connections"])

	status, decided := apiRequest(t, http.MethodPut, "/v1/connections/"+connID+"/status",
		map[string]interface{}{"approve": &approve, "response_message": "Happy to talk."}, sellerToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", decided["status"])

	// A second decision must not go through.
	reject := false
	status, _ = apiRequest(t, http.MethodPut, "/v1/connections/"+connID+"/status",
		map[string]interface{}{"approve": &reject}, sellerToken)
	assert.Equal(t, http.StatusConflict, status)

	// Messaging now works both ways.
	status, _ = apiRequest(t, http.MethodPost, "/v1/connections/"+connID+"/messages",
		map[string]string{"content": "What are the practice hours?"}, buyerToken)
	require.Equal(t, http.StatusCreated, status)
	status, _ = apiRequest(t, http.MethodPost, "/v1/connections/"+connID+"/messages",
		map[string]string{"content": "Mon-Fri, 8am to 6pm."}, sellerToken)
	require.Equal(t, http.StatusCreated, status)

	// The seller's unread badge counts the buyer's message.
	status, unread := apiRequest(t, http.MethodGet, "/v1/connections/unread", nil, sellerToken)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, unread["unread"])

	status, msgs := apiRequest(t, http.MethodGet, "/v1/connections/"+connID+"/messages", nil, buyerToken)
	require.Equal(t, http.StatusOK, status)
	messages, _ := msgs["messages"].([]interface{})
	assert.Len(t, messages, 2)

	status, _ = apiRequest(t, http.MethodPost, "/v1/connections/"+connID+"/messages/read", nil, sellerToken)
	require.Equal(t, http.StatusOK, status)
	status, unread = apiRequest(t, http.MethodGet, "/v1/connections/unread", nil, sellerToken)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, unread["unread"])
}

func TestIntegrationSellerWithoutKycBlockedFromListing(t *testing.T) {
	requireServer(t)
	sellerEmail := uniqueEmail("nokyc")
	token := registerVerifiedUser(t, "Unverified Seller", sellerEmail, "s3cret-pass", "seller")
	grantSubscription(t, sellerEmail)

	status, body := apiRequest(t, http.MethodPost, "/v1/listings", map[string]interface{}{
		"title": "Should not exist", "specialty": "dental", "state": "NSW",
	}, token)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "/seller/verification", body["redirect"])
}
