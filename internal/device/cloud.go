package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/fault"
)

const (
	// DefaultAuthURL is the vendor's token service.
	DefaultAuthURL = "https://webapp-prod.cloud.remarkable.engineering"

	// DefaultSyncURL is the vendor's document service.
	DefaultSyncURL = "https://internal.cloud.remarkable.com"

	defaultDeviceDesc = "desktop-linux"
	defaultTimeout    = 60 * time.Second

	// maxTokenSize bounds the token bodies read from the cloud.
	maxTokenSize = 64 * 1024
)

// CloudConfig holds the configuration for creating a Cloud client.
type CloudConfig struct {
	AuthURL           string
	SyncURL           string
	DeviceDescription string
	Timeout           time.Duration
	UserTokenTTL      time.Duration
}

// Cloud is the production API implementation backed by the vendor's HTTP
// endpoints. It never retries; callers decide what to do with a failure.
type Cloud struct {
	authURL    string
	syncURL    string
	deviceDesc string
	httpClient *http.Client
	tokens     *userTokenCache
}

// NewCloud creates a Cloud client with the given configuration. Empty
// fields fall back to the vendor defaults.
func NewCloud(cfg CloudConfig) *Cloud {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return newCloudWithClient(cfg, &http.Client{Timeout: timeout})
}

// newCloudWithClient creates a Cloud client with a custom HTTP client,
// used for testing.
func newCloudWithClient(cfg CloudConfig, client *http.Client) *Cloud {
	c := &Cloud{
		authURL:    strings.TrimRight(orDefault(cfg.AuthURL, DefaultAuthURL), "/"),
		syncURL:    strings.TrimRight(orDefault(cfg.SyncURL, DefaultSyncURL), "/"),
		deviceDesc: orDefault(cfg.DeviceDescription, defaultDeviceDesc),
		httpClient: client,
	}
	c.tokens = newUserTokenCache(cfg.UserTokenTTL, c.fetchUserToken)
	return c
}

// Register exchanges a one-time code for a device token.
func (c *Cloud) Register(ctx context.Context, code string) (string, error) {
	return c.exchangeCode(ctx, code)
}

// Reconnect exchanges a one-time code for a replacement device token. The
// cloud treats it as a fresh pairing.
func (c *Cloud) Reconnect(ctx context.Context, code string) (string, error) {
	return c.exchangeCode(ctx, code)
}

// Upload sends doc to the device behind deviceToken.
func (c *Cloud) Upload(ctx context.Context, deviceToken string, doc email.Document) error {
	contentType := doc.Kind.ContentType()
	if contentType == "" {
		return fault.New(fault.UnsupportedDocumentKind, "cannot upload %q documents", doc.Kind)
	}

	userToken, err := c.tokens.Token(ctx, deviceToken)
	if err != nil {
		return fmt.Errorf("failed to obtain user token: %w", err)
	}

	meta, err := json.Marshal(uploadMeta{FileName: doc.Filename})
	if err != nil {
		return fmt.Errorf("failed to marshal upload metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.syncURL+"/doc/v2/files", bytes.NewReader(doc.Content))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("rm-meta", base64.StdEncoding.EncodeToString(meta))
	req.Header.Set("rm-source", "WebLibrary")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var out uploadResponse
		if err := json.Unmarshal(body, &out); err == nil && out.DocID != "" {
			slog.Debug("document uploaded",
				"filename", doc.Filename,
				"doc_id", out.DocID,
			)
		}
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(deviceToken)
	}
	return parseAPIError(resp.StatusCode, body)
}

// exchangeCode performs the one-time code exchange shared by Register and
// Reconnect. Any 4xx answer means the cloud rejected the code.
func (c *Cloud) exchangeCode(ctx context.Context, code string) (string, error) {
	payload, err := json.Marshal(deviceTokenRequest{
		Code:       code,
		DeviceDesc: c.deviceDesc,
		DeviceID:   uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/token/json/2/device/new", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		token := strings.TrimSpace(string(body))
		if token == "" {
			return "", fmt.Errorf("token response is empty")
		}
		return token, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fault.Wrap(fault.InvalidOneTimeCode, parseAPIError(resp.StatusCode, body), "one-time code was rejected")
	default:
		return "", parseAPIError(resp.StatusCode, body)
	}
}

// fetchUserToken trades a device token for a short-lived user token.
func (c *Cloud) fetchUserToken(ctx context.Context, deviceToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/token/json/2/user/new", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create user token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+deviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("user token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("failed to read user token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, body)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("user token response is empty")
	}
	return token, nil
}

// parseAPIError builds an APIError from a response body that may or may not
// be JSON.
func parseAPIError(status int, body []byte) *APIError {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &APIError{StatusCode: status, Code: errResp.Code, Message: errResp.Message}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
