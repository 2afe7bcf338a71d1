package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrNetwork covers transport failures, timeouts and server-side
	// overload. Callers may retry later.
	ErrNetwork = errors.New("network unavailable")
)

// Client is an HTTP client for the inspection sync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Bootstrap types ---

// ReferenceItem is one checklist or template in a bootstrap response.
type ReferenceItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// ReferencePayload groups reference data by kind.
type ReferencePayload struct {
	Checklists []ReferenceItem `json:"checklists"`
	Templates  []ReferenceItem `json:"templates"`
}

// BootstrapResponse is the response from GET /v1/bootstrap.
type BootstrapResponse struct {
	AsOf      time.Time                `json:"as_of"`
	User      models.User              `json:"user"`
	Reference ReferencePayload         `json:"reference"`
	Reports   []models.ReportAggregate `json:"reports"`
}

// --- Upload types ---

// UploadRequest is the body for POST /v1/sync/upload.
type UploadRequest struct {
	DeviceID    string                   `json:"device_id"`
	SubmittedAt time.Time                `json:"submitted_at"`
	Reports     []models.ReportAggregate `json:"reports"`
}

// FailedReport is a report the server refused.
type FailedReport struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ConflictReport is a report whose base version is behind the server.
type ConflictReport struct {
	ID              string    `json:"id"`
	ServerUpdatedAt time.Time `json:"server_updated_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PhotoUpload is a time-limited authorisation to transfer one photo binary.
type PhotoUpload struct {
	ReportID  string            `json:"report_id"`
	PhotoID   string            `json:"photo_id"`
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// UploadResponse is the per-report outcome of an upload.
type UploadResponse struct {
	ServerTime   time.Time        `json:"server_time"`
	SyncedIDs    []string         `json:"synced_ids"`
	Failed       []FailedReport   `json:"failed,omitempty"`
	Conflicts    []ConflictReport `json:"conflicts,omitempty"`
	PhotoUploads []PhotoUpload    `json:"photo_uploads,omitempty"`
}

// PhotoTargetsRequest is the body for POST /v1/photos/upload-targets.
type PhotoTargetsRequest struct {
	PhotoIDs []string `json:"photo_ids"`
}

// PhotoTargetsResponse carries fresh photo upload authorisations.
type PhotoTargetsResponse struct {
	PhotoUploads []PhotoUpload `json:"photo_uploads"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Sync methods ---

// Bootstrap downloads reference data, the user identity and reports. A nil
// since requests everything; otherwise only reports changed after since.
func (c *Client) Bootstrap(ctx context.Context, since *time.Time) (*BootstrapResponse, error) {
	path := "/v1/bootstrap"
	if since != nil {
		params := url.Values{}
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
		path += "?" + params.Encode()
	}
	var resp BootstrapResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload submits report aggregates as a single batch.
func (c *Client) Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	if req.DeviceID == "" {
		req.DeviceID = c.DeviceID
	}
	var resp UploadResponse
	if err := c.do(ctx, "POST", "/v1/sync/upload", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchReport returns the server's authoritative aggregate for a report.
func (c *Client) FetchReport(ctx context.Context, id string) (*models.ReportAggregate, error) {
	var resp models.ReportAggregate
	if err := c.do(ctx, "GET", "/v1/reports/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestPhotoUploads asks for fresh upload authorisations.
func (c *Client) RequestPhotoUploads(ctx context.Context, photoIDs []string) ([]PhotoUpload, error) {
	var resp PhotoTargetsResponse
	if err := c.do(ctx, "POST", "/v1/photos/upload-targets", &PhotoTargetsRequest{PhotoIDs: photoIDs}, &resp); err != nil {
		return nil, err
	}
	return resp.PhotoUploads, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

func statusError(status int, body []byte) error {
	apiErr := apiError{Status: status}
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
		apiErr.Message = string(bytes.TrimSpace(body))
	}
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: HTTP %d: %w", ErrNetwork, status, &apiErr)
	default:
		return &apiErr
	}
}

// IsRetryable reports whether an error is worth retrying on a later cycle.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
