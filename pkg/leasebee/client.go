// Package leasebee is a client for the LeaseBee extraction and review API.
package leasebee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/resilience"
)

// DefaultBaseURL is the address of a locally running API server.
const DefaultBaseURL = "http://localhost:8000"

// Client defines the LeaseBee API operations used by the review tooling.
type Client interface {
	GetLease(ctx context.Context, leaseID int64) (*model.Lease, error)
	ListExtractions(ctx context.Context, leaseID int64) ([]model.Extraction, error)
	GetLatestExtraction(ctx context.Context, leaseID int64) (*model.Extraction, error)
	GetFieldSchema(ctx context.Context) (*model.FieldSchema, error)
	GetProgress(ctx context.Context, operationID string) (*model.ProgressDetail, error)
	StartExtraction(ctx context.Context, leaseID int64) (*model.Extraction, error)
	SubmitCorrection(ctx context.Context, extractionID int64, c model.Correction) (*model.FieldCorrection, error)
	ListCorrections(ctx context.Context, extractionID int64) ([]model.FieldCorrection, error)
	RegisterLease(ctx context.Context, req RegisterLeaseRequest) (*model.Lease, error)
	GetAccuracyMetrics(ctx context.Context) (*model.AccuracyMetrics, error)
	GetFieldAccuracy(ctx context.Context) ([]model.FieldAccuracy, error)
}

// RegisterLeaseRequest is the body for POST /api/leases.
type RegisterLeaseRequest struct {
	FilePath         string `json:"file_path"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("leasebee: HTTP %d: %s", e.StatusCode, e.Body)
}

// Detail returns the server's error detail when the body carries one.
func (e *APIError) Detail() string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return e.Body
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive rps
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for idempotent reads.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new LeaseBee client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("leasebee api")
	}
	return c
}

func (c *httpClient) GetLease(ctx context.Context, leaseID int64) (*model.Lease, error) {
	var lease model.Lease
	if err := c.get(ctx, fmt.Sprintf("/api/leases/%d", leaseID), &lease); err != nil {
		return nil, eris.Wrapf(err, "leasebee: get lease %d", leaseID)
	}
	return &lease, nil
}

func (c *httpClient) ListExtractions(ctx context.Context, leaseID int64) ([]model.Extraction, error) {
	var out []model.Extraction
	if err := c.get(ctx, fmt.Sprintf("/api/extractions/lease/%d", leaseID), &out); err != nil {
		return nil, eris.Wrapf(err, "leasebee: list extractions for lease %d", leaseID)
	}
	return out, nil
}

// GetLatestExtraction returns the newest extraction for the lease, or nil
// when the lease has none.
func (c *httpClient) GetLatestExtraction(ctx context.Context, leaseID int64) (*model.Extraction, error) {
	list, err := c.ListExtractions(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[0]
	return &latest, nil
}

func (c *httpClient) GetFieldSchema(ctx context.Context) (*model.FieldSchema, error) {
	var out model.FieldSchema
	if err := c.get(ctx, "/api/extractions/schema/fields", &out); err != nil {
		return nil, eris.Wrap(err, "leasebee: get field schema")
	}
	return &out, nil
}

func (c *httpClient) GetProgress(ctx context.Context, operationID string) (*model.ProgressDetail, error) {
	var out model.ProgressDetail
	if err := c.get(ctx, "/api/extractions/progress/"+operationID, &out); err != nil {
		return nil, eris.Wrapf(err, "leasebee: get progress %s", operationID)
	}
	return &out, nil
}

func (c *httpClient) StartExtraction(ctx context.Context, leaseID int64) (*model.Extraction, error) {
	var out model.Extraction
	if err := c.post(ctx, fmt.Sprintf("/api/extractions/extract/%d", leaseID), nil, &out); err != nil {
		return nil, eris.Wrapf(err, "leasebee: start extraction for lease %d", leaseID)
	}
	return &out, nil
}

func (c *httpClient) SubmitCorrection(ctx context.Context, extractionID int64, corr model.Correction) (*model.FieldCorrection, error) {
	var out model.FieldCorrection
	if err := c.post(ctx, fmt.Sprintf("/api/extractions/%d/corrections", extractionID), corr, &out); err != nil {
		return nil, eris.Wrapf(err, "leasebee: submit correction for %s", corr.FieldPath)
	}
	return &out, nil
}

func (c *httpClient) ListCorrections(ctx context.Context, extractionID int64) ([]model.FieldCorrection, error) {
	var out []model.FieldCorrection
	if err := c.get(ctx, fmt.Sprintf("/api/extractions/%d/corrections", extractionID), &out); err != nil {
		return nil, eris.Wrapf(err, "leasebee: list corrections for extraction %d", extractionID)
	}
	return out, nil
}

func (c *httpClient) RegisterLease(ctx context.Context, req RegisterLeaseRequest) (*model.Lease, error) {
	var out model.Lease
	if err := c.post(ctx, "/api/leases", req, &out); err != nil {
		return nil, eris.Wrapf(err, "leasebee: register lease %s", req.FilePath)
	}
	return &out, nil
}

func (c *httpClient) GetAccuracyMetrics(ctx context.Context) (*model.AccuracyMetrics, error) {
	var out model.AccuracyMetrics
	if err := c.get(ctx, "/api/analytics/metrics", &out); err != nil {
		return nil, eris.Wrap(err, "leasebee: get accuracy metrics")
	}
	return &out, nil
}

func (c *httpClient) GetFieldAccuracy(ctx context.Context) ([]model.FieldAccuracy, error) {
	var out []model.FieldAccuracy
	if err := c.get(ctx, "/api/analytics/fields", &out); err != nil {
		return nil, eris.Wrap(err, "leasebee: get field accuracy")
	}
	return out, nil
}

// post is never retried; corrections and extraction starts are not idempotent.
func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		return c.do(req, out)
	})
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.FromResponse(&APIError{StatusCode: resp.StatusCode, Body: string(data)}, resp)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
