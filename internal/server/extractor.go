package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leasebee/leasebee-cli/internal/model"
)

// Extractor produces field values for a lease document. The returned
// extraction has no id yet.
type Extractor interface {
	Extract(ctx context.Context, lease model.Lease) (*model.Extraction, error)
}

// ExtractorError carries the extraction backend's own failure message.
type ExtractorError struct {
	StatusCode int
	Message    string
}

func (e *ExtractorError) Error() string {
	return e.Message
}

// WebhookExtractor delegates extraction to an HTTP service that accepts
// {lease_id, file_path} and answers with the extraction maps.
type WebhookExtractor struct {
	url  string
	http *http.Client
}

// NewWebhookExtractor creates an extractor posting to url. A nil client
// uses one with a five minute timeout.
func NewWebhookExtractor(url string, hc *http.Client) *WebhookExtractor {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &WebhookExtractor{url: url, http: hc}
}

type webhookRequest struct {
	LeaseID  int64  `json:"lease_id"`
	FilePath string `json:"file_path"`
}

type webhookResponse struct {
	Extractions  map[string]any            `json:"extractions"`
	Reasoning    map[string]string         `json:"reasoning"`
	Citations    map[string]model.Citation `json:"citations"`
	Confidence   map[string]float64        `json:"confidence"`
	ModelVersion string                    `json:"model_version"`
}

// Extract posts the lease to the extraction service.
func (x *WebhookExtractor) Extract(ctx context.Context, lease model.Lease) (*model.Extraction, error) {
	buf, err := json.Marshal(webhookRequest{LeaseID: lease.ID, FilePath: lease.FilePath})
	if err != nil {
		return nil, eris.Wrap(err, "extractor: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "extractor: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ExtractorError{StatusCode: resp.StatusCode, Message: detailOf(data, resp.StatusCode)}
	}

	var out webhookResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "extractor: decode response")
	}
	if out.Extractions == nil {
		return nil, &ExtractorError{StatusCode: resp.StatusCode, Message: "extractor returned no extractions"}
	}
	return &model.Extraction{
		LeaseID:      lease.ID,
		Extractions:  out.Extractions,
		Reasoning:    out.Reasoning,
		Citations:    out.Citations,
		Confidence:   out.Confidence,
		ModelVersion: out.ModelVersion,
	}, nil
}

func detailOf(body []byte, status int) string {
	var v struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &v); err == nil {
		if v.Detail != "" {
			return v.Detail
		}
		if v.Error != "" {
			return v.Error
		}
	}
	if len(bytes.TrimSpace(body)) > 0 {
		return string(bytes.TrimSpace(body))
	}
	return fmt.Sprintf("extractor responded with HTTP %d", status)
}
