// Package crm forwards accepted extractions to the downstream CRM
// collaborator. The payload is restricted to OCRResult fields; raw MRZ
// and image bytes never cross this boundary.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mrzgate/internal/config"
	"mrzgate/internal/model"
)

// Connector is the downstream contract the orchestrator depends on.
type Connector interface {
	// PushResult delivers the accepted result for the job. Failures are
	// the connector's problem; they never change job state.
	PushResult(ctx context.Context, tenantID, jobID string, res *model.OCRResult) error
}

// resultPayload is the exact field set the CRM contract allows.
type resultPayload struct {
	JobID           string  `json:"job_id"`
	TenantID        string  `json:"tenant_id"`
	PassportHash    string  `json:"passport_hash"`
	Nationality     string  `json:"nationality,omitempty"`
	BirthDate       string  `json:"birth_date,omitempty"`
	DocExpiry       string  `json:"doc_expiry,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
	DuplicateFlag   bool    `json:"duplicate_flag"`
}

// HTTPConnector posts results to a configured webhook URL with bounded
// retries. An empty URL disables delivery.
type HTTPConnector struct {
	url      string
	token    string
	maxTries uint
	client   *http.Client
}

var _ Connector = (*HTTPConnector)(nil)

func NewHTTP(cfg config.CRMConfig) *HTTPConnector {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tries := uint(1)
	if cfg.RetryMaxTries > 0 {
		tries = uint(cfg.RetryMaxTries)
	}
	return &HTTPConnector{
		url:      cfg.WebhookURL,
		token:    cfg.APIToken,
		maxTries: tries,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPConnector) PushResult(ctx context.Context, tenantID, jobID string, res *model.OCRResult) error {
	if c.url == "" {
		return nil
	}
	body, err := json.Marshal(resultPayload{
		JobID:           jobID,
		TenantID:        tenantID,
		PassportHash:    res.PassportHash,
		Nationality:     res.Nationality,
		BirthDate:       res.BirthDate,
		DocExpiry:       res.DocExpiry,
		ConfidenceScore: res.ConfidenceScore,
		DuplicateFlag:   res.DuplicateFlag,
	})
	if err != nil {
		return fmt.Errorf("marshal crm payload: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.post(ctx, body)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return fmt.Errorf("push result to crm: %w", err)
	}
	return nil
}

func (c *HTTPConnector) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("crm webhook returned %d", resp.StatusCode)
	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return err
	}
	return backoff.Permanent(err)
}
