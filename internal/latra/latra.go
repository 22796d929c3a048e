// Package latra posts report batches to the regulator endpoint with bounded
// retries. Network-level failures are retried with a linearly growing delay;
// a response that was delivered, whatever its status, is terminal for the
// batch.
package latra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"avl_gateway/internal/payload"
)

// Transmit policy defaults.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = time.Second

	maxResponseBytes = 1 << 20
)

// Config controls the transmit policy. Zero values select the defaults.
type Config struct {
	URL        string
	Token      string // Basic authorization token, sent verbatim
	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
}

// Client posts batches to the regulator. Stateless apart from the underlying
// connection pool; safe for concurrent use.
type Client struct {
	url      string
	token    string
	attempts int
	delay    time.Duration
	http     *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Client{
		url:      cfg.URL,
		token:    cfg.Token,
		attempts: cfg.Attempts,
		delay:    cfg.RetryDelay,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// StatusError is a delivered non-200 response. Delivery makes it terminal:
// retrying would duplicate the batch upstream.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("latra: upstream status %d", e.Status)
}

// Result is the transmit outcome recorded in the audit trail.
type Result struct {
	Success  bool            `json:"success"`
	Status   int             `json:"status,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts"`
}

// AuditJSON renders the result for the reported_data audit row.
func (r Result) AuditJSON() json.RawMessage {
	raw, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(`{"error":"unencodable result"}`)
	}
	return raw
}

// Send posts one batch. The returned Result is populated on failure too, so
// the caller can audit what happened. Honors ctx cancellation between and
// during attempts.
func (c *Client) Send(ctx context.Context, batch *payload.Batch) (Result, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return Result{Error: err.Error()}, fmt.Errorf("latra: encode batch: %w", err)
	}

	var (
		last    Result
		lastErr error
	)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		result, err := c.post(ctx, body)
		result.Attempts = attempt
		if err == nil {
			return result, nil
		}
		last, lastErr = result, err

		var terminal *StatusError
		if errors.As(err, &terminal) {
			return result, err
		}
		if attempt < c.attempts {
			if serr := sleepCtx(ctx, c.delay*time.Duration(attempt)); serr != nil {
				last.Error = serr.Error()
				return last, fmt.Errorf("latra: %w", serr)
			}
		}
	}
	return last, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}, fmt.Errorf("latra: build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Error: err.Error()}, fmt.Errorf("latra: POST: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{Status: resp.StatusCode, Error: err.Error()},
			fmt.Errorf("latra: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Status: resp.StatusCode, Body: data}
		return Result{Status: resp.StatusCode, Body: rawBody(data), Error: serr.Error()}, serr
	}
	return Result{Success: true, Status: resp.StatusCode, Body: rawBody(data)}, nil
}

// rawBody normalises an upstream body for the audit trail: valid JSON is kept
// verbatim, anything else is wrapped as a JSON string.
func rawBody(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
