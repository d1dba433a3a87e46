// Package bridge posts named operations to the external workflow engine.
//
// Every call ends in one of three buckets: success with parsed data, a
// *StatusError for non-2xx replies, or a *TransportError when no reply was
// received. Nothing panics past this package.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Operation names understood by the workflow engine.
const (
	OpEnrichmentTech    = "enrichment-tech"
	OpEnrichmentReviews = "enrichment-reviews"
	OpDiscoverLeads     = "discover-leads"
)

const (
	DefaultTimeout   = 30 * time.Second
	maxErrorBodyRead = 4096
	maxErrorBodyKeep = 200
	// maxReplyRead caps a 2xx body. A longer reply is not decoded.
	maxReplyRead = 1 << 20
)

// StatusError is a non-2xx reply.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// TransportError means the request never produced a reply (dial, timeout,
// cancellation, malformed request).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a non-2xx reply and returns its code.
func IsStatus(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

type Config struct {
	WebhookBase string
	Username    string
	Password    string
	Timeout     time.Duration
}

// Client is safe for concurrent use; it keeps no per-call state.
type Client struct {
	base     string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:     strings.TrimRight(strings.TrimSpace(cfg.WebhookBase), "/"),
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		http:     &http.Client{},
	}
}

// WithHTTPClient swaps the underlying transport client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.http = hc
	return &cp
}

// URL returns the target address for op.
func (c *Client) URL(op string) string {
	return c.base + "/" + strings.TrimLeft(op, "/")
}

// Send posts payload as JSON to {base}/{op}. timeout <= 0 uses the client
// default. A 2xx reply whose body is not a JSON object is reported as
// {"status":"ok"} (or {"data": v} for non-object JSON).
func (c *Client) Send(ctx context.Context, op string, payload any, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("encode payload: %w", err)}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(op), bytes.NewReader(data))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyRead))
		return nil, &StatusError{Op: op, Code: res.StatusCode, Body: truncate(string(body), maxErrorBodyKeep)}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxReplyRead+1))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if len(body) > maxReplyRead {
		return map[string]any{"status": "ok"}, nil
	}
	return decodeBody(body), nil
}

func decodeBody(body []byte) map[string]any {
	var v any
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &v) != nil {
		return map[string]any{"status": "ok"}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"data": v}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// TriggerTechDebtAnalysis asks the engine to analyse a lead's website.
func (c *Client) TriggerTechDebtAnalysis(ctx context.Context, leadID, website string) error {
	_, err := c.Send(ctx, OpEnrichmentTech, map[string]any{"lead_id": leadID, "website": website}, 0)
	return err
}

// TriggerReviewMining asks the engine to mine public reviews for a company.
func (c *Client) TriggerReviewMining(ctx context.Context, leadID, companyName string) error {
	_, err := c.Send(ctx, OpEnrichmentReviews, map[string]any{"lead_id": leadID, "company_name": companyName}, 0)
	return err
}

// TriggerDiscovery starts the engine's lead discovery workflow.
func (c *Client) TriggerDiscovery(ctx context.Context) (map[string]any, error) {
	return c.Send(ctx, OpDiscoverLeads, map[string]any{}, 0)
}
