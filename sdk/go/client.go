package leadlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal leadline HTTP API client.
type Client struct {
	BaseURL string
	// BasePath is the API mount point, /v0 when empty.
	BasePath string
	// ActorID is sent as X-Actor-Id on lead edits.
	ActorID string
	// BearerToken authenticates webhook calls when the server has a
	// callback secret.
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Lead is the API lead model.
type Lead struct {
	ID              string         `json:"id"`
	CompanyName     string         `json:"company_name"`
	Website         *string        `json:"website,omitempty"`
	Region          *string        `json:"region,omitempty"`
	Status          string         `json:"status"`
	VettingStatus   string         `json:"vetting_status"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	PainPoints      map[string]any `json:"pain_points,omitempty"`
	Score           int            `json:"score"`
	Version         int            `json:"version"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       *string        `json:"updated_at,omitempty"`
}

// ExecutionLog is one agent run.
type ExecutionLog struct {
	ID               int64   `json:"id"`
	AgentName        string  `json:"agent_name"`
	RunID            string  `json:"run_id"`
	StartTime        string  `json:"start_time"`
	EndTime          *string `json:"end_time,omitempty"`
	Status           string  `json:"status"`
	RecordsProcessed int     `json:"records_processed"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// LeadEvent is one audit row.
type LeadEvent struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	LeadID  string `json:"lead_id"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

type Agent struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Scheduled struct {
	Status    string `json:"status"`
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
}

type Trigger struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type Ingested struct {
	Received int    `json:"received"`
	Message  string `json:"message"`
}

// LeadInput creates a lead.
type LeadInput struct {
	CompanyName string  `json:"company_name"`
	Website     *string `json:"website,omitempty"`
	Region      *string `json:"region,omitempty"`
}

// LeadUpdate is a partial update. Version, when set, must match.
type LeadUpdate struct {
	CompanyName   *string        `json:"company_name,omitempty"`
	Website       *string        `json:"website,omitempty"`
	Region        *string        `json:"region,omitempty"`
	Status        *string        `json:"status,omitempty"`
	VettingStatus *string        `json:"vetting_status,omitempty"`
	PainPoints    map[string]any `json:"pain_points,omitempty"`
	Score         *int           `json:"score,omitempty"`
	Version       *int           `json:"version,omitempty"`
}

type LeadQuery struct {
	Status        string
	VettingStatus string
	Skip          int
	Limit         int
}

// Project is a delivery engagement, optionally tied to a lead. Value is USD.
type Project struct {
	ID        string   `json:"id"`
	LeadID    *string  `json:"lead_id,omitempty"`
	Stage     string   `json:"stage"`
	Value     *float64 `json:"value,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt *string  `json:"updated_at,omitempty"`
}

type ProjectInput struct {
	LeadID *string  `json:"lead_id,omitempty"`
	Stage  string   `json:"stage,omitempty"`
	Value  *float64 `json:"value,omitempty"`
}

// ProjectUpdate is a partial update. ClearValue removes the value.
type ProjectUpdate struct {
	Stage      *string  `json:"stage,omitempty"`
	Value      *float64 `json:"value,omitempty"`
	ClearValue bool     `json:"clear_value,omitempty"`
}

type ProjectQuery struct {
	LeadID string
	Stage  string
	Skip   int
	Limit  int
}

type LogQuery struct {
	AgentName string
	Skip      int
	Limit     int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Agents lists the registered agents.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp []Agent
	err := c.do(ctx, http.MethodGet, "agents", nil, &resp)
	return resp, err
}

// ExecuteAgent schedules an agent run. runContext is passed to the agent
// as its context and may be nil.
func (c *Client) ExecuteAgent(ctx context.Context, name string, runContext any) (Scheduled, error) {
	body := map[string]any{"agent_name": name}
	if runContext != nil {
		body["context"] = runContext
	}
	var resp Scheduled
	err := c.do(ctx, http.MethodPost, "agents/execute", body, &resp)
	return resp, err
}

// Logs returns execution logs, newest first.
func (c *Client) Logs(ctx context.Context, q LogQuery) ([]ExecutionLog, error) {
	v := url.Values{}
	if q.AgentName != "" {
		v.Set("agent_name", q.AgentName)
	}
	setPaging(v, q.Skip, q.Limit)
	var resp []ExecutionLog
	err := c.do(ctx, http.MethodGet, withQuery("agents/logs", v), nil, &resp)
	return resp, err
}

func (c *Client) ListLeads(ctx context.Context, q LeadQuery) ([]Lead, error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.VettingStatus != "" {
		v.Set("vetting_status", q.VettingStatus)
	}
	setPaging(v, q.Skip, q.Limit)
	var resp []Lead
	err := c.do(ctx, http.MethodGet, withQuery("leads", v), nil, &resp)
	return resp, err
}

func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, "leads/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateLead(ctx context.Context, in LeadInput) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPost, "leads", in, &resp)
	return resp, err
}

func (c *Client) UpdateLead(ctx context.Context, id string, in LeadUpdate) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPatch, "leads/"+url.PathEscape(id), in, &resp)
	return resp, err
}

func (c *Client) DeleteLead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "leads/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListProjects(ctx context.Context, q ProjectQuery) ([]Project, error) {
	v := url.Values{}
	if q.LeadID != "" {
		v.Set("lead_id", q.LeadID)
	}
	if q.Stage != "" {
		v.Set("stage", q.Stage)
	}
	setPaging(v, q.Skip, q.Limit)
	var resp []Project
	err := c.do(ctx, http.MethodGet, withQuery("projects", v), nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, in ProjectUpdate) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id), in, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "projects/"+url.PathEscape(id), nil, nil)
}

// Discover asks the workflow engine to start lead discovery.
func (c *Client) Discover(ctx context.Context) (Trigger, error) {
	var resp Trigger
	err := c.do(ctx, http.MethodPost, "leads/discover", nil, &resp)
	return resp, err
}

// Reviews asks the workflow engine to mine reviews for one lead.
func (c *Client) Reviews(ctx context.Context, id string) (Trigger, error) {
	var resp Trigger
	err := c.do(ctx, http.MethodPost, "leads/"+url.PathEscape(id)+"/reviews", nil, &resp)
	return resp, err
}

func (c *Client) LeadEvents(ctx context.Context, id string, limit int) ([]LeadEvent, error) {
	v := url.Values{}
	setPaging(v, 0, limit)
	var resp []LeadEvent
	err := c.do(ctx, http.MethodGet, withQuery("leads/"+url.PathEscape(id)+"/events", v), nil, &resp)
	return resp, err
}

// Ingest posts raw discovered leads to the discovery webhook.
func (c *Client) Ingest(ctx context.Context, leads []map[string]any) (Ingested, error) {
	var resp Ingested
	err := c.do(ctx, http.MethodPost, "webhooks/discovery", map[string]any{"leads": leads}, &resp)
	return resp, err
}

func setPaging(v url.Values, skip, limit int) {
	if skip > 0 {
		v.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
}

func withQuery(endpoint string, v url.Values) string {
	if len(v) == 0 {
		return endpoint
	}
	return endpoint + "?" + v.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	bp := c.BasePath
	if bp == "" {
		bp = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(bp, "/")
}
