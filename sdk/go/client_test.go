package leadlinesdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method string
	path   string
	query  string
	actor  string
	body   map[string]any
}

func newFake(t *testing.T, status int, reply string) (*Client, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.actor = r.Header.Get("X-Actor-Id")
		got.body = nil
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &got.body)
		}
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), got
}

func TestExecuteAgent(t *testing.T) {
	c, got := newFake(t, http.StatusOK, `{"status":"scheduled","agent_name":"vetting","message":"ok"}`)
	resp, err := c.ExecuteAgent(context.Background(), "vetting", nil)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v0/agents/execute", got.path)
	assert.Equal(t, map[string]any{"agent_name": "vetting"}, got.body)
}

func TestLogsQuery(t *testing.T) {
	c, got := newFake(t, http.StatusOK, `[{"id":1,"agent_name":"tech_debt","status":"partial"}]`)
	logs, err := c.Logs(context.Background(), LogQuery{AgentName: "tech_debt", Skip: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "partial", logs[0].Status)
	assert.Equal(t, "/v0/agents/logs", got.path)
	assert.Equal(t, "agent_name=tech_debt&limit=10&skip=5", got.query)
}

func TestUpdateLeadSendsActor(t *testing.T) {
	c, got := newFake(t, http.StatusOK, `{"id":"l1","status":"contacted","version":3}`)
	c.ActorID = "alice"
	status, version := "contacted", 2
	lead, err := c.UpdateLead(context.Background(), "l1", LeadUpdate{Status: &status, Version: &version})
	require.NoError(t, err)
	assert.Equal(t, 3, lead.Version)
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "alice", got.actor)
	assert.Equal(t, map[string]any{"status": "contacted", "version": float64(2)}, got.body)
}

func TestDeleteLeadNoContent(t *testing.T) {
	c, got := newFake(t, http.StatusNoContent, "")
	require.NoError(t, c.DeleteLead(context.Background(), "l1"))
	assert.Equal(t, "/v0/leads/l1", got.path)
}

func TestAPIError(t *testing.T) {
	c, _ := newFake(t, http.StatusNotFound, `{"error":{"code":"not_found","message":"not found"}}`)
	_, err := c.GetLead(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not_found")
}

func TestProjectCalls(t *testing.T) {
	c, got := newFake(t, http.StatusCreated, `{"id":"p1","lead_id":"l1","stage":"discovery","value":1500.5,"created_at":"2026-01-01T00:00:00Z"}`)
	lead, value := "l1", 1500.5
	p, err := c.CreateProject(context.Background(), ProjectInput{LeadID: &lead, Value: &value})
	require.NoError(t, err)
	assert.Equal(t, "discovery", p.Stage)
	require.NotNil(t, p.Value)
	assert.InDelta(t, 1500.5, *p.Value, 0.001)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v0/projects", got.path)
	assert.Equal(t, map[string]any{"lead_id": "l1", "value": 1500.5}, got.body)

	_, err = c.UpdateProject(context.Background(), "p1", ProjectUpdate{ClearValue: true})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/v0/projects/p1", got.path)
	assert.Equal(t, map[string]any{"clear_value": true}, got.body)
}

func TestListProjectsQuery(t *testing.T) {
	c, got := newFake(t, http.StatusOK, `[{"id":"p1","stage":"build"}]`)
	projects, err := c.ListProjects(context.Background(), ProjectQuery{LeadID: "l1", Stage: "build", Limit: 20})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Nil(t, projects[0].LeadID)
	assert.Equal(t, "/v0/projects", got.path)
	assert.Equal(t, "lead_id=l1&limit=20&stage=build", got.query)
}
