package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path    string
	body    map[string]any
	user    string
	pass    string
	hasAuth bool
	ctype   string
}

func newServer(t *testing.T, status int, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.path = r.URL.Path
			got.body = nil
			got.ctype = r.Header.Get("Content-Type")
			got.user, got.pass, got.hasAuth = r.BasicAuth()
			_ = json.NewDecoder(r.Body).Decode(&got.body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendSuccessParsesJSON(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{"accepted":true}`, &got)
	c := New(Config{WebhookBase: srv.URL + "/webhook/"})

	data, err := c.Send(context.Background(), "enrichment-tech", map[string]any{"lead_id": "l1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, data["accepted"])
	assert.Equal(t, "/webhook/enrichment-tech", got.path)
	assert.Equal(t, "application/json", got.ctype)
	assert.Equal(t, "l1", got.body["lead_id"])
	assert.False(t, got.hasAuth)
}

func TestSendNonJSONSuccessIsOKMarker(t *testing.T) {
	srv := newServer(t, http.StatusAccepted, "Workflow was started", nil)
	data, err := New(Config{WebhookBase: srv.URL}).Send(context.Background(), "x", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "ok"}, data)
}

func TestSendOversizedReplyIsOKMarker(t *testing.T) {
	reply := `{"pad":"` + strings.Repeat("x", maxReplyRead) + `"}`
	srv := newServer(t, http.StatusOK, reply, nil)
	data, err := New(Config{WebhookBase: srv.URL}).Send(context.Background(), "x", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "ok"}, data)
}

func TestSendBasicAuthOnlyWithBothCredentials(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{}`, &got)

	_, err := New(Config{WebhookBase: srv.URL, Username: "admin"}).Send(context.Background(), "x", nil, 0)
	require.NoError(t, err)
	assert.False(t, got.hasAuth)

	_, err = New(Config{WebhookBase: srv.URL, Username: "admin", Password: "secret"}).Send(context.Background(), "x", nil, 0)
	require.NoError(t, err)
	assert.True(t, got.hasAuth)
	assert.Equal(t, "admin", got.user)
	assert.Equal(t, "secret", got.pass)
}

func TestSendStatusErrorTruncatesBody(t *testing.T) {
	srv := newServer(t, http.StatusInternalServerError, strings.Repeat("e", 500), nil)
	_, err := New(Config{WebhookBase: srv.URL}).Send(context.Background(), "enrichment-tech", nil, 0)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.Code)
	assert.Len(t, se.Body, 200)
	assert.True(t, strings.HasPrefix(err.Error(), "HTTP 500: "))
	code, ok := IsStatus(err)
	assert.True(t, ok)
	assert.Equal(t, 500, code)
}

func TestSendTransportErrorOnRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = New(Config{WebhookBase: "http://" + addr}).Send(context.Background(), "x", nil, time.Second)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, strings.HasPrefix(err.Error(), "request failed: "))
	_, isStatus := IsStatus(err)
	assert.False(t, isStatus)
}

func TestSendTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := New(Config{WebhookBase: srv.URL}).Send(context.Background(), "slow", nil, 50*time.Millisecond)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTriggerOperationsPayloads(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{}`, &got)
	c := New(Config{WebhookBase: srv.URL})

	require.NoError(t, c.TriggerTechDebtAnalysis(context.Background(), "lead-1", "https://a.example"))
	assert.Equal(t, "/enrichment-tech", got.path)
	assert.Equal(t, map[string]any{"lead_id": "lead-1", "website": "https://a.example"}, got.body)

	require.NoError(t, c.TriggerReviewMining(context.Background(), "lead-2", "Acme"))
	assert.Equal(t, "/enrichment-reviews", got.path)
	assert.Equal(t, map[string]any{"lead_id": "lead-2", "company_name": "Acme"}, got.body)

	_, err := c.TriggerDiscovery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/discover-leads", got.path)
	assert.Empty(t, got.body)
}
