package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, RunIDFromContext(ctx))
	ctx = WithRunID(ctx, "run-1")
	require.Equal(t, "run-1", RunIDFromContext(ctx))
}

func TestFromContextAttachesRunID(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWriter(&buf, "info", "json")
	require.NoError(t, err)
	FromContext(WithRunID(context.Background(), "run-42"), base).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "run-42", line["run_id"])
	require.Equal(t, "hello", line["msg"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)
	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("info", "xml")
	require.Error(t, err)
	l, err := New("warn", "text")
	require.NoError(t, err)
	require.NotNil(t, l)
}
