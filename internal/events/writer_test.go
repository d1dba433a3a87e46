package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/db"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

func TestAppendRollsBackWithTx(t *testing.T) {
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer h.Close()
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, h))
	r := repo.New(h)
	w := Writer{Repo: r, Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }}

	tx, err := r.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, LeadRejected, "l1", "agent:vetting", EventPayload{"reason": "No valid website"}))
	tx.Rollback()
	evts, err := r.LeadEvents(ctx, "l1", 0)
	require.NoError(t, err)
	assert.Empty(t, evts, "rolled back event visible")

	tx, err = r.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, LeadApproved, "l1", "agent:vetting", nil))
	require.NoError(t, tx.Commit())
	evts, err = r.LeadEvents(ctx, "l1", 0)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, LeadApproved, evts[0].Type)
	assert.Equal(t, "2026-03-01T12:00:00.000000Z", evts[0].TS)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(evts[0].Payload), &payload))
	assert.Empty(t, payload)
}
