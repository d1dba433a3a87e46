package dispatch_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/agent"
	"leadline/internal/db"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	"leadline/internal/logger"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

// gateBridge blocks every trigger until release is closed.
type gateBridge struct {
	entered chan string
	release chan struct{}
}

func newGateBridge() *gateBridge {
	return &gateBridge{entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gateBridge) TriggerTechDebtAnalysis(_ context.Context, leadID, _ string) error {
	g.entered <- leadID
	<-g.release
	return nil
}

// stuckBridge never answers; a trigger returns only when its context ends.
type stuckBridge struct{ entered chan string }

func (s stuckBridge) TriggerTechDebtAnalysis(ctx context.Context, leadID, _ string) error {
	s.entered <- leadID
	<-ctx.Done()
	return ctx.Err()
}

type okBridge struct{}

func (okBridge) TriggerTechDebtAnalysis(context.Context, string, string) error { return nil }

type testEnv struct {
	Ctx  context.Context
	Repo repo.Repo
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, h))
	return testEnv{Ctx: ctx, Repo: repo.New(h)}
}

func (e testEnv) dispatcher(bridge agent.Enricher, workers int) *dispatch.Dispatcher {
	deps := agent.Deps{Repo: e.Repo, Bridge: bridge, Logger: logger.Discard()}
	runner := agent.Runner{Repo: e.Repo, Logger: logger.Discard()}
	return dispatch.New(runner, deps, dispatch.Options{Workers: workers, Logger: logger.Discard()})
}

func (e testEnv) seedApproved(t *testing.T, id string) {
	t.Helper()
	site := "https://" + id + ".example"
	require.NoError(t, e.Repo.InsertLead(e.Ctx, domain.Lead{
		ID: id, CompanyName: "Company " + id, Website: &site,
		Status: domain.LeadStatusVetted, VettingStatus: domain.VettingApproved,
		CreatedAt: domain.FormatTime(time.Now()),
	}))
}

func closeDispatcher(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestScheduleUnknownAgentCreatesNoLog(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(okBridge{}, 2)

	_, err := d.Schedule(env.Ctx, "outreach", nil)
	require.ErrorIs(t, err, agent.ErrUnknownAgent)
	closeDispatcher(t, d)

	logs, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestScheduleReturnsBeforeRunCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.seedApproved(t, "acme")
	gate := newGateBridge()
	d := env.dispatcher(gate, 2)

	kind, err := d.Schedule(env.Ctx, "TECH_DEBT", nil)
	require.NoError(t, err)
	assert.Equal(t, agent.KindTechDebt, kind)

	select {
	case id := <-gate.entered:
		assert.Equal(t, "acme", id)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "run never reached the bridge")
	}
	logs, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunStatusRunning, logs[0].Status)

	close(gate.release)
	closeDispatcher(t, d)

	logs, err = d.ReadLogs(env.Ctx, dispatch.LogQuery{AgentName: "Tech_Debt"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunStatusSuccess, logs[0].Status)
	assert.Equal(t, 1, logs[0].RecordsProcessed)
}

func TestRunOutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t)
	var mu sync.Mutex
	var finished []agent.Outcome
	deps := agent.Deps{Repo: env.Repo, Bridge: okBridge{}, Logger: logger.Discard()}
	d := dispatch.New(agent.Runner{Repo: env.Repo, Logger: logger.Discard()}, deps, dispatch.Options{
		Logger: logger.Discard(),
		OnFinish: func(_ agent.Kind, out agent.Outcome, _ error) {
			mu.Lock()
			finished = append(finished, out)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(env.Ctx)
	_, err := d.Schedule(ctx, "discovery", json.RawMessage(`{"leads":[{"company_name":"Late Co","website":"https://late.example"}]}`))
	require.NoError(t, err)
	cancel()
	closeDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1)
	assert.Equal(t, domain.RunStatusSuccess, finished[0].Status)
	assert.Equal(t, 1, finished[0].RecordsProcessed)
}

func TestWorkersBoundConcurrentRuns(t *testing.T) {
	env := newTestEnv(t)
	env.seedApproved(t, "one")
	gate := newGateBridge()
	d := env.dispatcher(gate, 1)

	_, err := d.Schedule(env.Ctx, "tech_debt", nil)
	require.NoError(t, err)
	<-gate.entered
	_, err = d.Schedule(env.Ctx, "vetting", nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	logs, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{})
	require.NoError(t, err)
	assert.Len(t, logs, 1, "second run must wait for a free worker")

	close(gate.release)
	closeDispatcher(t, d)
	logs, err = d.ReadLogs(env.Ctx, dispatch.LogQuery{})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestCloseCancelsRunsAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.seedApproved(t, "slow")
	stuck := stuckBridge{entered: make(chan string, 1)}
	d := env.dispatcher(stuck, 1)

	_, err := d.Schedule(env.Ctx, "tech_debt", nil)
	require.NoError(t, err)
	<-stuck.entered

	ctx, cancel := context.WithTimeout(env.Ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	// Close returned only after the run finalized its log.
	logs, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RunStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "canceled")
}

func TestScheduleAfterCloseFails(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(okBridge{}, 1)
	closeDispatcher(t, d)
	_, err := d.Schedule(env.Ctx, "vetting", nil)
	require.ErrorIs(t, err, dispatch.ErrClosed)
}

func TestReadLogsOrderingAndPaging(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(okBridge{}, 1)
	for _, name := range []string{"vetting", "discovery", "vetting"} {
		_, err := d.Schedule(env.Ctx, name, nil)
		require.NoError(t, err)
		// One worker plus a pause keeps created_at strictly increasing.
		time.Sleep(5 * time.Millisecond)
	}
	closeDispatcher(t, d)

	all, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].CreatedAt, all[i].CreatedAt)
	}

	vetting, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{AgentName: "vetting"})
	require.NoError(t, err)
	assert.Len(t, vetting, 2)

	page, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)

	// Discovery without leads finishes as a failed run, not a crash.
	disc, err := d.ReadLogs(env.Ctx, dispatch.LogQuery{AgentName: "discovery"})
	require.NoError(t, err)
	require.Len(t, disc, 1)
	assert.Equal(t, domain.RunStatusFailed, disc[0].Status)
	assert.Len(t, d.Agents(), 3)
}
