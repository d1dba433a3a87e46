package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

type fakeTriggers struct {
	reviews   []string
	discovery int
	err       error
}

func (f *fakeTriggers) TriggerReviewMining(_ context.Context, leadID, companyName string) error {
	f.reviews = append(f.reviews, leadID+"|"+companyName)
	return f.err
}

func (f *fakeTriggers) TriggerDiscovery(context.Context) (map[string]any, error) {
	f.discovery++
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"status": "ok"}, nil
}

type testEnv struct {
	Engine   engine.Engine
	Triggers *fakeTriggers
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, h))
	tr := &fakeTriggers{}
	eng := engine.New(repo.New(h), tr)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	n := 0
	eng.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return testEnv{Engine: eng, Triggers: tr, Ctx: ctx}
}

func str(s string) *string     { return &s }
func num(n int) *int           { return &n }
func money(v float64) *float64 { return &v }

func requireInvalid(t *testing.T, err error, field string) {
	t.Helper()
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, field)
}

func TestCreateLeadDefaults(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		CompanyName: "  Acme Trading ",
		Website:     str("https://acme.example"),
		Region:      str(""),
		ActorID:     "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Trading", lead.CompanyName)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Equal(t, domain.VettingPending, lead.VettingStatus)
	assert.Nil(t, lead.Region, "empty region is stored as null")

	got, err := env.Engine.GetLead(env.Ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, 1, got.Version)

	evts, err := env.Engine.LeadEvents(env.Ctx, lead.ID, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "lead.created", evts[0].Type)
	assert.Equal(t, "tester", evts[0].ActorID)
}

func TestCreateLeadValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "   "})
	requireInvalid(t, err, "company_name")
}

func TestUpdateLeadPartial(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Acme", Website: str("https://acme.example")})
	require.NoError(t, err)

	updated, err := env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: lead.ID, Score: num(55), Status: str(domain.LeadStatusContacted)})
	require.NoError(t, err)
	assert.Equal(t, 55, updated.Score)
	assert.Equal(t, domain.LeadStatusContacted, updated.Status)
	assert.Equal(t, "Acme", updated.CompanyName)
	assert.Equal(t, 2, updated.Version)
	assert.NotNil(t, updated.UpdatedAt)

	_, err = env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: lead.ID, Score: num(101)})
	requireInvalid(t, err, "score")
	_, err = env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: lead.ID, Status: str("lost")})
	requireInvalid(t, err, "status")
	_, err = env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: lead.ID, Score: num(1), ExpectVersion: 1})
	assert.ErrorIs(t, err, repo.ErrConflict)
	_, err = env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: "missing", Score: num(1)})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestApplyEnrichment(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Acme", Website: str("https://acme.example")})
	require.NoError(t, err)

	enriched, err := env.Engine.ApplyEnrichment(env.Ctx, lead.ID, engine.EnrichmentResult{
		PainPoints: map[string]any{"page_speed": "slow"},
		Score:      num(72),
		Status:     str(domain.LeadStatusEnriched),
	})
	require.NoError(t, err)
	assert.Equal(t, 72, enriched.Score)
	assert.Equal(t, domain.LeadStatusEnriched, enriched.Status)
	assert.Equal(t, "slow", enriched.PainPoints["page_speed"])

	// Only provided fields change.
	again, err := env.Engine.ApplyEnrichment(env.Ctx, lead.ID, engine.EnrichmentResult{Score: num(80)})
	require.NoError(t, err)
	assert.Equal(t, 80, again.Score)
	assert.Equal(t, domain.LeadStatusEnriched, again.Status)
	assert.NotNil(t, again.PainPoints)

	_, err = env.Engine.ApplyEnrichment(env.Ctx, "missing", engine.EnrichmentResult{Score: num(1)})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListLeadsFilters(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		_, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: fmt.Sprintf("Co %d", i)})
		require.NoError(t, err)
	}
	_, err := env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: "id-2", Status: str(domain.LeadStatusClosed)})
	require.NoError(t, err)

	closed, err := env.Engine.ListLeads(env.Ctx, engine.LeadListOptions{Status: domain.LeadStatusClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "id-2", closed[0].ID)

	page, err := env.Engine.ListLeads(env.Ctx, engine.LeadListOptions{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = env.Engine.ListLeads(env.Ctx, engine.LeadListOptions{Status: "bogus"})
	requireInvalid(t, err, "status")
}

func TestDeleteLeadKeepsAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Gone Soon"})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteLead(env.Ctx, lead.ID, "admin"))

	_, err = env.Engine.GetLead(env.Ctx, lead.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteLead(env.Ctx, lead.ID, "admin"), repo.ErrNotFound)

	evts, err := env.Engine.LeadEvents(env.Ctx, lead.ID, 0)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "lead.deleted", evts[0].Type)
}

func TestManualTriggers(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Review Me"})
	require.NoError(t, err)

	require.NoError(t, env.Engine.TriggerReviews(env.Ctx, lead.ID))
	assert.Equal(t, []string{lead.ID + "|Review Me"}, env.Triggers.reviews)
	assert.ErrorIs(t, env.Engine.TriggerReviews(env.Ctx, "missing"), repo.ErrNotFound)

	_, err = env.Engine.TriggerDiscovery(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Triggers.discovery)
}

func TestCreateProjectDefaultsAndLink(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Sakura Sushi Dubai"})
	require.NoError(t, err)

	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{LeadID: str(lead.ID), Value: money(1250.5), ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStageDiscovery, p.Stage)
	require.NotNil(t, p.LeadID)
	assert.Equal(t, lead.ID, *p.LeadID)

	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 1250.50, *got.Value, 0.001)

	evts, err := env.Engine.LeadEvents(env.Ctx, lead.ID, 1)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "project.created", evts[0].Type)
	assert.Equal(t, "alice", evts[0].ActorID)

	unlinked, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Stage: domain.ProjectStageBuild})
	require.NoError(t, err)
	assert.Nil(t, unlinked.LeadID)
	assert.Nil(t, unlinked.Value)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Stage: "maintenance"})
	requireInvalid(t, err, "stage")
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Value: money(-1)})
	requireInvalid(t, err, "value")
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Value: money(engine.MaxProjectValue + 1)})
	requireInvalid(t, err, "value")
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{LeadID: str("missing")})
	requireInvalid(t, err, "lead_id")
}

func TestUpdateProject(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Acme"})
	require.NoError(t, err)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{LeadID: str(lead.ID), Value: money(900)})
	require.NoError(t, err)

	updated, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Stage: str(domain.ProjectStageLaunch)})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStageLaunch, updated.Stage)
	require.NotNil(t, updated.Value)
	assert.InDelta(t, 900.0, *updated.Value, 0.001)
	assert.NotNil(t, updated.UpdatedAt)

	cleared, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, ClearValue: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.Value)

	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Stage: str("done")})
	requireInvalid(t, err, "stage")
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: "missing", Stage: str(domain.ProjectStageBuild)})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	evts, err := env.Engine.LeadEvents(env.Ctx, lead.ID, 0)
	require.NoError(t, err)
	require.Len(t, evts, 4)
	assert.Equal(t, "project.updated", evts[1].Type)
	assert.Contains(t, evts[1].Payload, `"previous_stage":"discovery"`)
}

func TestProjectsOutliveTheirLead(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{CompanyName: "Acme"})
	require.NoError(t, err)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{LeadID: str(lead.ID)})
	require.NoError(t, err)
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Stage: domain.ProjectStageBuild})
	require.NoError(t, err)

	byLead, err := env.Engine.ListProjects(env.Ctx, engine.ProjectListOptions{LeadID: lead.ID})
	require.NoError(t, err)
	require.Len(t, byLead, 1)
	assert.Equal(t, p.ID, byLead[0].ID)

	require.NoError(t, env.Engine.DeleteLead(env.Ctx, lead.ID, "admin"))
	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LeadID)

	building, err := env.Engine.ListProjects(env.Ctx, engine.ProjectListOptions{Stage: domain.ProjectStageBuild})
	require.NoError(t, err)
	assert.Len(t, building, 1)
	_, err = env.Engine.ListProjects(env.Ctx, engine.ProjectListOptions{Stage: "bogus"})
	requireInvalid(t, err, "stage")

	require.NoError(t, env.Engine.DeleteProject(env.Ctx, p.ID, "admin"))
	assert.ErrorIs(t, env.Engine.DeleteProject(env.Ctx, p.ID, "admin"), repo.ErrNotFound)
}
