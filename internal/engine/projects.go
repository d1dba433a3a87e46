package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
)

// MaxProjectValue is the largest value a project can carry.
const MaxProjectValue = 99999999.99

type ProjectCreateOptions struct {
	LeadID  *string  `validate:"omitnil,max=64"`
	Stage   string   `validate:"omitempty,oneof=discovery build launch"`
	Value   *float64 `validate:"omitnil,gte=0,lte=99999999.99"`
	ActorID string
}

// CreateProject opens a project, optionally linked to an existing lead.
// Stage defaults to discovery.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	opts.LeadID = nonEmpty(trimPtr(opts.LeadID))
	opts.Stage = strings.TrimSpace(opts.Stage)
	if err := e.check(opts); err != nil {
		return domain.Project{}, err
	}
	if opts.Stage == "" {
		opts.Stage = domain.ProjectStageDiscovery
	}
	p := domain.Project{
		ID:        e.NewID(),
		LeadID:    opts.LeadID,
		Stage:     opts.Stage,
		Value:     opts.Value,
		CreatedAt: domain.FormatTime(e.now()),
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if p.LeadID != nil {
		if _, err := e.Repo.GetLeadTx(ctx, tx, *p.LeadID); errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, invalid("lead_id", "unknown lead")
		} else if err != nil {
			return domain.Project{}, err
		}
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.projectEvent(ctx, tx, events.ProjectCreated, p, opts.ActorID, events.EventPayload{"stage": p.Stage}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

type ProjectListOptions struct {
	LeadID string
	Stage  string
	Skip   int
	Limit  int
}

func (e Engine) ListProjects(ctx context.Context, opts ProjectListOptions) ([]domain.Project, error) {
	if opts.Stage != "" && !domain.ValidProjectStage(opts.Stage) {
		return nil, invalid("stage", "oneof=discovery build launch")
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLeadLimit
	}
	if opts.Limit > MaxLeadLimit {
		opts.Limit = MaxLeadLimit
	}
	projects, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
		LeadID: strings.TrimSpace(opts.LeadID),
		Stage:  opts.Stage,
		Skip:   opts.Skip,
		Limit:  opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	return projects, nil
}

// ProjectUpdateOptions is a partial update. ClearValue removes the value.
type ProjectUpdateOptions struct {
	ID         string
	Stage      *string  `validate:"omitnil,oneof=discovery build launch"`
	Value      *float64 `validate:"omitnil,gte=0,lte=99999999.99"`
	ClearValue bool
	ActorID    string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	if err := e.check(opts); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	patch := repo.ProjectPatch{
		Stage:      opts.Stage,
		Value:      opts.Value,
		ClearValue: opts.ClearValue,
		UpdatedAt:  domain.FormatTime(e.now()),
	}
	if patch.Empty() {
		return current, nil
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, opts.ID, patch); err != nil {
		return domain.Project{}, err
	}
	updated, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	payload := events.EventPayload{"project_id": updated.ID, "stage": updated.Stage}
	if current.Stage != updated.Stage {
		payload["previous_stage"] = current.Stage
	}
	if err := e.projectEvent(ctx, tx, events.ProjectUpdated, updated, opts.ActorID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return updated, nil
}

func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.projectEvent(ctx, tx, events.ProjectDeleted, p, actorID, events.EventPayload{"stage": p.Stage}); err != nil {
		return err
	}
	return tx.Commit()
}

// projectEvent records a project change on its lead's trail. Unlinked
// projects have no trail.
func (e Engine) projectEvent(ctx context.Context, tx *sql.Tx, evtType string, p domain.Project, actorID string, payload events.EventPayload) error {
	if p.LeadID == nil {
		return nil
	}
	payload["project_id"] = p.ID
	return e.Events.Append(ctx, tx, evtType, *p.LeadID, actorID, payload)
}
