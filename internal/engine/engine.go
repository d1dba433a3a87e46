package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
)

// Triggers are the workflow-engine operations the engine can start by hand.
type Triggers interface {
	TriggerReviewMining(ctx context.Context, leadID, companyName string) error
	TriggerDiscovery(ctx context.Context) (map[string]any, error)
}

// Engine administers leads outside the agent pipeline: manual edits, the
// enrichment callback and hand-started workflow runs.
type Engine struct {
	Repo     repo.Repo
	Events   events.Writer
	Triggers Triggers
	Now      func() time.Time
	NewID    func() string

	validate *validator.Validate
}

func New(r repo.Repo, triggers Triggers) Engine {
	return Engine{
		Repo:     r,
		Events:   events.Writer{Repo: r},
		Triggers: triggers,
		Now:      time.Now,
		NewID:    uuid.NewString,
		validate: validator.New(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError lists rejected input fields.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func (e Engine) check(v any) error {
	val := e.validate
	if val == nil {
		val = validator.New()
	}
	err := val.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range ves {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		out.Fields[snake(fe.Field())] = reason
	}
	return out
}

// snake maps a Go field name to its JSON key: CompanyName -> company_name,
// LeadID -> lead_id.
func snake(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(prev >= 'A' && prev <= 'Z') {
				b.WriteByte('_')
			}
			prev = r
			r += 'a' - 'A'
		} else {
			prev = r
		}
		b.WriteRune(r)
	}
	return b.String()
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

type LeadCreateOptions struct {
	CompanyName string  `validate:"required,max=255"`
	Website     *string `validate:"omitnil,max=500"`
	Region      *string `validate:"omitnil,max=100"`
	ActorID     string
}

func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	opts.CompanyName = strings.TrimSpace(opts.CompanyName)
	opts.Website = trimPtr(opts.Website)
	opts.Region = trimPtr(opts.Region)
	if err := e.check(opts); err != nil {
		return domain.Lead{}, err
	}
	lead := domain.Lead{
		ID:            e.NewID(),
		CompanyName:   opts.CompanyName,
		Website:       nonEmpty(opts.Website),
		Region:        nonEmpty(opts.Region),
		Status:        domain.LeadStatusNew,
		VettingStatus: domain.VettingPending,
		Version:       1,
		CreatedAt:     domain.FormatTime(e.now()),
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLeadTx(ctx, tx, lead); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.LeadCreated, lead.ID, opts.ActorID, events.EventPayload{
		"company_name": lead.CompanyName,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (e Engine) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return e.Repo.GetLead(ctx, id)
}

const (
	DefaultLeadLimit = 100
	MaxLeadLimit     = 500
)

type LeadListOptions struct {
	Status        string
	VettingStatus string
	Skip          int
	Limit         int
}

func (e Engine) ListLeads(ctx context.Context, opts LeadListOptions) ([]domain.Lead, error) {
	if opts.Status != "" && !domain.ValidLeadStatus(opts.Status) {
		return nil, invalid("status", "oneof="+strings.Join(domain.LeadStatuses(), " "))
	}
	if opts.VettingStatus != "" && !domain.ValidVettingStatus(opts.VettingStatus) {
		return nil, invalid("vetting_status", "oneof=pending approved rejected")
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
	leads, err := e.Repo.ListLeads(ctx, repo.LeadFilters{
		Status:        opts.Status,
		VettingStatus: opts.VettingStatus,
		Skip:          opts.Skip,
		Limit:         opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	return leads, nil
}

// LeadUpdateOptions is a partial update; nil fields are left alone.
type LeadUpdateOptions struct {
	ID            string
	CompanyName   *string        `validate:"omitnil,min=1,max=255"`
	Website       *string        `validate:"omitnil,max=500"`
	Region        *string        `validate:"omitnil,max=100"`
	Status        *string        `validate:"omitnil,oneof=new vetted rejected enriching enriched contacted closed"`
	VettingStatus *string        `validate:"omitnil,oneof=pending approved rejected"`
	PainPoints    map[string]any `validate:"-"`
	Score         *int           `validate:"omitnil,min=0,max=100"`
	// ExpectVersion, when > 0, makes the update fail with repo.ErrConflict
	// if the lead changed since it was read.
	ExpectVersion int
	ActorID       string
}

func (o LeadUpdateOptions) changed() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(o.CompanyName != nil, "company_name")
	add(o.Website != nil, "website")
	add(o.Region != nil, "region")
	add(o.Status != nil, "status")
	add(o.VettingStatus != nil, "vetting_status")
	add(o.PainPoints != nil, "pain_points")
	add(o.Score != nil, "score")
	return out
}

func (e Engine) UpdateLead(ctx context.Context, opts LeadUpdateOptions) (domain.Lead, error) {
	opts.CompanyName = trimPtr(opts.CompanyName)
	opts.Website = trimPtr(opts.Website)
	opts.Region = trimPtr(opts.Region)
	if err := e.check(opts); err != nil {
		return domain.Lead{}, err
	}
	patch := repo.LeadPatch{
		CompanyName:   opts.CompanyName,
		Website:       opts.Website,
		Region:        opts.Region,
		Status:        opts.Status,
		VettingStatus: opts.VettingStatus,
		PainPoints:    opts.PainPoints,
		Score:         opts.Score,
		UpdatedAt:     domain.FormatTime(e.now()),
	}
	if opts.VettingStatus != nil && *opts.VettingStatus != domain.VettingRejected {
		patch.ClearRejection = true
	}
	return e.patchLead(ctx, opts.ID, opts.ExpectVersion, patch, events.LeadUpdated, opts.ActorID,
		events.EventPayload{"fields": opts.changed()})
}

// EnrichmentResult is the asynchronous analysis callback. Only provided
// fields are applied.
type EnrichmentResult struct {
	PainPoints map[string]any `validate:"-"`
	Score      *int           `validate:"omitnil,min=0,max=100"`
	Status     *string        `validate:"omitnil,oneof=new vetted rejected enriching enriched contacted closed"`
	ActorID    string
}

// ApplyEnrichment patches pain points, score and status on a lead. It does
// not check versions: results may land at any time after triggering.
func (e Engine) ApplyEnrichment(ctx context.Context, id string, res EnrichmentResult) (domain.Lead, error) {
	if err := e.check(res); err != nil {
		return domain.Lead{}, err
	}
	if res.ActorID == "" {
		res.ActorID = "workflow"
	}
	payload := events.EventPayload{}
	if res.Score != nil {
		payload["score"] = *res.Score
	}
	if res.Status != nil {
		payload["status"] = *res.Status
	}
	payload["pain_points"] = res.PainPoints != nil
	return e.patchLead(ctx, id, 0, repo.LeadPatch{
		PainPoints: res.PainPoints,
		Score:      res.Score,
		Status:     res.Status,
		UpdatedAt:  domain.FormatTime(e.now()),
	}, events.LeadEnriched, res.ActorID, payload)
}

func (e Engine) patchLead(ctx context.Context, id string, expectVersion int, patch repo.LeadPatch, evtType, actorID string, payload events.EventPayload) (domain.Lead, error) {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetLeadTx(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if expectVersion > 0 && current.Version != expectVersion {
		return domain.Lead{}, repo.ErrConflict
	}
	if patch.Empty() {
		return current, nil
	}
	if err := e.Repo.UpdateLeadTx(ctx, tx, id, current.Version, patch); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, id, actorID, payload); err != nil {
		return domain.Lead{}, err
	}
	updated, err := e.Repo.GetLeadTx(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return updated, nil
}

func (e Engine) DeleteLead(ctx context.Context, id, actorID string) error {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	lead, err := e.Repo.GetLeadTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteLeadTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.LeadDeleted, id, actorID, events.EventPayload{
		"company_name": lead.CompanyName,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ErrNoTriggers is returned when no workflow engine is configured.
var ErrNoTriggers = errors.New("workflow engine not configured")

// TriggerReviews starts review mining for one lead.
func (e Engine) TriggerReviews(ctx context.Context, id string) error {
	if e.Triggers == nil {
		return ErrNoTriggers
	}
	lead, err := e.Repo.GetLead(ctx, id)
	if err != nil {
		return err
	}
	return e.Triggers.TriggerReviewMining(ctx, lead.ID, lead.CompanyName)
}

// TriggerDiscovery starts the workflow engine's discovery run.
func (e Engine) TriggerDiscovery(ctx context.Context) (map[string]any, error) {
	if e.Triggers == nil {
		return nil, ErrNoTriggers
	}
	return e.Triggers.TriggerDiscovery(ctx)
}

// LeadEvents returns a lead's audit trail, newest first. Events outlive the
// lead they describe.
func (e Engine) LeadEvents(ctx context.Context, id string, limit int) ([]domain.LeadEvent, error) {
	evts, err := e.Repo.LeadEvents(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	if evts == nil {
		evts = []domain.LeadEvent{}
	}
	return evts, nil
}
