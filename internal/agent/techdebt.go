package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
)

// maxReportedErrors is how many per-lead failures make it into the outcome
// message. All failures are counted.
const maxReportedErrors = 3

// TechDebt hands approved, unscored leads to the workflow engine for website
// analysis. Its job ends once the analysis is triggered; results arrive later
// through the enrichment callback.
type TechDebt struct {
	deps Deps
}

type techDebtInput struct {
	Limit *int `json:"limit"`
}

func (TechDebt) Kind() Kind   { return KindTechDebt }
func (TechDebt) Name() string { return "Tech Debt Agent" }
func (TechDebt) Description() string {
	return "Triggers website technical analysis for approved leads"
}

func (t TechDebt) limit(input json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return t.deps.TechDebtLimit, nil
	}
	var in techDebtInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return 0, err
	}
	if in.Limit == nil || *in.Limit <= 0 {
		return t.deps.TechDebtLimit, nil
	}
	return *in.Limit, nil
}

// OutcomeStatus folds trigger counts into a run status.
func OutcomeStatus(succeeded, failed int) string {
	switch {
	case failed == 0:
		return domain.RunStatusSuccess
	case succeeded > 0:
		return domain.RunStatusPartial
	default:
		return domain.RunStatusFailed
	}
}

func (t TechDebt) Execute(ctx context.Context, input json.RawMessage) (Outcome, error) {
	limit, err := t.limit(input)
	if err != nil {
		return Outcome{Status: domain.RunStatusFailed, ErrorMessage: fmt.Sprintf("invalid context: %v", err)}, nil
	}
	if t.deps.Bridge == nil {
		return Outcome{}, &ExecutionError{Kind: FailureInternal, Err: errors.New("no webhook bridge configured")}
	}
	r := t.deps.Repo
	candidates, err := r.EnrichmentCandidates(ctx, limit)
	if err != nil {
		return Outcome{}, storeError(err)
	}

	// Webhook calls happen outside the transaction so a slow engine does not
	// hold the store's write lock.
	var (
		triggered []domain.Lead
		failures  []string
	)
	stopped := func() error {
		return &ExecutionError{Kind: FailureCanceled, Err: fmt.Errorf("stopped after %d of %d triggers: %w", len(triggered), len(candidates), ctx.Err())}
	}
	for _, lead := range candidates {
		if ctx.Err() != nil {
			return Outcome{}, stopped()
		}
		if err := t.deps.Bridge.TriggerTechDebtAnalysis(ctx, lead.ID, lead.WebsiteOrEmpty()); err != nil {
			if ctx.Err() != nil {
				return Outcome{}, stopped()
			}
			failures = append(failures, fmt.Sprintf("lead %s: %v", lead.ID, err))
			t.deps.Logger.Warn("tech debt trigger failed", "lead_id", lead.ID, "error", err.Error())
			continue
		}
		triggered = append(triggered, lead)
	}

	conflicts := 0
	if len(triggered) > 0 {
		tx, err := r.BeginTx(ctx)
		if err != nil {
			return Outcome{}, storeError(err)
		}
		defer tx.Rollback()
		evts := t.deps.events()
		now := domain.FormatTime(t.deps.Now())
		for _, lead := range triggered {
			err := r.UpdateLeadTx(ctx, tx, lead.ID, lead.Version, repo.LeadPatch{
				Status:    strPtr(domain.LeadStatusEnriching),
				UpdatedAt: now,
			})
			if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
				conflicts++
				t.deps.Logger.Warn("tech debt status not recorded", "lead_id", lead.ID, "error", err.Error())
				continue
			}
			if err != nil {
				return Outcome{}, storeError(err)
			}
			if err := evts.Append(ctx, tx, events.LeadEnriching, lead.ID, actorFor(KindTechDebt), events.EventPayload{
				"website": lead.WebsiteOrEmpty(),
			}); err != nil {
				return Outcome{}, storeError(err)
			}
		}
		if err := tx.Commit(); err != nil {
			return Outcome{}, storeError(err)
		}
	}

	out := Outcome{
		Status:           OutcomeStatus(len(triggered), len(failures)),
		RecordsProcessed: len(triggered),
		Metadata: map[string]any{
			"success":          len(triggered),
			"failed":           len(failures),
			"total_candidates": len(candidates),
			"conflicts":        conflicts,
		},
	}
	if len(failures) > 0 {
		shown := failures
		if len(shown) > maxReportedErrors {
			shown = shown[:maxReportedErrors]
		}
		out.ErrorMessage = strings.Join(shown, "; ")
	}
	return out, nil
}
