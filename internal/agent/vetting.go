package agent

import (
	"context"
	"encoding/json"
	"errors"
	"unicode/utf8"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
)

// Rejection reasons.
const (
	ReasonNoWebsite      = "No valid website"
	ReasonInvalidCompany = "Invalid company name"
)

const (
	minWebsiteLen = 4
	minCompanyLen = 3
)

// Vetting decides every pending lead. The first matching rule wins.
type Vetting struct {
	deps Deps
}

func (Vetting) Kind() Kind          { return KindVetting }
func (Vetting) Name() string        { return "Vetting Agent" }
func (Vetting) Description() string { return "Applies business rules to approve or reject leads" }

// RejectionReason returns the reason lead fails vetting, or "" when it passes.
func RejectionReason(lead domain.Lead) string {
	if utf8.RuneCountInString(lead.WebsiteOrEmpty()) < minWebsiteLen {
		return ReasonNoWebsite
	}
	if utf8.RuneCountInString(lead.CompanyName) < minCompanyLen {
		return ReasonInvalidCompany
	}
	return ""
}

func (v Vetting) Execute(ctx context.Context, _ json.RawMessage) (Outcome, error) {
	r := v.deps.Repo
	pending, err := r.PendingLeads(ctx)
	if err != nil {
		return Outcome{}, storeError(err)
	}
	return v.decide(ctx, pending)
}

// decide applies the rules to leads as read. A lead whose stored version
// moved on since is skipped and counted as a conflict.
func (v Vetting) decide(ctx context.Context, pending []domain.Lead) (Outcome, error) {
	r := v.deps.Repo
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return Outcome{}, storeError(err)
	}
	defer tx.Rollback()

	evts := v.deps.events()
	now := domain.FormatTime(v.deps.Now())
	approved, rejected, conflicts := 0, 0, 0
	for _, lead := range pending {
		patch := repo.LeadPatch{UpdatedAt: now}
		evtType := events.LeadApproved
		payload := events.EventPayload{}
		if reason := RejectionReason(lead); reason != "" {
			patch.VettingStatus = strPtr(domain.VettingRejected)
			patch.Status = strPtr(domain.LeadStatusRejected)
			patch.RejectionReason = strPtr(reason)
			evtType = events.LeadRejected
			payload["reason"] = reason
		} else {
			patch.VettingStatus = strPtr(domain.VettingApproved)
			patch.Status = strPtr(domain.LeadStatusVetted)
			patch.ClearRejection = true
		}
		err := r.UpdateLeadTx(ctx, tx, lead.ID, lead.Version, patch)
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			// Changed or deleted since it was read; the next run sees the new state.
			conflicts++
			v.deps.Logger.Warn("vetting skipped lead", "lead_id", lead.ID, "error", err.Error())
			continue
		}
		if err != nil {
			return Outcome{}, storeError(err)
		}
		if err := evts.Append(ctx, tx, evtType, lead.ID, actorFor(KindVetting), payload); err != nil {
			return Outcome{}, storeError(err)
		}
		if evtType == events.LeadApproved {
			approved++
		} else {
			rejected++
		}
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, storeError(err)
	}
	return Outcome{
		Status:           domain.RunStatusSuccess,
		RecordsProcessed: approved + rejected,
		Metadata: map[string]any{
			"approved":  approved,
			"rejected":  rejected,
			"conflicts": conflicts,
		},
	}, nil
}

func strPtr(s string) *string { return &s }
