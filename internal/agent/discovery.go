package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"leadline/internal/domain"
	"leadline/internal/events"
)

// UnknownCompany is stored when a discovered item has no company name.
const UnknownCompany = "Unknown"

const maxCompanyName = 255

// Discovery ingests discovered leads, deduplicating on exact website.
type Discovery struct {
	deps Deps
}

type DiscoveredLead struct {
	CompanyName *string `json:"company_name"`
	Website     *string `json:"website"`
	Region      *string `json:"region"`
}

type discoveryInput struct {
	Leads json.RawMessage `json:"leads"`
}

func (Discovery) Kind() Kind   { return KindDiscovery }
func (Discovery) Name() string { return "Discovery Agent" }
func (Discovery) Description() string {
	return "Ingests and deduplicates leads from discovery workflows"
}

func (d Discovery) Execute(ctx context.Context, input json.RawMessage) (Outcome, error) {
	items, problem := parseDiscoveryInput(input)
	if problem != "" {
		return Outcome{Status: domain.RunStatusFailed, ErrorMessage: problem}, nil
	}

	r := d.deps.Repo
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return Outcome{}, storeError(err)
	}
	defer tx.Rollback()

	evts := d.deps.events()
	now := domain.FormatTime(d.deps.Now())
	created, duplicates := 0, 0
	for _, item := range items {
		website := trimmed(item.Website)
		if website != "" {
			exists, err := r.WebsiteExistsTx(ctx, tx, website)
			if err != nil {
				return Outcome{}, storeError(err)
			}
			if exists {
				duplicates++
				continue
			}
		}
		lead := domain.Lead{
			ID:            d.deps.NewID(),
			CompanyName:   d.companyName(item.CompanyName),
			Status:        domain.LeadStatusNew,
			VettingStatus: domain.VettingPending,
			Version:       1,
			CreatedAt:     now,
		}
		if website != "" {
			lead.Website = &website
		}
		if region := d.clean(item.Region); region != "" {
			lead.Region = &region
		}
		if err := r.InsertLeadTx(ctx, tx, lead); err != nil {
			return Outcome{}, storeError(fmt.Errorf("insert lead: %w", err))
		}
		if err := evts.Append(ctx, tx, events.LeadDiscovered, lead.ID, actorFor(KindDiscovery), events.EventPayload{
			"company_name": lead.CompanyName,
			"website":      website,
		}); err != nil {
			return Outcome{}, storeError(err)
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, storeError(err)
	}
	return Outcome{
		Status:           domain.RunStatusSuccess,
		RecordsProcessed: created,
		Metadata: map[string]any{
			"new_leads":          created,
			"duplicates_skipped": duplicates,
			"total_received":     len(items),
		},
	}, nil
}

func parseDiscoveryInput(input json.RawMessage) ([]DiscoveredLead, string) {
	const missing = "No leads provided in context"
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, missing
	}
	var in discoveryInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, fmt.Sprintf("invalid context: %v", err)
	}
	leads := bytes.TrimSpace(in.Leads)
	if len(leads) == 0 || bytes.Equal(leads, []byte("null")) {
		return nil, missing
	}
	var items []DiscoveredLead
	if err := json.Unmarshal(leads, &items); err != nil {
		return nil, fmt.Sprintf("invalid leads: %v", err)
	}
	return items, ""
}

// trimmed returns v without surrounding whitespace. Websites are dedup keys
// and are otherwise stored as received.
func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// clean strips markup scraped along with a value and trims it.
func (d Discovery) clean(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(d.deps.Sanitizer.Sanitize(*v)))
}

func (d Discovery) companyName(v *string) string {
	name := d.clean(v)
	if name == "" {
		return UnknownCompany
	}
	if r := []rune(name); len(r) > maxCompanyName {
		name = string(r[:maxCompanyName])
	}
	return name
}
