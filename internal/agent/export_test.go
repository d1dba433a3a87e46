package agent

import (
	"context"

	"leadline/internal/domain"
)

// VetLeads runs the vetting decisions over an already-read set of leads.
func VetLeads(ctx context.Context, d Deps, pending []domain.Lead) (Outcome, error) {
	return Vetting{deps: d.withDefaults()}.decide(ctx, pending)
}
