package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"leadline/internal/domain"
	"leadline/internal/repo"
)

// Lead event types.
const (
	LeadCreated    = "lead.created"
	LeadDiscovered = "lead.discovered"
	LeadApproved   = "lead.approved"
	LeadRejected   = "lead.rejected"
	LeadEnriching  = "lead.enriching"
	LeadEnriched   = "lead.enriched"
	LeadUpdated    = "lead.updated"
	LeadDeleted    = "lead.deleted"

	// Project events land on the trail of the project's lead.
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"
)

// Writer appends lead audit rows inside the caller's transaction so the
// event commits or rolls back with the mutation it describes.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, leadID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Repo.InsertLeadEventTx(ctx, tx, domain.LeadEvent{
		TS:      domain.FormatTime(w.Now()),
		Type:    evtType,
		LeadID:  leadID,
		ActorID: actorID,
		Payload: string(data),
	})
}
