package repo

import (
	"context"
	"database/sql"

	"leadline/internal/domain"
)

func (r Repo) InsertLeadEventTx(ctx context.Context, tx *sql.Tx, e domain.LeadEvent) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO lead_events(ts,type,lead_id,actor_id,payload_json) VALUES (?,?,?,?,?)`),
		e.TS, e.Type, e.LeadID, e.ActorID, e.Payload)
	return err
}

// LeadEvents returns the audit trail of one lead, newest first.
func (r Repo) LeadEvents(ctx context.Context, leadID string, limit int) ([]domain.LeadEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,ts,type,lead_id,actor_id,payload_json FROM lead_events WHERE lead_id=? ORDER BY id DESC LIMIT ?`), leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadEvent
	for rows.Next() {
		var e domain.LeadEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.LeadID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
