package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"leadline/internal/db"
	"leadline/internal/domain"
)

const leadColumns = `id,company_name,website,region,status,vetting_status,rejection_reason,pain_points_json,score,version,created_at,updated_at`

func scanLead(s scanner) (domain.Lead, error) {
	var (
		l                                  domain.Lead
		website, region, reason, pain, upd sql.NullString
	)
	err := s.Scan(&l.ID, &l.CompanyName, &website, &region, &l.Status, &l.VettingStatus, &reason, &pain, &l.Score, &l.Version, &l.CreatedAt, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.Website = stringPtr(website)
	l.Region = stringPtr(region)
	l.RejectionReason = stringPtr(reason)
	l.UpdatedAt = stringPtr(upd)
	l.PainPoints, err = decodeJSON(pain)
	return l, err
}

func (r Repo) InsertLead(ctx context.Context, l domain.Lead) error {
	return r.insertLead(ctx, r.DB, l)
}

func (r Repo) InsertLeadTx(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	return r.insertLead(ctx, tx, l)
}

func (r Repo) insertLead(ctx context.Context, q querier, l domain.Lead) error {
	pain, err := encodeJSON(l.PainPoints)
	if err != nil {
		return err
	}
	if l.Version == 0 {
		l.Version = 1
	}
	_, err = q.ExecContext(ctx, r.q(`INSERT INTO leads(`+leadColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		l.ID, l.CompanyName, nullableStringPtr(l.Website), nullableStringPtr(l.Region), l.Status, l.VettingStatus,
		nullableStringPtr(l.RejectionReason), pain, l.Score, l.Version, l.CreatedAt, nullableStringPtr(l.UpdatedAt))
	return err
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, r.q(`SELECT `+leadColumns+` FROM leads WHERE id=?`), id))
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx, r.q(`SELECT `+leadColumns+` FROM leads WHERE id=?`), id))
}

// WebsiteExistsTx reports whether a lead with exactly this website exists,
// including rows inserted earlier in tx.
func (r Repo) WebsiteExistsTx(ctx context.Context, tx *sql.Tx, website string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, r.q(`SELECT COUNT(1) FROM leads WHERE website=?`), website).Scan(&n)
	return n > 0, err
}

type LeadFilters struct {
	Status        string
	VettingStatus string
	Skip          int
	Limit         int
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.VettingStatus != "" {
		clauses = append(clauses, "vetting_status=?")
		args = append(args, f.VettingStatus)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + leadColumns + ` FROM leads ` + where + ` ORDER BY created_at DESC, id DESC`
	query, args = r.limitOffset(query, args, f.Limit, f.Skip)
	return r.queryLeads(ctx, query, args...)
}

// PendingLeads returns every lead awaiting a vetting decision, oldest first.
func (r Repo) PendingLeads(ctx context.Context) ([]domain.Lead, error) {
	return r.queryLeads(ctx, `SELECT `+leadColumns+` FROM leads WHERE vetting_status=? ORDER BY created_at ASC, id ASC`, domain.VettingPending)
}

// EnrichmentCandidates returns approved leads with a website that have not
// been scored yet, oldest first, capped at limit.
func (r Repo) EnrichmentCandidates(ctx context.Context, limit int) ([]domain.Lead, error) {
	return r.queryLeads(ctx, `SELECT `+leadColumns+` FROM leads
WHERE vetting_status=? AND website IS NOT NULL AND website <> '' AND score = 0
ORDER BY created_at ASC, id ASC LIMIT ?`, domain.VettingApproved, limit)
}

func (r Repo) queryLeads(ctx context.Context, query string, args ...any) ([]domain.Lead, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// LeadPatch lists the lead fields an update may set. Nil fields are left
// unchanged. ClearRejection nulls rejection_reason.
type LeadPatch struct {
	CompanyName     *string
	Website         *string
	Region          *string
	Status          *string
	VettingStatus   *string
	RejectionReason *string
	ClearRejection  bool
	PainPoints      map[string]any
	Score           *int
	UpdatedAt       string
}

func (p LeadPatch) Empty() bool {
	return p.CompanyName == nil && p.Website == nil && p.Region == nil && p.Status == nil &&
		p.VettingStatus == nil && p.RejectionReason == nil && !p.ClearRejection && p.PainPoints == nil && p.Score == nil
}

// UpdateLeadTx applies patch to the lead and bumps its version. When
// expectVersion > 0 the update only applies if the stored version matches;
// otherwise ErrConflict is returned. expectVersion 0 updates unconditionally.
func (r Repo) UpdateLeadTx(ctx context.Context, tx *sql.Tx, id string, expectVersion int, patch LeadPatch) error {
	var (
		fields []string
		args   []any
	)
	if patch.CompanyName != nil {
		fields = append(fields, "company_name=?")
		args = append(args, *patch.CompanyName)
	}
	if patch.Website != nil {
		fields = append(fields, "website=?")
		args = append(args, nullable(*patch.Website))
	}
	if patch.Region != nil {
		fields = append(fields, "region=?")
		args = append(args, nullable(*patch.Region))
	}
	if patch.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *patch.Status)
	}
	if patch.VettingStatus != nil {
		fields = append(fields, "vetting_status=?")
		args = append(args, *patch.VettingStatus)
	}
	if patch.RejectionReason != nil {
		fields = append(fields, "rejection_reason=?")
		args = append(args, nullable(*patch.RejectionReason))
	} else if patch.ClearRejection {
		fields = append(fields, "rejection_reason=NULL")
	}
	if patch.PainPoints != nil {
		pain, err := encodeJSON(patch.PainPoints)
		if err != nil {
			return err
		}
		fields = append(fields, "pain_points_json=?")
		args = append(args, pain)
	}
	if patch.Score != nil {
		fields = append(fields, "score=?")
		args = append(args, *patch.Score)
	}
	if patch.Empty() {
		return nil
	}
	fields = append(fields, "version=version+1")
	if patch.UpdatedAt != "" {
		fields = append(fields, "updated_at=?")
		args = append(args, patch.UpdatedAt)
	}
	query := fmt.Sprintf(`UPDATE leads SET %s WHERE id=?`, strings.Join(fields, ","))
	args = append(args, id)
	if expectVersion > 0 {
		query += " AND version=?"
		args = append(args, expectVersion)
	}
	res, err := tx.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetLeadTx(ctx, tx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (r Repo) DeleteLeadTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM leads WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountLeadsByVetting returns lead counts keyed by vetting_status.
func (r Repo) CountLeadsByVetting(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT vetting_status, COUNT(1) FROM leads GROUP BY vetting_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

func (r Repo) limitOffset(query string, args []any, limit, skip int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if skip > 0 {
			query += " OFFSET ?"
			args = append(args, skip)
		}
		return query, args
	}
	if skip > 0 {
		// sqlite only accepts OFFSET after a LIMIT.
		if r.Dialect == db.SQLite {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, skip)
	}
	return query, args
}
