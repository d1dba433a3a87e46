package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"leadline/internal/domain"
)

const projectColumns = `id,lead_id,stage,value_cents,created_at,updated_at`

// Values are stored as whole cents.
func toCents(v *float64) any {
	if v == nil {
		return nil
	}
	return int64(math.Round(*v * 100))
}

func fromCents(c sql.NullInt64) *float64 {
	if !c.Valid {
		return nil
	}
	v := float64(c.Int64) / 100
	return &v
}

func scanProject(s scanner) (domain.Project, error) {
	var (
		p        domain.Project
		lead     sql.NullString
		upd      sql.NullString
		valCents sql.NullInt64
	)
	err := s.Scan(&p.ID, &lead, &p.Stage, &valCents, &p.CreatedAt, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.LeadID = stringPtr(lead)
	p.UpdatedAt = stringPtr(upd)
	p.Value = fromCents(valCents)
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?)`),
		p.ID, nullableStringPtr(p.LeadID), p.Stage, toCents(p.Value), p.CreatedAt, nullableStringPtr(p.UpdatedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, r.q(`SELECT `+projectColumns+` FROM projects WHERE id=?`), id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, r.q(`SELECT `+projectColumns+` FROM projects WHERE id=?`), id))
}

type ProjectFilters struct {
	LeadID string
	Stage  string
	Skip   int
	Limit  int
}

// ListProjects returns projects newest-created first.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.LeadID != "" {
		clauses = append(clauses, "lead_id=?")
		args = append(args, f.LeadID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	query, args = r.limitOffset(query, args, f.Limit, f.Skip)
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectPatch lists the project fields an update may set. ClearValue nulls
// the value.
type ProjectPatch struct {
	Stage      *string
	Value      *float64
	ClearValue bool
	UpdatedAt  string
}

func (p ProjectPatch) Empty() bool {
	return p.Stage == nil && p.Value == nil && !p.ClearValue
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, id string, patch ProjectPatch) error {
	if patch.Empty() {
		return nil
	}
	var (
		fields []string
		args   []any
	)
	if patch.Stage != nil {
		fields = append(fields, "stage=?")
		args = append(args, *patch.Stage)
	}
	if patch.Value != nil {
		fields = append(fields, "value_cents=?")
		args = append(args, toCents(patch.Value))
	} else if patch.ClearValue {
		fields = append(fields, "value_cents=NULL")
	}
	if patch.UpdatedAt != "" {
		fields = append(fields, "updated_at=?")
		args = append(args, patch.UpdatedAt)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, r.q(fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ","))), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM projects WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
