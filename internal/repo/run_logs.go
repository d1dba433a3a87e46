package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"leadline/internal/domain"
)

const runLogColumns = `id,agent_name,run_id,start_time,end_time,status,records_processed,error_message,created_at`

func scanRunLog(s scanner) (domain.AgentExecutionLog, error) {
	var (
		l            domain.AgentExecutionLog
		end, errText sql.NullString
	)
	err := s.Scan(&l.ID, &l.AgentName, &l.RunID, &l.StartTime, &end, &l.Status, &l.RecordsProcessed, &errText, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.EndTime = stringPtr(end)
	l.ErrorMessage = stringPtr(errText)
	return l, nil
}

// CreateRunLog inserts a log row in the running state and returns its id.
// The row is committed when CreateRunLog returns.
func (r Repo) CreateRunLog(ctx context.Context, l domain.AgentExecutionLog) (int64, error) {
	if l.Status == "" {
		l.Status = domain.RunStatusRunning
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, r.q(`INSERT INTO agent_execution_logs(agent_name,run_id,start_time,end_time,status,records_processed,error_message,created_at)
VALUES (?,?,?,?,?,?,?,?) RETURNING id`),
		l.AgentName, l.RunID, l.StartTime, nullableStringPtr(l.EndTime), l.Status, l.RecordsProcessed,
		nullableStringPtr(l.ErrorMessage), l.CreatedAt).Scan(&id)
	return id, err
}

// RunLogResult is the terminal update folded into a running log.
type RunLogResult struct {
	Status           string
	EndTime          string
	RecordsProcessed int
	ErrorMessage     string
}

// FinalizeRunLog moves a running log to a terminal status. A log can be
// finalized once; later attempts return ErrLogFinalized.
func (r Repo) FinalizeRunLog(ctx context.Context, id int64, res RunLogResult) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	out, err := tx.ExecContext(ctx, r.q(`UPDATE agent_execution_logs SET status=?, end_time=?, records_processed=?, error_message=?
WHERE id=? AND status=?`),
		res.Status, res.EndTime, res.RecordsProcessed, nullable(res.ErrorMessage), id, domain.RunStatusRunning)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, r.q(`SELECT status FROM agent_execution_logs WHERE id=?`), id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrLogFinalized
	}
	return tx.Commit()
}

func (r Repo) GetRunLog(ctx context.Context, id int64) (domain.AgentExecutionLog, error) {
	return scanRunLog(r.DB.QueryRowContext(ctx, r.q(`SELECT `+runLogColumns+` FROM agent_execution_logs WHERE id=?`), id))
}

type RunLogFilters struct {
	AgentName string
	Skip      int
	Limit     int
}

// ListRunLogs returns logs newest-created first.
func (r Repo) ListRunLogs(ctx context.Context, f RunLogFilters) ([]domain.AgentExecutionLog, error) {
	var clauses []string
	var args []any
	if f.AgentName != "" {
		clauses = append(clauses, "agent_name=?")
		args = append(args, f.AgentName)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + runLogColumns + ` FROM agent_execution_logs ` + where + ` ORDER BY created_at DESC, id DESC`
	query, args = r.limitOffset(query, args, f.Limit, f.Skip)
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentExecutionLog
	for rows.Next() {
		l, err := scanRunLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// FailRunningLogs finalizes every log still in the running state as failed.
// It is meant for startup, when no run of this process can be in flight.
func (r Repo) FailRunningLogs(ctx context.Context, endTime, message string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE agent_execution_logs SET status=?, end_time=?, error_message=? WHERE status=?`),
		domain.RunStatusFailed, endTime, message, domain.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
