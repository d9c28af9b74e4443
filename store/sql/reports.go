package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bytedance/sonic"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/utils"
)

const reportColumns = `id, reporter_id, target_user_id, target_type, target_id, reason, description, status, priority,
              assigned_moderator, resolution, duplicate_of, duplicate_count, created_at, updated_at`

func reportActiveKey(r safety.Report) sql.NullString {
	if !r.IsActive() {
		return sql.NullString{}
	}
	return sql.NullString{String: utils.TupleKey(r.ReporterID, r.TargetUserID, r.TargetType, r.TargetID), Valid: true}
}

func marshalResolution(res *safety.Resolution) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	raw, err := sonic.Marshal(res)
	if err != nil {
		return sql.NullString{}, safety.NewStoreError("marshal", "report", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func scanReport(row rowScanner) (safety.Report, error) {
	var (
		r                    safety.Report
		resolution           sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&r.ID, &r.ReporterID, &r.TargetUserID, &r.TargetType, &r.TargetID, &r.Reason, &r.Description,
		&r.Status, &r.Priority, &r.AssignedModerator, &resolution, &r.DuplicateOf, &r.DuplicateCount,
		&createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if resolution.Valid && resolution.String != "" {
		r.Resolution = &safety.Resolution{}
		if err := sonic.UnmarshalString(resolution.String, r.Resolution); err != nil {
			return r, err
		}
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

func activeStatusArgs() []any {
	args := make([]any, len(store.ActiveReportStatuses))
	for i, st := range store.ActiveReportStatuses {
		args[i] = st
	}
	return args
}

// CreateReport inserts a report; the unique active_key enforces one active
// report per reporter and target.
func (s *Store) CreateReport(ctx context.Context, r safety.Report) error {
	resolution, err := marshalResolution(r.Resolution)
	if err != nil {
		return err
	}

	query := s.rebind(`INSERT INTO report (` + reportColumns + `, active_key)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.conn.ExecContext(ctx, query,
		r.ID, r.ReporterID, r.TargetUserID, r.TargetType, r.TargetID, r.Reason, r.Description, r.Status, r.Priority,
		r.AssignedModerator, resolution, r.DuplicateOf, r.DuplicateCount, millis(r.CreatedAt), millis(r.UpdatedAt),
		reportActiveKey(r))
	if isUniqueViolation(err) {
		return safety.ErrDuplicateReport
	}
	if err != nil {
		return safety.NewStoreError("insert", "report", err)
	}
	return nil
}

// GetReport gets a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (*safety.Report, error) {
	query := s.rebind(`SELECT ` + reportColumns + ` FROM report WHERE id = ?`)

	r, err := scanReport(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safety.ErrNotFound
	}
	if err != nil {
		return nil, safety.NewStoreError("get", "report", err)
	}
	return &r, nil
}

// FindActiveReport finds the reporter's active report on target.
func (s *Store) FindActiveReport(ctx context.Context, reporterID string, target safety.ReportTarget) (*safety.Report, error) {
	key := utils.TupleKey(reporterID, target.TargetUserID, target.TargetType, target.TargetID)
	query := s.rebind(`SELECT ` + reportColumns + ` FROM report WHERE active_key = ?`)

	r, err := scanReport(s.conn.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safety.ErrNotFound
	}
	if err != nil {
		return nil, safety.NewStoreError("get", "report", err)
	}
	return &r, nil
}

func (s *Store) listReports(ctx context.Context, query string, args ...any) ([]safety.Report, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, safety.NewStoreError("list", "report", err)
	}
	defer rows.Close()

	var reports []safety.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, safety.NewStoreError("scan", "report", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, safety.NewStoreError("list", "report", err)
	}
	return reports, nil
}

// ListActiveByTarget lists active reports on target, oldest first.
func (s *Store) ListActiveByTarget(ctx context.Context, target safety.ReportTarget) ([]safety.Report, error) {
	args := append([]any{target.TargetUserID, target.TargetType, target.TargetID}, activeStatusArgs()...)
	return s.listReports(ctx, `SELECT `+reportColumns+` FROM report
              WHERE target_user_id = ? AND target_type = ? AND target_id = ?
              AND status IN (`+placeholders(len(store.ActiveReportStatuses))+`)
              ORDER BY created_at ASC, id ASC`, args...)
}

// ListReports lists reports matching filter, oldest first.
func (s *Store) ListReports(ctx context.Context, f store.ReportFilter) ([]safety.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM report WHERE 1 = 1`
	var args []any

	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.TargetUserID != "" {
		query += ` AND target_user_id = ?`
		args = append(args, f.TargetUserID)
	}
	if f.AssignedModerator != "" {
		query += ` AND assigned_moderator = ?`
		args = append(args, f.AssignedModerator)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return s.listReports(ctx, query, args...)
}

// reportState explains a zero-row conditional update.
func (s *Store) reportState(ctx context.Context, id string) error {
	r, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return safety.ErrAlreadyResolved
	}
	return nil
}

// UpdateReport rewrites the mutable fields of an active report.
func (s *Store) UpdateReport(ctx context.Context, r safety.Report) error {
	resolution, err := marshalResolution(r.Resolution)
	if err != nil {
		return err
	}

	set := `status = ?, priority = ?, assigned_moderator = ?, resolution = ?, duplicate_of = ?,
              duplicate_count = ?, updated_at = ?`
	if !r.IsActive() {
		set += `, active_key = NULL`
	}

	args := []any{r.Status, r.Priority, r.AssignedModerator, resolution, r.DuplicateOf, r.DuplicateCount,
		millis(r.UpdatedAt), r.ID}
	args = append(args, activeStatusArgs()...)

	query := s.rebind(`UPDATE report SET ` + set + `
              WHERE id = ? AND status IN (` + placeholders(len(store.ActiveReportStatuses)) + `)`)
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return safety.NewStoreError("update", "report", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return nil
	}
	// MySQL reports zero rows for an update that changes nothing.
	return s.reportState(ctx, r.ID)
}

// DismissDuplicate dismisses an active report in favour of primaryID.
func (s *Store) DismissDuplicate(ctx context.Context, id, primaryID string, at time.Time) (bool, error) {
	args := []any{safety.ReportDismissed, primaryID, millis(at), id}
	args = append(args, activeStatusArgs()...)

	query := s.rebind(`UPDATE report SET status = ?, duplicate_of = ?, active_key = NULL, updated_at = ?
              WHERE id = ? AND status IN (` + placeholders(len(store.ActiveReportStatuses)) + `)`)
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, safety.NewStoreError("update", "report", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return true, nil
	}
	if err := s.reportState(ctx, id); err != nil && !errors.Is(err, safety.ErrAlreadyResolved) {
		return false, err
	}
	return false, nil
}

// AddDuplicates adds n to the primary's duplicate count and raises its
// priority to at least minPriority in one statement.
func (s *Store) AddDuplicates(ctx context.Context, primaryID string, n int, minPriority safety.Priority, at time.Time) error {
	var lower []any
	for _, p := range []safety.Priority{safety.PriorityLow, safety.PriorityMedium, safety.PriorityHigh, safety.PriorityUrgent} {
		if p.Rank() < minPriority.Rank() {
			lower = append(lower, p)
		}
	}

	// accumulates across calls; each duplicate adds to the running count
	set := `duplicate_count = duplicate_count + ?, updated_at = ?`
	args := []any{n, millis(at)}
	if len(lower) > 0 {
		set += `, priority = CASE WHEN priority IN (` + placeholders(len(lower)) + `) THEN ? ELSE priority END`
		args = append(args, lower...)
		args = append(args, minPriority)
	}
	args = append(args, primaryID)

	result, err := s.conn.ExecContext(ctx, s.rebind(`UPDATE report SET `+set+` WHERE id = ?`), args...)
	if err != nil {
		return safety.NewStoreError("update", "report", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return nil
	}
	_, err = s.GetReport(ctx, primaryID)
	return err
}
