// Package auditlog implements the append-only admin action trail. Writes
// are asynchronous and best-effort: a full queue drops entries rather
// than slowing the mutation that produced them.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mybrohigh/Xpert/internal/model"
)

// Repo runs all admin_action_log queries.
type Repo struct {
	db *sql.DB
}

// NewRepo wraps the shared database handle.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// InsertBatch appends a batch of actions in one transaction. Returns the
// number of rows written.
func (r *Repo) InsertBatch(entries []model.AdminAction) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("auditlog: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO admin_action_log
			(created_at_ns, admin_id, admin_username, action, target_type, target_username, meta, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("auditlog: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var adminID any
		if e.AdminID != nil {
			adminID = *e.AdminID
		}
		if _, err := stmt.Exec(
			e.CreatedAt.UnixNano(), adminID, e.AdminUsername,
			e.Action, e.TargetType, e.TargetUsername, e.Meta, e.RequestID,
		); err != nil {
			return 0, fmt.Errorf("auditlog: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("auditlog: commit: %w", err)
	}
	return len(entries), nil
}

// ListFilter selects and pages the action trail.
type ListFilter struct {
	Action         string
	TargetUsername string
	Limit          int
	Offset         int
}

// List returns actions newest first.
func (r *Repo) List(ctx context.Context, f ListFilter) ([]model.AdminAction, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var conds []string
	var args []any
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.TargetUsername != "" {
		conds = append(conds, "target_username = ?")
		args = append(args, f.TargetUsername)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, created_at_ns, admin_id, admin_username, action, target_type, target_username, meta, request_id
		FROM admin_action_log
		%s
		ORDER BY created_at_ns DESC, id DESC
		LIMIT ? OFFSET ?`, where),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: list: %w", err)
	}
	defer rows.Close()

	actions := []model.AdminAction{}
	for rows.Next() {
		var a model.AdminAction
		var createdNS int64
		var adminID sql.NullInt64
		if err := rows.Scan(&a.ID, &createdNS, &adminID, &a.AdminUsername,
			&a.Action, &a.TargetType, &a.TargetUsername, &a.Meta, &a.RequestID); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		a.CreatedAt = nsToTime(createdNS)
		if adminID.Valid {
			id := adminID.Int64
			a.AdminID = &id
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: list rows: %w", err)
	}
	return actions, nil
}

// Count reports how many rows match the filter, for pagination totals.
func (r *Repo) Count(ctx context.Context, f ListFilter) (int, error) {
	var conds []string
	var args []any
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.TargetUsername != "" {
		conds = append(conds, "target_username = ?")
		args = append(args, f.TargetUsername)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(id) FROM admin_action_log %s", where), args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("auditlog: count: %w", err)
	}
	return count, nil
}
