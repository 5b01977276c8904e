package repo

import (
	"context"
	"database/sql"
	"time"

	"downtrack/internal/domain"
)

func (r Repo) InsertRollRequest(ctx context.Context, req domain.RollRequest) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO roll_requests(id,tracker_id,check_id,actor_id,manual,modifier,note,status,created_at,expires_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.TrackerID, req.CheckID, req.ActorID, nullable(req.Manual), req.Modifier, nullable(req.Note),
		req.Status, req.CreatedAt, req.ExpiresAt)
	return err
}

func (r Repo) GetRollRequest(ctx context.Context, id string) (domain.RollRequest, error) {
	return scanRollRequest(r.DB.QueryRowContext(ctx, rollRequestColumns+` WHERE id=?`, id))
}

// ListRollRequests returns a tracker's requests, pending first then newest
// first. Pending requests past their expiry are excluded.
func (r Repo) ListRollRequests(ctx context.Context, trackerID string, status string) ([]domain.RollRequest, error) {
	query := rollRequestColumns + ` WHERE tracker_id=?`
	args := []any{trackerID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	now := time.Now().UTC().Format(time.RFC3339)
	var out []domain.RollRequest
	for rows.Next() {
		req, err := scanRollRequestRows(rows)
		if err != nil {
			return nil, err
		}
		if req.Status == domain.RequestPending && req.ExpiresAt < now {
			continue
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRollRequest flips a pending request to applied or rejected. It
// returns ErrNotFound when the request is missing or already resolved.
func (r Repo) ResolveRollRequest(ctx context.Context, tx *sql.Tx, id, status, resolvedBy string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `UPDATE roll_requests SET status=?, resolved_at=?, resolved_by=? WHERE id=? AND status='pending'`
	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, status, now, resolvedBy, id)
	} else {
		res, err = r.DB.ExecContext(ctx, query, status, now, resolvedBy, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const rollRequestColumns = `SELECT id,tracker_id,check_id,actor_id,COALESCE(manual,''),modifier,COALESCE(note,''),status,created_at,expires_at,COALESCE(resolved_at,''),COALESCE(resolved_by,'') FROM roll_requests`

func scanRollRequest(row *sql.Row) (domain.RollRequest, error) {
	var req domain.RollRequest
	err := row.Scan(&req.ID, &req.TrackerID, &req.CheckID, &req.ActorID, &req.Manual, &req.Modifier, &req.Note,
		&req.Status, &req.CreatedAt, &req.ExpiresAt, &req.ResolvedAt, &req.ResolvedBy)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	return req, err
}

func scanRollRequestRows(rows *sql.Rows) (domain.RollRequest, error) {
	var req domain.RollRequest
	err := rows.Scan(&req.ID, &req.TrackerID, &req.CheckID, &req.ActorID, &req.Manual, &req.Modifier, &req.Note,
		&req.Status, &req.CreatedAt, &req.ExpiresAt, &req.ResolvedAt, &req.ResolvedBy)
	return req, err
}
