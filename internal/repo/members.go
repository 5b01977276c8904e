package repo

import (
	"context"
	"database/sql"
	"time"

	"downtrack/internal/domain"
)

func (r Repo) UpsertMember(ctx context.Context, m domain.Member) error {
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(tracker_id,actor_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(tracker_id,actor_id) DO UPDATE SET role=excluded.role`,
		m.TrackerID, m.ActorID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) GetMemberRole(ctx context.Context, trackerID, actorID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM members WHERE tracker_id=? AND actor_id=?`, trackerID, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) ListMembers(ctx context.Context, trackerID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tracker_id,actor_id,role,created_at FROM members WHERE tracker_id=? ORDER BY role, actor_id`, trackerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.TrackerID, &m.ActorID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) DeleteMember(ctx context.Context, trackerID, actorID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM members WHERE tracker_id=? AND actor_id=?`, trackerID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
