package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"downtrack/internal/config"
	"downtrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanTracker(row *sql.Row) (domain.Tracker, error) {
	var t domain.Tracker
	var desc sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.Status, &desc, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return t, err
}

func (r Repo) InsertTracker(ctx context.Context, tx *sql.Tx, t domain.Tracker) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trackers(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, t.Status, nullable(t.Description), t.CreatedAt)
	return err
}

func (r Repo) GetTracker(ctx context.Context, id string) (domain.Tracker, error) {
	return scanTracker(r.DB.QueryRowContext(ctx, `SELECT id,name,status,COALESCE(description,'') AS description,created_at FROM trackers WHERE id=?`, id))
}

// SingleTracker returns the only tracker in the workspace, or ErrNotFound.
func (r Repo) SingleTracker(ctx context.Context) (domain.Tracker, error) {
	trackers, err := r.ListTrackers(ctx)
	if err != nil {
		return domain.Tracker{}, err
	}
	if len(trackers) == 0 {
		return domain.Tracker{}, ErrNotFound
	}
	if len(trackers) > 1 {
		return domain.Tracker{}, errors.New("multiple trackers; specify one")
	}
	return trackers[0], nil
}

func (r Repo) ListTrackers(ctx context.Context) ([]domain.Tracker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,COALESCE(description,''),created_at FROM trackers ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Tracker
	for rows.Next() {
		var t domain.Tracker
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) UpdateTracker(ctx context.Context, id string, status string, description *string) error {
	if status != "" {
		res, err := r.DB.ExecContext(ctx, `UPDATE trackers SET status=? WHERE id=?`, status, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	if description != nil {
		if _, err := r.DB.ExecContext(ctx, `UPDATE trackers SET description=? WHERE id=?`, nullableStringPtr(description), id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteTracker(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM trackers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertTrackerConfig stores the tracker's configuration YAML.
func (r Repo) UpsertTrackerConfig(ctx context.Context, trackerID string, cfg *config.Config) error {
	return upsertTrackerConfig(ctx, r.DB, nil, trackerID, cfg)
}

func (r Repo) UpsertTrackerConfigTx(ctx context.Context, tx *sql.Tx, trackerID string, cfg *config.Config) error {
	return upsertTrackerConfig(ctx, nil, tx, trackerID, cfg)
}

func upsertTrackerConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, trackerID string, cfg *config.Config) error {
	data, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT INTO tracker_configs(tracker_id, yaml, updated_at) VALUES (?,?,?)
ON CONFLICT(tracker_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, trackerID, string(data), now)
	} else {
		_, err = db.ExecContext(ctx, query, trackerID, string(data), now)
	}
	return err
}

func (r Repo) GetTrackerConfig(ctx context.Context, trackerID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM tracker_configs WHERE tracker_id=?`, trackerID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

// GetState loads the persisted progress blob for a tracker.
func (r Repo) GetState(ctx context.Context, trackerID string) (domain.TrackerState, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT state_json FROM tracker_state WHERE tracker_id=?`, trackerID).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.TrackerState{}, ErrNotFound
	}
	if err != nil {
		return domain.TrackerState{}, err
	}
	var state domain.TrackerState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.TrackerState{}, err
	}
	return state, nil
}

// SaveState writes the whole progress blob. Callers are expected to have
// completed a full read-modify-write cycle under the engine's lock.
func (r Repo) SaveState(ctx context.Context, tx *sql.Tx, trackerID string, state domain.TrackerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT INTO tracker_state(tracker_id, state_json, updated_at) VALUES (?,?,?)
ON CONFLICT(tracker_id) DO UPDATE SET state_json=excluded.state_json, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, trackerID, string(data), now)
	} else {
		_, err = r.DB.ExecContext(ctx, query, trackerID, string(data), now)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
