package app

import (
	"context"
	"errors"
	"fmt"

	"downtrack/internal/config"
	"downtrack/internal/domain"
	"downtrack/internal/engine"
	"downtrack/internal/repo"
)

// ResolveTrackerAndConfig picks the tracker CLI commands operate on and
// ensures it exists in the workspace database, seeding a default config when
// missing. It prefers the --tracker override, then the single tracker in the
// workspace.
func ResolveTrackerAndConfig(ctx context.Context, trackerOverride, actorID string, eng *engine.Engine) (string, *config.Config, error) {
	trackerID := trackerOverride
	if trackerID == "" {
		if t, err := eng.Repo.SingleTracker(ctx); err == nil {
			trackerID = t.ID
		} else {
			return "", nil, fmt.Errorf("tracker not specified; use --tracker")
		}
	}

	if _, err := eng.Repo.GetTracker(ctx, trackerID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		seed := config.Default(trackerID)
		if actorID == "" {
			actorID = "local-user"
		}
		if _, err := eng.InitTracker(ctx, domain.Tracker{ID: trackerID}, seed, actorID); err != nil {
			return "", nil, fmt.Errorf("create tracker: %w", err)
		}
	}
	cfg, err := eng.Repo.GetTrackerConfig(ctx, trackerID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(trackerID)
		if err := eng.Repo.UpsertTrackerConfig(ctx, trackerID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed tracker config: %w", err)
		}
	}
	cfg.Tracker.ID = trackerID
	return trackerID, cfg, nil
}
