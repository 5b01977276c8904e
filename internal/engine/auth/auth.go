package auth

import (
	"context"
	"database/sql"
	"fmt"

	"downtrack/internal/domain"
)

// ForbiddenError indicates the actor lacks the required tracker role.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// Service answers role questions backed by the members table. Tracker state
// writes require the gm role; players may only submit roll requests.
type Service struct {
	DB *sql.DB
}

func (s Service) ActorRole(ctx context.Context, trackerID, actorID string) (string, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT role FROM members WHERE tracker_id=? AND actor_id=?`, trackerID, actorID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

func (s Service) IsGM(ctx context.Context, trackerID, actorID string) (bool, error) {
	role, err := s.ActorRole(ctx, trackerID, actorID)
	return role == domain.RoleGM, err
}

// RequireGM returns ForbiddenError unless the actor holds the gm role. A
// tracker with no members at all is treated as unclaimed and open, so
// solo/local use works before any membership is set up.
func (s Service) RequireGM(ctx context.Context, trackerID, actorID string) error {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE tracker_id=?`, trackerID).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	ok, err := s.IsGM(ctx, trackerID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Role: domain.RoleGM}
	}
	return nil
}

// RequireMember returns ForbiddenError when the actor holds no role and the
// tracker has members configured.
func (s Service) RequireMember(ctx context.Context, trackerID, actorID string) error {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE tracker_id=?`, trackerID).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	role, err := s.ActorRole(ctx, trackerID, actorID)
	if err != nil {
		return err
	}
	if role == "" {
		return ForbiddenError{Role: domain.RolePlayer}
	}
	return nil
}
