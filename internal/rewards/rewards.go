// Package rewards applies item and currency grants attached to completed
// checks and phases. Grants are keyed so that replays and rebuilds never
// double-apply.
package rewards

import (
	"context"
	"database/sql"
	"time"

	"downtrack/internal/config"
)

// Granter applies a reward to an actor. Apply must be idempotent per grantID:
// a second call with the same id is a no-op.
type Granter interface {
	Apply(ctx context.Context, grantID, actorID string, reward *config.Reward) error
}

// SQLGranter records grants in the workspace database. The reward_grants
// table is the idempotency ledger.
type SQLGranter struct {
	DB *sql.DB
}

func (g SQLGranter) Apply(ctx context.Context, grantID, actorID string, reward *config.Reward) error {
	if reward == nil || (len(reward.Items) == 0 && reward.Currency == 0) {
		return nil
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO reward_grants(grant_id,actor_id,granted_at) VALUES (?,?,?)`,
		grantID, actorID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already granted.
		return nil
	}

	for _, item := range reward.Items {
		qty := item.Qty
		if qty == 0 {
			qty = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO inventory(actor_id,item_ref,quantity) VALUES (?,?,?)
ON CONFLICT(actor_id,item_ref) DO UPDATE SET quantity=quantity+excluded.quantity`,
			actorID, item.Ref, qty); err != nil {
			return err
		}
	}
	if reward.Currency != 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO currency(actor_id,amount) VALUES (?,?)
ON CONFLICT(actor_id) DO UPDATE SET amount=amount+excluded.amount`,
			actorID, reward.Currency); err != nil {
			return err
		}
	}
	return tx.Commit()
}
