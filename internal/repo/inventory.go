package repo

import (
	"context"
	"database/sql"

	"downtrack/internal/domain"
)

func (r Repo) ListInventory(ctx context.Context, actorID string) ([]domain.InventoryItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id,item_ref,quantity FROM inventory WHERE actor_id=? ORDER BY item_ref`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.InventoryItem
	for rows.Next() {
		var it domain.InventoryItem
		if err := rows.Scan(&it.ActorID, &it.ItemRef, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r Repo) GetCurrency(ctx context.Context, actorID string) (int, error) {
	var amount int
	err := r.DB.QueryRowContext(ctx, `SELECT amount FROM currency WHERE actor_id=?`, actorID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}
