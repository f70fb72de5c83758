package store

import (
	"context"

	"PartsSettle/internal/models"

	"github.com/jackc/pgx/v5"
)

// decrementStock only succeeds when the part accepts backorders or enough stock remains.
func decrementStock(ctx context.Context, tx pgx.Tx, partID string, qty int) error {
	res, err := tx.Exec(ctx, `
		UPDATE parts
		SET stock_on_hand = stock_on_hand - $2, updated_at=now()
		WHERE id=$1 AND (allow_backorder OR stock_on_hand >= $2)
	`, partID, qty)
	if err != nil {
		return err
	}
	if res.RowsAffected() != 1 {
		return &models.StockConflictError{PartID: partID}
	}
	return nil
}

func restoreOrderStock(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE parts p
		SET stock_on_hand = p.stock_on_hand + li.qty, updated_at=now()
		FROM (
			SELECT part_id, SUM(quantity) AS qty
			FROM order_line_items WHERE order_id=$1
			GROUP BY part_id
		) li
		WHERE p.id = li.part_id
	`, orderID)
	return err
}
