package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"PartsSettle/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const partColumns = `id, shop_id, seller_id, category_id, name, base_price_cents, stock_on_hand,
	min_order_qty, pack_size, order_increment, allow_backorder, lead_time_days, active`

func scanPart(row pgx.Row) (*models.Part, error) {
	var p models.Part
	err := row.Scan(
		&p.ID,
		&p.ShopID,
		&p.SellerID,
		&p.CategoryID,
		&p.Name,
		&p.BasePrice,
		&p.StockOnHand,
		&p.MinOrderQty,
		&p.PackSize,
		&p.OrderIncrement,
		&p.AllowBackorder,
		&p.LeadTimeDays,
		&p.Active,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetPart(ctx context.Context, partID string) (*models.Part, error) {
	return scanPart(s.Pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id=$1 AND active`, partID))
}

// GetParts loads active parts in one round trip. Missing ids are absent from the map.
func (s *Store) GetParts(ctx context.Context, ids []string) (map[string]*models.Part, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+partColumns+` FROM parts WHERE id = ANY($1) AND active`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.Part, len(ids))
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) ListPriceTiers(ctx context.Context, partID string) ([]models.PriceTier, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT part_id, min_quantity, unit_price_cents, label, active
		FROM price_tiers WHERE part_id=$1
		ORDER BY min_quantity DESC
	`, partID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []models.PriceTier
	for rows.Next() {
		var t models.PriceTier
		if err := rows.Scan(&t.PartID, &t.MinQuantity, &t.UnitPrice, &t.Label, &t.Active); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// PlaceOrder inserts the order and its line items and decrements stock in one transaction.
// A lost stock race returns *models.StockConflictError and nothing is written.
func (s *Store) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderLineItem) error {
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, order_number, buyer_id, shop_id, status, payment_status,
				subtotal_cents, shipping_cents, tax_cents, discount_cents, total_cents,
				shipping_method, shipping_address, billing_address,
				customer_email, customer_name, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`,
			order.ID,
			order.OrderNumber,
			order.BuyerID,
			order.ShopID,
			order.Status,
			order.PaymentStatus,
			order.Subtotal,
			order.Shipping,
			order.Tax,
			order.Discount,
			order.Total,
			order.ShippingMethod,
			shipping,
			billing,
			order.CustomerEmail,
			order.CustomerName,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for _, it := range items {
			_, err := tx.Exec(ctx, `
				INSERT INTO order_line_items (
					id, order_id, part_id, shop_id, seller_id, category_id,
					quantity, unit_price_cents, total_price_cents, tier_label, is_backorder, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			`,
				it.ID,
				it.OrderID,
				it.PartID,
				it.ShopID,
				it.SellerID,
				it.CategoryID,
				it.Quantity,
				it.UnitPrice,
				it.TotalPrice,
				it.TierLabel,
				it.IsBackorder,
				it.CreatedAt,
			)
			if err != nil {
				return err
			}
			if err := decrementStock(ctx, tx, it.PartID, it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

const orderColumns = `id, order_number, buyer_id, shop_id, status, payment_status,
	subtotal_cents, shipping_cents, tax_cents, discount_cents, total_cents,
	shipping_method, shipping_address, billing_address, customer_email, customer_name,
	payment_id, paid_at, settled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var shipping, billing []byte
	var paymentID sql.NullString
	var paidAt, settledAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.BuyerID,
		&order.ShopID,
		&order.Status,
		&order.PaymentStatus,
		&order.Subtotal,
		&order.Shipping,
		&order.Tax,
		&order.Discount,
		&order.Total,
		&order.ShippingMethod,
		&shipping,
		&billing,
		&order.CustomerEmail,
		&order.CustomerName,
		&paymentID,
		&paidAt,
		&settledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return nil, err
	}
	if paymentID.Valid {
		order.PaymentID = &paymentID.String
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if settledAt.Valid {
		order.SettledAt = &settledAt.Time
	}
	return &order, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func (s *Store) ListLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, part_id, shop_id, seller_id, category_id,
			quantity, unit_price_cents, total_price_cents, tier_label, is_backorder, created_at
		FROM order_line_items WHERE order_id=$1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderLineItem
	for rows.Next() {
		var it models.OrderLineItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.PartID,
			&it.ShopID,
			&it.SellerID,
			&it.CategoryID,
			&it.Quantity,
			&it.UnitPrice,
			&it.TotalPrice,
			&it.TierLabel,
			&it.IsBackorder,
			&it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CancelPendingOrder cancels an unpaid pending order and returns its stock.
func (s *Store) CancelPendingOrder(ctx context.Context, orderID string) (bool, error) {
	return s.transitionAndRestore(ctx, orderID, `
		UPDATE orders
		SET status='cancelled', updated_at=now()
		WHERE id=$1 AND status='pending' AND payment_status='pending'
	`)
}

// MarkOrderPaid is the single pending-to-paid transition. It reports false when another
// writer got there first or the order is no longer payable.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='confirmed', payment_status='paid', payment_id=$2, paid_at=$3, updated_at=now()
		WHERE id=$1 AND payment_status='pending' AND status<>'cancelled'
	`, orderID, paymentID, paidAt)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (s *Store) MarkOrderPaymentFailed(ctx context.Context, orderID, paymentID string) (bool, error) {
	return s.transitionAndRestore(ctx, orderID, `
		UPDATE orders
		SET payment_status='failed', payment_id=COALESCE(NULLIF($2, ''), payment_id), updated_at=now()
		WHERE id=$1 AND payment_status='pending' AND status<>'cancelled'
	`, paymentID)
}

func (s *Store) TouchPendingPayment(ctx context.Context, orderID, paymentID string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET payment_id=COALESCE(NULLIF($2, ''), payment_id), updated_at=now()
		WHERE id=$1 AND payment_status='pending' AND status<>'cancelled'
	`, orderID, paymentID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (s *Store) transitionAndRestore(ctx context.Context, orderID, query string, args ...any) (bool, error) {
	var moved bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		res, err := tx.Exec(ctx, query, append([]any{orderID}, args...)...)
		if err != nil {
			return err
		}
		if res.RowsAffected() != 1 {
			return nil
		}
		moved = true
		return restoreOrderStock(ctx, tx, orderID)
	})
	return moved, err
}

func (s *Store) MarkOrderSettled(ctx context.Context, orderID string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET settled_at=$2, updated_at=now()
		WHERE id=$1 AND settled_at IS NULL
	`, orderID, at)
	return err
}

func (s *Store) ListUnsettledPaidOrders(ctx context.Context, paidBefore time.Time, limit int) ([]*models.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE payment_status='paid' AND settled_at IS NULL AND paid_at < $1
		ORDER BY created_at
		LIMIT $2
	`, paidBefore, limit)
}

func (s *Store) ListStalePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='pending' AND payment_status='pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
}

func (s *Store) listOrders(ctx context.Context, query string, before time.Time, limit int) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
