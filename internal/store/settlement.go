package store

import (
	"context"
	"time"

	"PartsSettle/internal/models"
)

// InsertTransaction writes one ledger row. A second row for the same (order, shop) is a no-op.
func (s *Store) InsertTransaction(ctx context.Context, t *models.Transaction) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO transactions (
			id, order_id, shop_id, seller_id,
			gross_amount_cents, fee_amount_cents, seller_amount_cents,
			status, escrow_status, payment_id, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (order_id, shop_id) DO NOTHING
	`,
		t.ID,
		t.OrderID,
		t.ShopID,
		t.SellerID,
		t.GrossAmount,
		t.FeeAmount,
		t.SellerAmount,
		t.Status,
		t.EscrowStatus,
		t.PaymentID,
		t.CompletedAt,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

// HoldEscrow calls hold_escrow_funds, which locks the seller's balance row and
// credits it once per order.
func (s *Store) HoldEscrow(ctx context.Context, h models.EscrowHold) (bool, error) {
	var credited bool
	err := s.Pool.QueryRow(ctx, `SELECT hold_escrow_funds($1,$2,$3,$4,$5)`,
		h.SellerID, h.ShopID, h.Amount, h.OrderID, h.Description,
	).Scan(&credited)
	return credited, err
}

func (s *Store) IncrementShopDailyStats(ctx context.Context, shopID string, day time.Time, orders, items int) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO shop_daily_stats (shop_id, day, orders, items_sold)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (shop_id, day) DO UPDATE
		SET orders = shop_daily_stats.orders + EXCLUDED.orders,
			items_sold = shop_daily_stats.items_sold + EXCLUDED.items_sold
	`, shopID, day.UTC().Format(time.DateOnly), orders, items)
	return err
}

func (s *Store) ListCommissionRates(ctx context.Context) ([]models.CommissionRate, error) {
	rows, err := s.Pool.Query(ctx, `SELECT category_id, percentage::text FROM commission_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []models.CommissionRate
	for rows.Next() {
		var r models.CommissionRate
		if err := rows.Scan(&r.CategoryID, &r.Percentage); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// GetFeeSettings returns nil when no platform fee settings are stored.
func (s *Store) GetFeeSettings(ctx context.Context) (*models.FeeSettings, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT key, value FROM platform_settings
		WHERE key IN ('vat_pct','vat_enabled','processor_fee_pct','processor_fee_enabled')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings models.FeeSettings
	found := false
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		found = true
		switch key {
		case "vat_pct":
			settings.VATPct = value
		case "vat_enabled":
			settings.VATEnabled = value == "true"
		case "processor_fee_pct":
			settings.ProcessorFeePct = value
		case "processor_fee_enabled":
			settings.ProcessorFeeEnabled = value == "true"
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &settings, nil
}

func (s *Store) InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_audit_log (id, event_type, success, severity, order_id, payment_id, origin, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ev.ID, ev.Type, ev.Success, ev.Severity, ev.OrderID, ev.PaymentID, ev.Origin, ev.Detail, ev.CreatedAt)
	return err
}
