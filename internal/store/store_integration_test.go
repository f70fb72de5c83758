//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PartsSettle/internal/db"
	"PartsSettle/internal/models"
	"PartsSettle/internal/store"
	"PartsSettle/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("parts"),
		postgres.WithUsername("parts"),
		postgres.WithPassword("parts"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.Connect(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool, migrations.FS, nil)
	require.NoError(t, err)
	return store.New(pool)
}

func seedPart(t *testing.T, s *store.Store, id string, stock int, backorder bool) {
	t.Helper()
	_, err := s.Pool.Exec(context.Background(), `
		INSERT INTO parts (id, shop_id, seller_id, category_id, name, base_price_cents, stock_on_hand, allow_backorder)
		VALUES ($1, 'shop-1', 'seller-1', 'brakes', $1, 10000, $2, $3)
	`, id, stock, backorder)
	require.NoError(t, err)
}

func newOrder(id string, total int64) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		ID:             id,
		OrderNumber:    "ORD-" + id,
		BuyerID:        "buyer-1",
		ShopID:         "shop-1",
		Status:         models.OrderPending,
		PaymentStatus:  models.PaymentPending,
		Subtotal:       total,
		Total:          total,
		ShippingMethod: models.ShippingStandard,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func lineItem(orderID, partID string, qty int) models.OrderLineItem {
	return models.OrderLineItem{
		ID:         orderID + "-" + partID,
		OrderID:    orderID,
		PartID:     partID,
		ShopID:     "shop-1",
		SellerID:   "seller-1",
		Quantity:   qty,
		UnitPrice:  10000,
		TotalPrice: int64(qty) * 10000,
		CreatedAt:  time.Now().UTC(),
	}
}

func stockOf(t *testing.T, s *store.Store, partID string) int {
	t.Helper()
	var stock int
	require.NoError(t, s.Pool.QueryRow(context.Background(), `SELECT stock_on_hand FROM parts WHERE id=$1`, partID).Scan(&stock))
	return stock
}

func TestStoreOrderLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedPart(t, s, "a", 5, false)
	seedPart(t, s, "b", 1, false)

	t.Run("stock conflict rolls back", func(t *testing.T) {
		err := s.PlaceOrder(ctx, newOrder("o-conflict", 30000), []models.OrderLineItem{
			lineItem("o-conflict", "a", 1),
			lineItem("o-conflict", "b", 2),
		})
		require.ErrorIs(t, err, models.ErrStockConflict)
		assert.Equal(t, 5, stockOf(t, s, "a"))
		_, err = s.GetOrder(ctx, "o-conflict")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("paid exactly once under concurrency", func(t *testing.T) {
		require.NoError(t, s.PlaceOrder(ctx, newOrder("o-paid", 20000), []models.OrderLineItem{lineItem("o-paid", "a", 2)}))
		assert.Equal(t, 3, stockOf(t, s, "a"))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.MarkOrderPaid(ctx, "o-paid", "pf-1", time.Now())
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err := s.GetOrder(ctx, "o-paid")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
		require.NotNil(t, got.PaymentID)
		assert.Equal(t, "pf-1", *got.PaymentID)
	})

	t.Run("failed payment restores stock once", func(t *testing.T) {
		require.NoError(t, s.PlaceOrder(ctx, newOrder("o-failed", 10000), []models.OrderLineItem{lineItem("o-failed", "a", 1)}))
		assert.Equal(t, 2, stockOf(t, s, "a"))

		ok, err := s.MarkOrderPaymentFailed(ctx, "o-failed", "pf-2")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.MarkOrderPaymentFailed(ctx, "o-failed", "pf-2")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 3, stockOf(t, s, "a"))
	})
}

func TestStoreSettlementIdempotency(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedPart(t, s, "a", 5, false)
	require.NoError(t, s.PlaceOrder(ctx, newOrder("o1", 100000), []models.OrderLineItem{lineItem("o1", "a", 1)}))

	tx := &models.Transaction{
		ID:           "tx-1",
		OrderID:      "o1",
		ShopID:       "shop-1",
		SellerID:     "seller-1",
		GrossAmount:  100000,
		FeeAmount:    23400,
		SellerAmount: 76600,
		Status:       models.TransactionCompleted,
		EscrowStatus: models.EscrowHeld,
		CompletedAt:  time.Now().UTC(),
	}
	ok, err := s.InsertTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, ok)
	tx.ID = "tx-2"
	ok, err = s.InsertTransaction(ctx, tx)
	require.NoError(t, err)
	assert.False(t, ok)

	hold := models.EscrowHold{SellerID: "seller-1", ShopID: "shop-1", Amount: 76600, OrderID: "o1", Description: "escrow"}
	ok, err = s.HoldEscrow(ctx, hold)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HoldEscrow(ctx, hold)
	require.NoError(t, err)
	assert.False(t, ok)

	var locked int64
	require.NoError(t, s.Pool.QueryRow(ctx, `SELECT locked_balance_cents FROM escrow_balances WHERE seller_id='seller-1'`).Scan(&locked))
	assert.Equal(t, int64(76600), locked)

	require.NoError(t, s.IncrementShopDailyStats(ctx, "shop-1", time.Now(), 1, 1))
	require.NoError(t, s.IncrementShopDailyStats(ctx, "shop-1", time.Now(), 1, 3))
	var orders, items int
	require.NoError(t, s.Pool.QueryRow(ctx, `SELECT orders, items_sold FROM shop_daily_stats WHERE shop_id='shop-1'`).Scan(&orders, &items))
	assert.Equal(t, 2, orders)
	assert.Equal(t, 4, items)
}

func TestStoreFeeSettings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	settings, err := s.GetFeeSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings)

	_, err = s.Pool.Exec(ctx, `INSERT INTO platform_settings (key, value) VALUES ('vat_pct','15'),('vat_enabled','false')`)
	require.NoError(t, err)
	_, err = s.Pool.Exec(ctx, `INSERT INTO commission_rates (category_id, percentage) VALUES ('brakes', 6.5)`)
	require.NoError(t, err)

	settings, err = s.GetFeeSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "15", settings.VATPct)
	assert.False(t, settings.VATEnabled)

	rates, err := s.ListCommissionRates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "6.50", rates[0].Percentage)
}
