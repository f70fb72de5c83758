package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PartsSettle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, s *Store, stock int, qty int) *models.Order {
	t.Helper()
	s.PutPart(models.Part{ID: "part-1", ShopID: "shop-1", SellerID: "seller-1", BasePrice: 1000, StockOnHand: stock, Active: true})
	order := &models.Order{
		ID:            "order-1",
		Status:        models.OrderPending,
		PaymentStatus: models.PaymentPending,
		Total:         int64(qty) * 1000,
		CreatedAt:     time.Now().UTC(),
	}
	items := []models.OrderLineItem{{ID: "li-1", OrderID: order.ID, PartID: "part-1", Quantity: qty, UnitPrice: 1000, TotalPrice: int64(qty) * 1000}}
	require.NoError(t, s.PlaceOrder(context.Background(), order, items))
	return order
}

func TestPlaceOrderDecrementsStock(t *testing.T) {
	s := New()
	seedOrder(t, s, 10, 4)

	p, err := s.GetPart(context.Background(), "part-1")
	require.NoError(t, err)
	assert.Equal(t, 6, p.StockOnHand)
}

func TestPlaceOrderStockConflictLeavesNoTrace(t *testing.T) {
	s := New()
	s.PutPart(models.Part{ID: "a", StockOnHand: 5, Active: true})
	s.PutPart(models.Part{ID: "b", StockOnHand: 1, Active: true})

	order := &models.Order{ID: "o", Status: models.OrderPending, PaymentStatus: models.PaymentPending}
	err := s.PlaceOrder(context.Background(), order, []models.OrderLineItem{
		{PartID: "a", Quantity: 2},
		{PartID: "b", Quantity: 2},
	})
	require.ErrorIs(t, err, models.ErrStockConflict)
	var conflict *models.StockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "b", conflict.PartID)

	a, _ := s.GetPart(context.Background(), "a")
	assert.Equal(t, 5, a.StockOnHand)
	_, err = s.GetOrder(context.Background(), "o")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlaceOrderBackorderMayGoNegative(t *testing.T) {
	s := New()
	s.PutPart(models.Part{ID: "a", StockOnHand: 1, AllowBackorder: true, Active: true})
	order := &models.Order{ID: "o"}
	require.NoError(t, s.PlaceOrder(context.Background(), order, []models.OrderLineItem{{PartID: "a", Quantity: 3}}))

	a, _ := s.GetPart(context.Background(), "a")
	assert.Equal(t, -2, a.StockOnHand)
}

func TestMarkOrderPaidOnlyOnce(t *testing.T) {
	s := New()
	order := seedOrder(t, s, 10, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkOrderPaid(ctx, order.ID, "pf-1", time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderConfirmed, got.Status)

	failed, err := s.MarkOrderPaymentFailed(ctx, order.ID, "pf-2")
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestPaymentFailedRestoresStock(t *testing.T) {
	s := New()
	order := seedOrder(t, s, 10, 4)
	ctx := context.Background()

	ok, err := s.MarkOrderPaymentFailed(ctx, order.ID, "pf-1")
	require.NoError(t, err)
	assert.True(t, ok)

	p, _ := s.GetPart(ctx, "part-1")
	assert.Equal(t, 10, p.StockOnHand)

	ok, err = s.MarkOrderPaymentFailed(ctx, order.ID, "pf-1")
	require.NoError(t, err)
	assert.False(t, ok)
	p, _ = s.GetPart(ctx, "part-1")
	assert.Equal(t, 10, p.StockOnHand)
}

func TestCancelledOrderCannotBePaid(t *testing.T) {
	s := New()
	order := seedOrder(t, s, 10, 2)
	ctx := context.Background()

	ok, err := s.CancelPendingOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	paid, err := s.MarkOrderPaid(ctx, order.ID, "pf-1", time.Now())
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestHoldEscrowIsIdempotentPerSellerAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	hold := models.EscrowHold{SellerID: "seller-1", ShopID: "shop-1", Amount: 76600, OrderID: "order-1"}

	ok, err := s.HoldEscrow(ctx, hold)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HoldEscrow(ctx, hold)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(76600), s.EscrowBalance("seller-1").LockedBalance)
	require.Len(t, s.WalletTransactions(), 1)
	assert.Equal(t, models.WalletEscrowHold, s.WalletTransactions()[0].Type)

	hold.OrderID = "order-2"
	ok, err = s.HoldEscrow(ctx, hold)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(153200), s.EscrowBalance("seller-1").LockedBalance)
}

func TestInsertTransactionUniquePerOrderAndShop(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := &models.Transaction{ID: "t1", OrderID: "o", ShopID: "shop-1", GrossAmount: 100}

	ok, err := s.InsertTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *tx
	dup.ID = "t2"
	ok, err = s.InsertTransaction(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, s.Transactions("o"), 1)
}

func TestListUnsettledPaidOrders(t *testing.T) {
	s := New()
	order := seedOrder(t, s, 10, 1)
	ctx := context.Background()
	paidAt := time.Now().Add(-time.Minute)

	_, err := s.MarkOrderPaid(ctx, order.ID, "pf-1", paidAt)
	require.NoError(t, err)

	got, err := s.ListUnsettledPaidOrders(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.MarkOrderSettled(ctx, order.ID, time.Now()))
	got, err = s.ListUnsettledPaidOrders(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
