package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"PartsSettle/internal/models"
	"PartsSettle/internal/pricing"
	"PartsSettle/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingStore struct {
	*memstore.Store
	placed   int
	placeErr error
}

func (c *countingStore) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderLineItem) error {
	c.placed++
	if c.placeErr != nil {
		return c.placeErr
	}
	return c.Store.PlaceOrder(ctx, order, items)
}

func newService(t *testing.T) (OrderService, *countingStore) {
	t.Helper()
	mem := memstore.New()
	mem.PutPart(models.Part{ID: "pad", ShopID: "shop-a", SellerID: "seller-a", CategoryID: "brakes", Name: "Brake pad", BasePrice: 1000, StockOnHand: 100, MinOrderQty: 1, Active: true})
	mem.PutPart(models.Part{ID: "bolt", ShopID: "shop-b", SellerID: "seller-b", Name: "Wheel bolt", BasePrice: 250, StockOnHand: 500, MinOrderQty: 1, PackSize: 12, Active: true})
	mem.PutPart(models.Part{ID: "rotor", ShopID: "shop-a", SellerID: "seller-a", Name: "Rotor", BasePrice: 90000, StockOnHand: 2, MinOrderQty: 1, Active: true})
	mem.PutPart(models.Part{ID: "caliper", ShopID: "shop-a", SellerID: "seller-a", Name: "Caliper", BasePrice: 50000, StockOnHand: 1, MinOrderQty: 5, Active: true})
	mem.PutPart(models.Part{ID: "hose", ShopID: "shop-a", SellerID: "seller-a", Name: "Hose", BasePrice: 1500, StockOnHand: 1, AllowBackorder: true, LeadTimeDays: 14, Active: true})
	mem.PutPriceTier(models.PriceTier{PartID: "pad", MinQuantity: 1, UnitPrice: 1000, Active: true})
	mem.PutPriceTier(models.PriceTier{PartID: "pad", MinQuantity: 10, UnitPrice: 900, Label: "Trade", Active: true})
	mem.PutPriceTier(models.PriceTier{PartID: "pad", MinQuantity: 50, UnitPrice: 800, Active: true})

	store := &countingStore{Store: mem}
	svc := OrderService{
		Store:   store,
		Pricing: pricing.Engine{Catalog: store},
		Limits: Limits{
			MaxOrderAmount:        200000,
			FreeShippingThreshold: 50000,
			StandardShipping:      9900,
			ExpressShipping:       19900,
		},
		Logger: zaptest.NewLogger(t),
	}
	return svc, store
}

func address() models.Address {
	return models.Address{FullName: "Thandi Nkosi", Line1: "12 Long St", City: "Cape Town", PostalCode: "8001", Country: "ZA"}
}

func TestCreateOrderPricesFromCatalog(t *testing.T) {
	svc, store := newService(t)

	placed, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "pad", Quantity: 10}, {PartID: "bolt", Quantity: 24}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)

	o := placed.Order
	assert.Equal(t, int64(9000+6000), o.Subtotal)
	assert.Equal(t, int64(9900), o.Shipping)
	assert.Equal(t, o.Subtotal+o.Shipping+o.Tax-o.Discount, o.Total)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, models.PaymentPending, o.PaymentStatus)
	assert.Equal(t, models.ShippingStandard, o.ShippingMethod)
	assert.Equal(t, "shop-a", o.ShopID)
	assert.Equal(t, address(), o.BillingAddress)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, o.OrderNumber)

	require.Len(t, placed.Items, 2)
	assert.Equal(t, int64(900), placed.Items[0].UnitPrice)
	assert.Equal(t, "Trade", placed.Items[0].TierLabel)
	assert.Equal(t, pricing.BasePriceLabel, placed.Items[1].TierLabel)
	assert.Equal(t, "seller-b", placed.Items[1].SellerID)

	p, _ := store.GetPart(context.Background(), "pad")
	assert.Equal(t, 90, p.StockOnHand)
}

func TestCreateOrderShipping(t *testing.T) {
	cases := []struct {
		name   string
		items  []ItemInput
		method models.ShippingMethod
		want   int64
	}{
		{name: "standard below threshold", items: []ItemInput{{PartID: "pad", Quantity: 1}}, want: 9900},
		{name: "free above threshold", items: []ItemInput{{PartID: "pad", Quantity: 70}}, want: 0},
		{name: "express always flat", items: []ItemInput{{PartID: "pad", Quantity: 70}}, method: models.ShippingExpress, want: 19900},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newService(t)
			placed, err := svc.CreateOrder(context.Background(), CreateOrderInput{
				BuyerID:         "buyer-1",
				Items:           tc.items,
				ShippingAddress: address(),
				ShippingMethod:  tc.method,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, placed.Order.Shipping)
		})
	}
}

func TestCreateOrderAllOrNothing(t *testing.T) {
	svc, store := newService(t)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID: "buyer-1",
		Items: []ItemInput{
			{PartID: "pad", Quantity: 1},
			{PartID: "caliper", Quantity: 2},
			{PartID: "rotor", Quantity: 3},
		},
		ShippingAddress: address(),
	})
	require.ErrorIs(t, err, ErrOrderRejected)

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	require.Len(t, rej.Violations, 3)
	assert.Equal(t, "caliper", rej.Violations[0].PartID)
	assert.ErrorIs(t, rej.Violations[0], pricing.ErrQuantityTooLow)
	assert.Equal(t, 5, rej.Violations[0].SuggestedQuantity)
	assert.ErrorIs(t, rej.Violations[1], pricing.ErrInsufficientStock)
	assert.Equal(t, "rotor", rej.Violations[2].PartID)
	assert.ErrorIs(t, rej.Violations[2], pricing.ErrInsufficientStock)

	assert.Zero(t, store.placed)
	p, _ := store.GetPart(context.Background(), "pad")
	assert.Equal(t, 100, p.StockOnHand)
}

func TestCreateOrderPackSize(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "bolt", Quantity: 10}},
		ShippingAddress: address(),
	})
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	require.Len(t, rej.Violations, 1)
	assert.ErrorIs(t, rej.Violations[0], pricing.ErrPackSizeViolation)
	assert.Equal(t, 12, rej.Violations[0].SuggestedQuantity)
}

func TestCreateOrderBackorder(t *testing.T) {
	svc, _ := newService(t)

	placed, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "hose", Quantity: 3}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)
	assert.True(t, placed.Items[0].IsBackorder)
}

func TestCreateOrderRejectsOversizedQuantities(t *testing.T) {
	tests := []struct {
		name  string
		items []ItemInput
		want  error
	}{
		{"single line above maximum", []ItemInput{{PartID: "hose", Quantity: 12297829382473035}}, pricing.ErrQuantityTooHigh},
		{"merged lines above maximum", []ItemInput{{PartID: "hose", Quantity: pricing.MaxQuantity}, {PartID: "hose", Quantity: pricing.MaxQuantity}}, pricing.ErrQuantityTooHigh},
		{"merged with a negative line", []ItemInput{{PartID: "pad", Quantity: 5}, {PartID: "pad", Quantity: -3}}, pricing.ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t)

			_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
				BuyerID:         "buyer-1",
				Items:           tt.items,
				ShippingAddress: address(),
			})
			var rej *RejectionError
			require.True(t, errors.As(err, &rej), "got %v", err)
			require.Len(t, rej.Violations, 1)
			assert.ErrorIs(t, rej.Violations[0], tt.want)
			assert.Zero(t, store.placed)
		})
	}
}

func TestCreateOrderLineTotalOverflow(t *testing.T) {
	svc, store := newService(t)
	store.PutPart(models.Part{ID: "ingot", ShopID: "shop-a", SellerID: "seller-a", Name: "Ingot", BasePrice: math.MaxInt64 / 2, AllowBackorder: true, Active: true})

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "ingot", Quantity: 3}},
		ShippingAddress: address(),
	})
	require.ErrorIs(t, err, ErrOrderTotalExceedsMaximum)
	assert.Zero(t, store.placed)
}

func TestCreateOrderInputErrors(t *testing.T) {
	noCity := address()
	noCity.City = ""

	cases := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{name: "no buyer", in: CreateOrderInput{Items: []ItemInput{{PartID: "pad", Quantity: 1}}, ShippingAddress: address()}, want: ErrMissingBuyerID},
		{name: "no items", in: CreateOrderInput{BuyerID: "b", ShippingAddress: address()}, want: ErrMissingField},
		{name: "missing address field", in: CreateOrderInput{BuyerID: "b", Items: []ItemInput{{PartID: "pad", Quantity: 1}}, ShippingAddress: noCity}, want: ErrMissingField},
		{name: "bad shipping method", in: CreateOrderInput{BuyerID: "b", Items: []ItemInput{{PartID: "pad", Quantity: 1}}, ShippingAddress: address(), ShippingMethod: "drone"}, want: ErrUnsupportedShippingMethod},
		{name: "unknown parts", in: CreateOrderInput{BuyerID: "b", Items: []ItemInput{{PartID: "pad", Quantity: 1}, {PartID: "ghost", Quantity: 1}}, ShippingAddress: address()}, want: ErrPartNotFound},
		{name: "over maximum", in: CreateOrderInput{BuyerID: "b", Items: []ItemInput{{PartID: "rotor", Quantity: 2}, {PartID: "pad", Quantity: 30}}, ShippingAddress: address()}, want: ErrOrderTotalExceedsMaximum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newService(t)
			_, err := svc.CreateOrder(context.Background(), tc.in)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, store.placed)
		})
	}
}

func TestCreateOrderPartNotFoundListsIDs(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         "b",
		Items:           []ItemInput{{PartID: "ghost"}, {PartID: "pad", Quantity: 1}, {PartID: "phantom", Quantity: 1}},
		ShippingAddress: address(),
	})
	var nf *PartNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []string{"ghost", "phantom"}, nf.PartIDs)
}

func TestCreateOrderLostStockRace(t *testing.T) {
	svc, store := newService(t)
	store.placeErr = &models.StockConflictError{PartID: "rotor"}

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         "b",
		Items:           []ItemInput{{PartID: "rotor", Quantity: 1}},
		ShippingAddress: address(),
	})
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "rotor", rej.Violations[0].PartID)
	assert.ErrorIs(t, rej.Violations[0], pricing.ErrInsufficientStock)
}

func TestCancelOrder(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	placed, err := svc.CreateOrder(ctx, CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "pad", Quantity: 4}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, "someone-else", placed.Order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	cancelled, err := svc.CancelOrder(ctx, "buyer-1", placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	p, _ := store.GetPart(ctx, "pad")
	assert.Equal(t, 100, p.StockOnHand)

	_, err = svc.CancelOrder(ctx, "buyer-1", placed.Order.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelPaidOrderRejected(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	placed, err := svc.CreateOrder(ctx, CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "pad", Quantity: 1}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)
	_, err = store.MarkOrderPaid(ctx, placed.Order.ID, "pf-1", time.Now())
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, "buyer-1", placed.Order.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestGetOrder(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	placed, err := svc.CreateOrder(ctx, CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "pad", Quantity: 2}, {PartID: "pad", Quantity: 3}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)

	got, err := svc.GetOrder(ctx, "buyer-1", placed.Order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 5, got.Items[0].Quantity)

	_, err = svc.GetOrder(ctx, "buyer-1", "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExpireStaleOrders(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_, err := svc.CreateOrder(ctx, CreateOrderInput{
		BuyerID:         "buyer-1",
		Items:           []ItemInput{{PartID: "pad", Quantity: 4}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)

	n, err := svc.ExpireStaleOrders(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.ExpireStaleOrders(ctx, -time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p, _ := store.GetPart(ctx, "pad")
	assert.Equal(t, 100, p.StockOnHand)
}
