// Package memstore is an in-memory data store with the same conditional-update and
// escrow-hold semantics as the Postgres store. A single mutex stands in for row locks.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"PartsSettle/internal/models"

	"github.com/google/uuid"
)

type escrowKey struct {
	sellerID string
	orderID  string
}

type txKey struct {
	orderID string
	shopID  string
}

type statsKey struct {
	shopID string
	day    string
}

type ShopDailyStats struct {
	Orders    int
	ItemsSold int
}

type Store struct {
	mu sync.Mutex

	parts       map[string]*models.Part
	tiers       map[string][]models.PriceTier
	orders      map[string]*models.Order
	lineItems   map[string][]models.OrderLineItem
	txs         map[txKey]*models.Transaction
	balances    map[string]*models.EscrowBalance
	wallet      []models.WalletTransaction
	credited    map[escrowKey]bool
	stats       map[statsKey]*ShopDailyStats
	commissions []models.CommissionRate
	fees        *models.FeeSettings
	audit       []models.AuditEvent
}

func New() *Store {
	return &Store{
		parts:     make(map[string]*models.Part),
		tiers:     make(map[string][]models.PriceTier),
		orders:    make(map[string]*models.Order),
		lineItems: make(map[string][]models.OrderLineItem),
		txs:       make(map[txKey]*models.Transaction),
		balances:  make(map[string]*models.EscrowBalance),
		credited:  make(map[escrowKey]bool),
		stats:     make(map[statsKey]*ShopDailyStats),
	}
}

func (s *Store) PutPart(p models.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.parts[p.ID] = &cp
}

func (s *Store) PutPriceTier(t models.PriceTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[t.PartID] = append(s.tiers[t.PartID], t)
}

func (s *Store) SetCommissionRate(categoryID, pct string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commissions = append(s.commissions, models.CommissionRate{CategoryID: categoryID, Percentage: pct})
}

func (s *Store) SetFeeSettings(f models.FeeSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees = &f
}

func (s *Store) GetPart(_ context.Context, partID string) (*models.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[partID]
	if !ok || !p.Active {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetParts(_ context.Context, ids []string) (map[string]*models.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.Part, len(ids))
	for _, id := range ids {
		if p, ok := s.parts[id]; ok && p.Active {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) ListPriceTiers(_ context.Context, partID string) ([]models.PriceTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PriceTier(nil), s.tiers[partID]...), nil
}

// PlaceOrder inserts the order and its items and decrements stock, all or nothing.
func (s *Store) PlaceOrder(_ context.Context, order *models.Order, items []models.OrderLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		p, ok := s.parts[it.PartID]
		if !ok {
			return models.ErrNotFound
		}
		if !p.AllowBackorder && p.StockOnHand < s.pendingDecrement(items, it.PartID) {
			return &models.StockConflictError{PartID: it.PartID}
		}
	}
	for _, it := range items {
		s.parts[it.PartID].StockOnHand -= it.Quantity
	}
	cp := *order
	s.orders[order.ID] = &cp
	s.lineItems[order.ID] = append([]models.OrderLineItem(nil), items...)
	return nil
}

func (s *Store) pendingDecrement(items []models.OrderLineItem, partID string) int {
	total := 0
	for _, it := range items {
		if it.PartID == partID {
			total += it.Quantity
		}
	}
	return total
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) ListLineItems(_ context.Context, orderID string) ([]models.OrderLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderLineItem(nil), s.lineItems[orderID]...), nil
}

func (s *Store) CancelPendingOrder(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.OrderPending || o.PaymentStatus != models.PaymentPending {
		return false, nil
	}
	o.Status = models.OrderCancelled
	o.UpdatedAt = time.Now().UTC()
	s.restoreStock(id)
	return true, nil
}

func (s *Store) MarkOrderPaid(_ context.Context, id, paymentID string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.PaymentStatus != models.PaymentPending || o.Status == models.OrderCancelled {
		return false, nil
	}
	o.Status = models.OrderConfirmed
	o.PaymentStatus = models.PaymentPaid
	o.PaymentID = &paymentID
	at := paidAt
	o.PaidAt = &at
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) MarkOrderPaymentFailed(_ context.Context, id, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.PaymentStatus != models.PaymentPending || o.Status == models.OrderCancelled {
		return false, nil
	}
	o.PaymentStatus = models.PaymentFailed
	if paymentID != "" {
		o.PaymentID = &paymentID
	}
	o.UpdatedAt = time.Now().UTC()
	s.restoreStock(id)
	return true, nil
}

func (s *Store) TouchPendingPayment(_ context.Context, id, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.PaymentStatus != models.PaymentPending || o.Status == models.OrderCancelled {
		return false, nil
	}
	if paymentID != "" {
		o.PaymentID = &paymentID
	}
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) restoreStock(orderID string) {
	for _, it := range s.lineItems[orderID] {
		if p, ok := s.parts[it.PartID]; ok {
			p.StockOnHand += it.Quantity
		}
	}
}

func (s *Store) MarkOrderSettled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	if o.SettledAt == nil {
		t := at
		o.SettledAt = &t
	}
	return nil
}

func (s *Store) ListUnsettledPaidOrders(_ context.Context, paidBefore time.Time, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.PaymentStatus == models.PaymentPaid && o.SettledAt == nil && o.PaidAt != nil && o.PaidAt.Before(paidBefore) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return limitOrders(out, limit), nil
}

func (s *Store) ListStalePendingOrders(_ context.Context, createdBefore time.Time, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderPending && o.PaymentStatus == models.PaymentPending && o.CreatedAt.Before(createdBefore) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return limitOrders(out, limit), nil
}

func limitOrders(out []*models.Order, limit int) []*models.Order {
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// InsertTransaction is a no-op returning false when the (order, shop) row already exists.
func (s *Store) InsertTransaction(_ context.Context, tx *models.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := txKey{orderID: tx.OrderID, shopID: tx.ShopID}
	if _, exists := s.txs[k]; exists {
		return false, nil
	}
	cp := *tx
	s.txs[k] = &cp
	return true, nil
}

// HoldEscrow credits the seller's locked balance once per order.
func (s *Store) HoldEscrow(_ context.Context, h models.EscrowHold) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := escrowKey{sellerID: h.SellerID, orderID: h.OrderID}
	if s.credited[k] {
		return false, nil
	}
	bal, ok := s.balances[h.SellerID]
	if !ok {
		bal = &models.EscrowBalance{SellerID: h.SellerID, ShopID: h.ShopID}
		s.balances[h.SellerID] = bal
	}
	now := time.Now().UTC()
	bal.LockedBalance += h.Amount
	bal.UpdatedAt = now
	s.credited[k] = true
	s.wallet = append(s.wallet, models.WalletTransaction{
		ID:          uuid.NewString(),
		SellerID:    h.SellerID,
		ShopID:      h.ShopID,
		OrderID:     h.OrderID,
		Type:        models.WalletEscrowHold,
		Amount:      h.Amount,
		Description: h.Description,
		CreatedAt:   now,
	})
	return true, nil
}

func (s *Store) IncrementShopDailyStats(_ context.Context, shopID string, day time.Time, orders, items int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := statsKey{shopID: shopID, day: day.UTC().Format(time.DateOnly)}
	st, ok := s.stats[k]
	if !ok {
		st = &ShopDailyStats{}
		s.stats[k] = st
	}
	st.Orders += orders
	st.ItemsSold += items
	return nil
}

func (s *Store) ListCommissionRates(_ context.Context) ([]models.CommissionRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CommissionRate(nil), s.commissions...), nil
}

func (s *Store) GetFeeSettings(_ context.Context) (*models.FeeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fees == nil {
		return nil, nil
	}
	cp := *s.fees
	return &cp, nil
}

func (s *Store) InsertAuditEvent(_ context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, ev)
	return nil
}

// Inspection helpers.

func (s *Store) Transactions(orderID string) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for k, tx := range s.txs {
		if orderID == "" || k.orderID == orderID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShopID < out[j].ShopID })
	return out
}

func (s *Store) EscrowBalance(sellerID string) models.EscrowBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[sellerID]; ok {
		return *b
	}
	return models.EscrowBalance{SellerID: sellerID}
}

func (s *Store) WalletTransactions() []models.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WalletTransaction(nil), s.wallet...)
}

func (s *Store) ShopStats(shopID string, day time.Time) ShopDailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[statsKey{shopID: shopID, day: day.UTC().Format(time.DateOnly)}]; ok {
		return *st
	}
	return ShopDailyStats{}
}

func (s *Store) AuditEvents() []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEvent(nil), s.audit...)
}

// LockedTotal sums every seller's locked balance.
func (s *Store) LockedTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.balances {
		total += b.LockedBalance
	}
	return total
}
