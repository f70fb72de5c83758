package escrow

import (
	"context"
	"fmt"

	"PartsSettle/internal/models"
	"PartsSettle/internal/money"

	"github.com/shopspring/decimal"
)

// FeeSchedule is the fee configuration snapshot one settlement run is computed against.
type FeeSchedule struct {
	DefaultCommissionPct decimal.Decimal
	CommissionByCategory map[string]decimal.Decimal
	VATPct               decimal.Decimal
	VATEnabled           bool
	ProcessorFeePct      decimal.Decimal
	ProcessorFeeEnabled  bool
}

func (f FeeSchedule) CommissionPct(categoryID string) decimal.Decimal {
	if pct, ok := f.CommissionByCategory[categoryID]; ok {
		return pct
	}
	return f.DefaultCommissionPct
}

// surchargePct is the part of the deduction that applies to the whole gross amount.
func (f FeeSchedule) surchargePct() decimal.Decimal {
	pct := decimal.Zero
	if f.VATEnabled {
		pct = pct.Add(f.VATPct)
	}
	if f.ProcessorFeeEnabled {
		pct = pct.Add(f.ProcessorFeePct)
	}
	return pct
}

type Split struct {
	Gross int64
	Fees  int64
	Net   int64
	Items int
}

// Compute returns gross, combined fees and net for one seller's line items. Commission
// follows each item's category; the total is rounded to cents once.
func (f FeeSchedule) Compute(items []models.OrderLineItem) Split {
	var s Split
	fees := decimal.Zero
	for _, it := range items {
		s.Gross += it.TotalPrice
		s.Items += it.Quantity
		fees = fees.Add(money.Percent(it.TotalPrice, f.CommissionPct(it.CategoryID)))
	}
	fees = fees.Add(money.Percent(s.Gross, f.surchargePct()))
	s.Fees = fees.Round(0).IntPart()
	s.Net = s.Gross - s.Fees
	return s
}

type RateStore interface {
	ListCommissionRates(ctx context.Context) ([]models.CommissionRate, error)
	GetFeeSettings(ctx context.Context) (*models.FeeSettings, error)
}

// ScheduleLoader builds a FeeSchedule from configured defaults overlaid with the
// rates and toggles currently stored.
type ScheduleLoader struct {
	store    RateStore
	defaults FeeSchedule
}

func NewScheduleLoader(store RateStore, defaults FeeSchedule) *ScheduleLoader {
	return &ScheduleLoader{store: store, defaults: defaults}
}

func (l *ScheduleLoader) Load(ctx context.Context) (FeeSchedule, error) {
	s := l.defaults
	s.CommissionByCategory = make(map[string]decimal.Decimal, len(l.defaults.CommissionByCategory))
	for k, v := range l.defaults.CommissionByCategory {
		s.CommissionByCategory[k] = v
	}

	rates, err := l.store.ListCommissionRates(ctx)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("load commission rates: %w", err)
	}
	for _, r := range rates {
		pct, err := decimal.NewFromString(r.Percentage)
		if err != nil {
			return FeeSchedule{}, fmt.Errorf("commission rate for %s: %w", r.CategoryID, err)
		}
		s.CommissionByCategory[r.CategoryID] = pct
	}

	settings, err := l.store.GetFeeSettings(ctx)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("load fee settings: %w", err)
	}
	if settings == nil {
		return s, nil
	}
	s.VATEnabled = settings.VATEnabled
	s.ProcessorFeeEnabled = settings.ProcessorFeeEnabled
	if settings.VATPct != "" {
		if s.VATPct, err = decimal.NewFromString(settings.VATPct); err != nil {
			return FeeSchedule{}, fmt.Errorf("vat_pct: %w", err)
		}
	}
	if settings.ProcessorFeePct != "" {
		if s.ProcessorFeePct, err = decimal.NewFromString(settings.ProcessorFeePct); err != nil {
			return FeeSchedule{}, fmt.Errorf("processor_fee_pct: %w", err)
		}
	}
	return s, nil
}
