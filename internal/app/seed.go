package app

import (
	"fmt"
	"os"

	"PartsSettle/internal/models"
	"PartsSettle/internal/money"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type seedTier struct {
	MinQuantity int             `yaml:"min_quantity"`
	UnitPrice   decimal.Decimal `yaml:"unit_price"`
	Label       string          `yaml:"label"`
}

type seedPart struct {
	ID             string          `yaml:"id"`
	ShopID         string          `yaml:"shop_id"`
	SellerID       string          `yaml:"seller_id"`
	CategoryID     string          `yaml:"category_id"`
	Name           string          `yaml:"name"`
	BasePrice      decimal.Decimal `yaml:"base_price"`
	Stock          int             `yaml:"stock"`
	MinOrderQty    int             `yaml:"min_order_qty"`
	PackSize       int             `yaml:"pack_size"`
	OrderIncrement int             `yaml:"order_increment"`
	AllowBackorder bool            `yaml:"allow_backorder"`
	LeadTimeDays   int             `yaml:"lead_time_days"`
	Tiers          []seedTier      `yaml:"tiers"`
}

type seedFile struct {
	Parts           []seedPart        `yaml:"parts"`
	CommissionRates map[string]string `yaml:"commission_rates"`
}

// Seeder is the write side of the in-memory catalog.
type Seeder interface {
	PutPart(p models.Part)
	PutPriceTier(t models.PriceTier)
	SetCommissionRate(categoryID, pct string)
}

// LoadSeed reads a yaml catalog fixture into an in-memory store.
func LoadSeed(path string, dst Seeder) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for i, p := range f.Parts {
		if p.ID == "" || p.ShopID == "" || p.SellerID == "" {
			return fmt.Errorf("parts[%d]: id, shop_id and seller_id are required", i)
		}
		dst.PutPart(models.Part{
			ID:             p.ID,
			ShopID:         p.ShopID,
			SellerID:       p.SellerID,
			CategoryID:     p.CategoryID,
			Name:           p.Name,
			BasePrice:      money.ToCents(p.BasePrice),
			StockOnHand:    p.Stock,
			MinOrderQty:    p.MinOrderQty,
			PackSize:       p.PackSize,
			OrderIncrement: p.OrderIncrement,
			AllowBackorder: p.AllowBackorder,
			LeadTimeDays:   p.LeadTimeDays,
			Active:         true,
		})
		for _, t := range p.Tiers {
			dst.PutPriceTier(models.PriceTier{
				PartID:      p.ID,
				MinQuantity: t.MinQuantity,
				UnitPrice:   money.ToCents(t.UnitPrice),
				Label:       t.Label,
				Active:      true,
			})
		}
	}
	for cat, pct := range f.CommissionRates {
		dst.SetCommissionRate(cat, pct)
	}
	return nil
}
