package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"PartsSettle/internal/models"
)

const BasePriceLabel = "Base Price"

// MaxQuantity bounds a single line; it fits the INTEGER quantity column.
const MaxQuantity = 1_000_000

var (
	ErrQuantityTooLow     = errors.New("quantity below minimum order quantity")
	ErrPackSizeViolation  = errors.New("quantity is not a multiple of the pack size")
	ErrIncrementViolation = errors.New("quantity is not a multiple of the order increment")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
	ErrQuantityTooHigh    = errors.New("quantity exceeds the per-line maximum")
)

// Catalog is the read side of the parts catalog.
type Catalog interface {
	GetPart(ctx context.Context, partID string) (*models.Part, error)
	ListPriceTiers(ctx context.Context, partID string) ([]models.PriceTier, error)
}

// Violation describes one failed rule for one part. SuggestedQuantity is set for
// quantity rule failures so callers can offer auto-correction.
type Violation struct {
	PartID            string `json:"partId"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	SuggestedQuantity int    `json:"suggestedQuantity,omitempty"`
	Err               error  `json:"-"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("part %s: %s", v.PartID, v.Message)
}

func (v *Violation) Unwrap() error { return v.Err }

type Availability struct {
	InStock      int
	BackorderQty int
	IsBackorder  bool
	LeadTimeDays int
}

type Engine struct {
	Catalog Catalog
}

// ResolveUnitPrice returns the price of the highest active tier whose threshold the quantity
// meets, or the part's base price when no tier applies.
func (e Engine) ResolveUnitPrice(ctx context.Context, partID string, quantity int) (int64, string, error) {
	part, err := e.Catalog.GetPart(ctx, partID)
	if err != nil {
		return 0, "", err
	}
	return e.Quote(ctx, part, quantity)
}

// Quote resolves the unit price for an already loaded part.
func (e Engine) Quote(ctx context.Context, part *models.Part, quantity int) (int64, string, error) {
	tiers, err := e.Catalog.ListPriceTiers(ctx, part.ID)
	if err != nil {
		return 0, "", err
	}
	price, label := SelectTier(tiers, part.BasePrice, quantity)
	return price, label, nil
}

// SelectTier evaluates tiers by descending min quantity; the first one met wins.
func SelectTier(tiers []models.PriceTier, basePrice int64, quantity int) (int64, string) {
	active := make([]models.PriceTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Active {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MinQuantity > active[j].MinQuantity
	})
	for _, t := range active {
		if quantity >= t.MinQuantity {
			label := t.Label
			if label == "" {
				label = fmt.Sprintf("%d+ units", t.MinQuantity)
			}
			return t.UnitPrice, label
		}
	}
	return basePrice, BasePriceLabel
}

// ValidateQuantity checks MOQ, then pack size, then order increment. Pack size, when set,
// governs instead of the increment.
func ValidateQuantity(quantity, moq, packSize, increment int) *Violation {
	if quantity <= 0 {
		return &Violation{
			Code:              "InvalidQuantity",
			Message:           ErrInvalidQuantity.Error(),
			SuggestedQuantity: suggest(1, moq, packSize, increment),
			Err:               ErrInvalidQuantity,
		}
	}
	if quantity > MaxQuantity {
		return &Violation{
			Code:    "QuantityTooHigh",
			Message: fmt.Sprintf("quantity may not exceed %d", MaxQuantity),
			Err:     ErrQuantityTooHigh,
		}
	}
	if moq > 0 && quantity < moq {
		return &Violation{
			Code:              "QuantityTooLow",
			Message:           fmt.Sprintf("minimum order quantity is %d", moq),
			SuggestedQuantity: suggest(quantity, moq, packSize, increment),
			Err:               ErrQuantityTooLow,
		}
	}
	if packSize > 0 && quantity%packSize != 0 {
		return &Violation{
			Code:              "PackSizeViolation",
			Message:           fmt.Sprintf("quantity must be a multiple of pack size %d", packSize),
			SuggestedQuantity: suggest(quantity, moq, packSize, increment),
			Err:               ErrPackSizeViolation,
		}
	}
	if packSize <= 0 && increment > 1 && quantity%increment != 0 {
		return &Violation{
			Code:              "IncrementViolation",
			Message:           fmt.Sprintf("quantity must be a multiple of %d", increment),
			SuggestedQuantity: suggest(quantity, moq, packSize, increment),
			Err:               ErrIncrementViolation,
		}
	}
	return nil
}

// suggest rounds up to the governing step, then lifts the result to at least moq
// while keeping it on the step.
func suggest(quantity, moq, packSize, increment int) int {
	step := 1
	switch {
	case packSize > 0:
		step = packSize
	case increment > 1:
		step = increment
	}
	q := roundUp(quantity, step)
	if q < moq {
		q = roundUp(moq, step)
	}
	if q <= 0 {
		q = step
	}
	return q
}

func roundUp(n, step int) int {
	if n <= 0 {
		return step
	}
	if r := n % step; r != 0 {
		return n + step - r
	}
	return n
}

func (e Engine) CheckAvailability(ctx context.Context, partID string, quantity int) (Availability, error) {
	part, err := e.Catalog.GetPart(ctx, partID)
	if err != nil {
		return Availability{}, err
	}
	avail, v := CheckStock(part, quantity)
	if v != nil {
		return avail, v
	}
	return avail, nil
}

// CheckStock reports the backorder portion of a request, or InsufficientStock when
// the part does not accept backorders.
func CheckStock(part *models.Part, quantity int) (Availability, *Violation) {
	onHand := part.StockOnHand
	if onHand < 0 {
		onHand = 0
	}
	if quantity <= onHand {
		return Availability{InStock: quantity}, nil
	}
	if !part.AllowBackorder {
		return Availability{InStock: onHand}, &Violation{
			PartID:  part.ID,
			Code:    "InsufficientStock",
			Message: fmt.Sprintf("only %d in stock", onHand),
			Err:     ErrInsufficientStock,
		}
	}
	return Availability{
		InStock:      onHand,
		BackorderQty: quantity - onHand,
		IsBackorder:  true,
		LeadTimeDays: part.LeadTimeDays,
	}, nil
}
