package models

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

type Address struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Part is the catalog view the pricing engine and stock ledger need.
type Part struct {
	ID             string
	ShopID         string
	SellerID       string
	CategoryID     string
	Name           string
	BasePrice      int64
	StockOnHand    int
	MinOrderQty    int
	PackSize       int
	OrderIncrement int
	AllowBackorder bool
	LeadTimeDays   int
	Active         bool
}

type PriceTier struct {
	PartID      string
	MinQuantity int
	UnitPrice   int64
	Label       string
	Active      bool
}

// Order amounts are in cents and computed server-side once, at creation.
type Order struct {
	ID              string
	OrderNumber     string
	BuyerID         string
	ShopID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Subtotal        int64
	Shipping        int64
	Tax             int64
	Discount        int64
	Total           int64
	ShippingMethod  ShippingMethod
	ShippingAddress Address
	BillingAddress  Address
	CustomerEmail   string
	CustomerName    string
	PaymentID       *string
	PaidAt          *time.Time
	SettledAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLineItem snapshots the seller, category and resolved unit price at creation.
type OrderLineItem struct {
	ID          string
	OrderID     string
	PartID      string
	ShopID      string
	SellerID    string
	CategoryID  string
	Quantity    int
	UnitPrice   int64
	TotalPrice  int64
	TierLabel   string
	IsBackorder bool
	CreatedAt   time.Time
}

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
)

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
	EscrowDisputed EscrowStatus = "disputed"
)

// Transaction is the immutable ledger row for one seller's share of one paid order.
type Transaction struct {
	ID           string
	OrderID      string
	ShopID       string
	SellerID     string
	GrossAmount  int64
	FeeAmount    int64
	SellerAmount int64
	Status       TransactionStatus
	EscrowStatus EscrowStatus
	PaymentID    string
	CompletedAt  time.Time
	CreatedAt    time.Time
}

type EscrowBalance struct {
	SellerID         string
	ShopID           string
	LockedBalance    int64
	AvailableBalance int64
	UpdatedAt        time.Time
}

const WalletEscrowHold = "escrow_hold"

type WalletTransaction struct {
	ID          string
	SellerID    string
	ShopID      string
	OrderID     string
	Type        string
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// EscrowHold is the argument set of the store's atomic escrow-hold operation.
type EscrowHold struct {
	SellerID    string
	ShopID      string
	Amount      int64
	OrderID     string
	Description string
}

type AuditEvent struct {
	ID        string
	Type      string
	Success   bool
	Severity  string
	OrderID   string
	PaymentID string
	Origin    string
	Detail    string
	CreatedAt time.Time
}

type CommissionRate struct {
	CategoryID string
	Percentage string
}

// FeeSettings mirrors the platform-wide fee toggles as stored.
type FeeSettings struct {
	VATPct              string
	VATEnabled          bool
	ProcessorFeePct     string
	ProcessorFeeEnabled bool
}
