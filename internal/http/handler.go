package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PartsSettle/internal/logging"
	"PartsSettle/internal/models"
	"PartsSettle/internal/money"
	"PartsSettle/internal/pricing"
	"PartsSettle/internal/services"
	"PartsSettle/internal/settlement"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxOrderBody = 1 << 20

type NotificationHandler interface {
	HandleNotification(ctx context.Context, origin string, body []byte) (settlement.Result, error)
}

type Handler struct {
	Orders     *services.OrderService
	Pricing    pricing.Engine
	Settlement NotificationHandler
	Log        *zap.Logger
}

func NewHandler(orders *services.OrderService, engine pricing.Engine, machine NotificationHandler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Orders: orders, Pricing: engine, Settlement: machine, Log: logger}
}

// createOrderRequest has no price fields; unknown fields are rejected.
type createOrderRequest struct {
	Items           []services.ItemInput  `json:"items"`
	ShippingAddress models.Address        `json:"shippingAddress"`
	BillingAddress  *models.Address       `json:"billingAddress,omitempty"`
	CustomerEmail   string                `json:"customerEmail"`
	CustomerName    string                `json:"customerName"`
	ShippingMethod  models.ShippingMethod `json:"shippingMethod"`
}

type calculatedTotals struct {
	Subtotal       string `json:"subtotal"`
	ShippingAmount string `json:"shippingAmount"`
	TaxAmount      string `json:"taxAmount"`
	DiscountAmount string `json:"discountAmount"`
	TotalAmount    string `json:"totalAmount"`
}

type createOrderResponse struct {
	OrderID          string           `json:"orderId"`
	OrderNumber      string           `json:"orderNumber"`
	CalculatedTotals calculatedTotals `json:"calculatedTotals"`
}

type lineItemResponse struct {
	PartID      string `json:"partId"`
	ShopID      string `json:"shopId"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
	TierLabel   string `json:"tierLabel"`
	IsBackorder bool   `json:"isBackorder"`
}

type orderResponse struct {
	OrderID          string             `json:"orderId"`
	OrderNumber      string             `json:"orderNumber"`
	Status           string             `json:"status"`
	PaymentStatus    string             `json:"paymentStatus"`
	ShippingMethod   string             `json:"shippingMethod"`
	ShippingAddress  models.Address     `json:"shippingAddress"`
	CalculatedTotals calculatedTotals   `json:"calculatedTotals"`
	Items            []lineItemResponse `json:"items,omitempty"`
	PaymentID        string             `json:"paymentId,omitempty"`
	PaidAt           string             `json:"paidAt,omitempty"`
	CreatedAt        string             `json:"createdAt"`
}

func totals(o *models.Order) calculatedTotals {
	return calculatedTotals{
		Subtotal:       money.Format(o.Subtotal),
		ShippingAmount: money.Format(o.Shipping),
		TaxAmount:      money.Format(o.Tax),
		DiscountAmount: money.Format(o.Discount),
		TotalAmount:    money.Format(o.Total),
	}
}

func toOrderResponse(o *models.Order, items []models.OrderLineItem) orderResponse {
	resp := orderResponse{
		OrderID:          o.ID,
		OrderNumber:      o.OrderNumber,
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		ShippingMethod:   string(o.ShippingMethod),
		ShippingAddress:  o.ShippingAddress,
		CalculatedTotals: totals(o),
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
	if o.PaymentID != nil {
		resp.PaymentID = *o.PaymentID
	}
	if o.PaidAt != nil {
		resp.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	for _, it := range items {
		resp.Items = append(resp.Items, lineItemResponse{
			PartID:      it.PartID,
			ShopID:      it.ShopID,
			Quantity:    it.Quantity,
			UnitPrice:   money.Format(it.UnitPrice),
			TotalPrice:  money.Format(it.TotalPrice),
			TierLabel:   it.TierLabel,
			IsBackorder: it.IsBackorder,
		})
	}
	return resp
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "InvalidBody", "invalid json body: "+err.Error())
		return
	}

	placed, err := h.Orders.CreateOrder(r.Context(), services.CreateOrderInput{
		BuyerID:         r.Header.Get("X-User-Id"),
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		ShippingMethod:  req.ShippingMethod,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:          placed.Order.ID,
		OrderNumber:      placed.Order.OrderNumber,
		CalculatedTotals: totals(placed.Order),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	placed, err := h.Orders.GetOrder(r.Context(), r.Header.Get("X-User-Id"), orderID)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(placed.Order, placed.Items))
}

type updateOrderRequest struct {
	Action string `json:"action"`
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Action != "cancel" {
		writeErrorCode(w, http.StatusBadRequest, "UnsupportedAction", "unsupported action")
		return
	}

	order, err := h.Orders.CancelOrder(r.Context(), r.Header.Get("X-User-Id"), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order, nil))
}

func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		field    *services.FieldError
		notFound *services.PartNotFoundError
		rejected *services.RejectionError
	)
	switch {
	case errors.Is(err, services.ErrMissingBuyerID):
		writeError(w, http.StatusUnauthorized, "missing user id")
	case errors.As(err, &field):
		writeErrorCode(w, http.StatusBadRequest, "MissingField", field.Error())
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: notFound.Error(), Code: "PartNotFound", PartIDs: notFound.PartIDs})
	case errors.As(err, &rejected):
		resp := errorResponse{Error: "order rejected", Code: "OrderRejected"}
		for _, v := range rejected.Violations {
			resp.Violations = append(resp.Violations, violation{
				PartID:            v.PartID,
				Code:              v.Code,
				Message:           v.Message,
				SuggestedQuantity: v.SuggestedQuantity,
			})
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, services.ErrOrderTotalExceedsMaximum):
		writeErrorCode(w, http.StatusBadRequest, "OrderTotalExceedsMaximum", err.Error())
	case errors.Is(err, services.ErrUnsupportedShippingMethod):
		writeErrorCode(w, http.StatusBadRequest, "UnsupportedShippingMethod", err.Error())
	case errors.Is(err, services.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrNotCancellable):
		writeErrorCode(w, http.StatusBadRequest, "NotCancellable", "Only pending orders with pending payment can be cancelled")
	default:
		logging.FromContext(r.Context(), h.Log).Error("order request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type availabilityResponse struct {
	InStock      int  `json:"inStock"`
	BackorderQty int  `json:"backorderQty"`
	IsBackorder  bool `json:"isBackorder"`
	LeadTimeDays int  `json:"leadTimeDays,omitempty"`
}

type quoteResponse struct {
	PartID       string               `json:"partId"`
	Quantity     int                  `json:"quantity"`
	UnitPrice    string               `json:"unitPrice"`
	TierLabel    string               `json:"tierLabel"`
	LineTotal    string               `json:"lineTotal"`
	Availability availabilityResponse `json:"availability"`
	Violations   []violation          `json:"violations,omitempty"`
}

// QuotePart prices a quantity of one part and reports what an order for it would run into.
func (h *Handler) QuotePart(w http.ResponseWriter, r *http.Request) {
	partID := chi.URLParam(r, "partId")
	qty, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("quantity")))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "InvalidQuantity", "quantity must be an integer")
		return
	}
	if qty > pricing.MaxQuantity {
		writeErrorCode(w, http.StatusBadRequest, "QuantityTooHigh", pricing.ErrQuantityTooHigh.Error())
		return
	}
	ctx := r.Context()

	part, err := h.Pricing.Catalog.GetPart(ctx, partID)
	if errors.Is(err, models.ErrNotFound) {
		writeErrorCode(w, http.StatusNotFound, "PartNotFound", "part not found")
		return
	}
	if err != nil {
		logging.FromContext(ctx, h.Log).Error("quote part failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	unit, label, err := h.Pricing.Quote(ctx, part, qty)
	if err != nil {
		logging.FromContext(ctx, h.Log).Error("resolve price failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	lineTotal, ok := money.MulQty(unit, max(qty, 0))
	if !ok {
		writeErrorCode(w, http.StatusBadRequest, "OrderTotalExceedsMaximum", services.ErrOrderTotalExceedsMaximum.Error())
		return
	}
	resp := quoteResponse{
		PartID:    partID,
		Quantity:  qty,
		UnitPrice: money.Format(unit),
		TierLabel: label,
		LineTotal: money.Format(lineTotal),
	}
	if v := pricing.ValidateQuantity(qty, part.MinOrderQty, part.PackSize, part.OrderIncrement); v != nil {
		resp.Violations = append(resp.Violations, violation{PartID: partID, Code: v.Code, Message: v.Message, SuggestedQuantity: v.SuggestedQuantity})
	}
	avail, err := h.Pricing.CheckAvailability(ctx, partID, qty)
	var v *pricing.Violation
	switch {
	case errors.As(err, &v):
		resp.Violations = append(resp.Violations, violation{PartID: partID, Code: v.Code, Message: v.Message})
	case err != nil:
		logging.FromContext(ctx, h.Log).Error("check availability failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.Availability = availabilityResponse{
		InStock:      avail.InStock,
		BackorderQty: avail.BackorderQty,
		IsBackorder:  avail.IsBackorder,
		LeadTimeDays: avail.LeadTimeDays,
	}
	writeJSON(w, http.StatusOK, resp)
}
