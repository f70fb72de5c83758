package http

import (
	"errors"
	"io"
	"net/http"

	"PartsSettle/internal/logging"
	"PartsSettle/internal/payments"
	"PartsSettle/internal/settlement"

	"go.uber.org/zap"
)

const maxNotificationBody = 64 << 10

// PaymentNotify receives the provider's server-to-server notification. The provider retries
// on any non-200 answer, so only failures that a retry could fix map to 5xx.
func (h *Handler) PaymentNotify(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.Log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBody))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "MalformedNotification", "notification body could not be read")
		return
	}

	res, err := h.Settlement.HandleNotification(r.Context(), r.RemoteAddr, body)
	if err == nil {
		log.Info("payment notification processed",
			zap.String("order_id", res.OrderID),
			zap.String("payment_id", res.PaymentID),
			zap.String("outcome", string(res.Outcome)),
		)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "OK")
		return
	}

	status, code := notifyError(err)
	if status >= http.StatusInternalServerError {
		log.Error("payment notification failed", zap.Error(err))
		writeErrorCode(w, status, code, "notification could not be processed")
		return
	}
	log.Warn("payment notification rejected", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	writeErrorCode(w, status, code, err.Error())
}

func notifyError(err error) (int, string) {
	switch {
	case errors.Is(err, payments.ErrInvalidOrigin):
		return http.StatusForbidden, "InvalidOrigin"
	case errors.Is(err, payments.ErrSignatureMismatch):
		return http.StatusBadRequest, "SignatureMismatch"
	case errors.Is(err, payments.ErrServerValidationFailed):
		return http.StatusBadRequest, "ServerValidationFailed"
	case errors.Is(err, payments.ErrMerchantMismatch):
		return http.StatusBadRequest, "MerchantMismatch"
	case errors.Is(err, payments.ErrMalformedNotification):
		return http.StatusBadRequest, "MalformedNotification"
	case errors.Is(err, settlement.ErrAmountMismatch):
		return http.StatusBadRequest, "AmountMismatch"
	case errors.Is(err, settlement.ErrOrderNotFound):
		return http.StatusNotFound, "OrderNotFound"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}
