package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/repository"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/session"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleDomainError maps checkout errors to HTTP status codes.
func handleDomainError(w http.ResponseWriter, err error) {
	var serr *domain.SubmissionError
	if errors.As(err, &serr) {
		respondJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "order could not be placed, please try again",
			Code:    "order_submission_failed",
			Details: serr.Err.Error(),
		})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, domain.ErrShippingAddressRequired):
		httpStatus, code = http.StatusUnprocessableEntity, "shipping_address_required"
	case errors.Is(err, domain.ErrPaymentMethodRequired):
		httpStatus, code = http.StatusUnprocessableEntity, "payment_method_required"
	case errors.Is(err, domain.ErrEmptyCart):
		httpStatus, code = http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrStepLocked):
		httpStatus, code = http.StatusUnprocessableEntity, "step_locked"
	case errors.Is(err, domain.ErrOutOfStock):
		httpStatus, code = http.StatusUnprocessableEntity, "out_of_stock"
	case errors.Is(err, domain.ErrInvalidStep):
		httpStatus, code = http.StatusBadRequest, "invalid_step"
	case errors.Is(err, domain.ErrSubmissionInProgress):
		httpStatus, code = http.StatusConflict, "submission_in_progress"
	case errors.Is(err, domain.ErrActionUnavailable):
		httpStatus, code = http.StatusConflict, "action_unavailable"
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrEngineNotFound),
		errors.Is(err, repository.ErrOrderNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
