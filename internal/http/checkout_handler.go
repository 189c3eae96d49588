package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/checkout"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/poller"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/session"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
)

type CheckoutHandler struct {
	sessions *session.Registry
	timeout  time.Duration
}

func NewCheckoutHandler(sessions *session.Registry, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		sessions: sessions,
		timeout:  timeout,
	}
}

type GoToStepRequestDTO struct {
	Step domain.CheckoutStep `json:"step"`
}

type PlaceOrderResponseDTO struct {
	Order      *domain.Order     `json:"order"`
	Navigation domain.Navigation `json:"navigation"`
	Payment    *poller.Snapshot  `json:"payment,omitempty"`
	Checkout   checkout.Status   `json:"checkout"`
}

func (h *CheckoutHandler) session(ctx context.Context) *session.Session {
	return h.sessions.GetOrCreate(ctx, logger.SessionID(ctx))
}

func (h *CheckoutHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session(r.Context()).Pipeline.Status())
}

func (h *CheckoutHandler) ContinueShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(ctx)
	if err := s.Pipeline.ContinueShipping(ctx); err != nil {
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Pipeline.Status())
}

func (h *CheckoutHandler) ContinuePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(ctx)
	if err := s.Pipeline.ContinuePayment(ctx); err != nil {
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Pipeline.Status())
}

func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(ctx)
	order, err := s.Pipeline.PlaceOrder(ctx)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	resp := PlaceOrderResponseDTO{
		Order:      order,
		Navigation: domain.Navigation{Target: domain.NavOrderSuccess, OrderNumber: order.OrderNumber},
		Checkout:   s.Pipeline.Status(),
	}
	if e, ok := s.Engine(order.OrderNumber); ok {
		snap := e.Snapshot()
		resp.Payment = &snap
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *CheckoutHandler) GoToStep(w http.ResponseWriter, r *http.Request) {
	var req GoToStepRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s := h.session(r.Context())
	if err := s.Pipeline.GoToStep(r.Context(), req.Step); err != nil {
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Pipeline.Status())
}
