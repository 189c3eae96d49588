package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/session"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	sessions *session.Registry
	timeout  time.Duration
}

func NewCartHandler(sessions *session.Registry, timeout time.Duration) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string  `json:"product"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	Price     float64 `json:"price"`
	Stock     int     `json:"countInStock"`
	Quantity  int     `json:"qty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"qty"`
}

func (h *CartHandler) session(ctx context.Context) *session.Session {
	return h.sessions.GetOrCreate(ctx, logger.SessionID(ctx))
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	respondJSON(w, http.StatusOK, h.session(ctx).Cart.Snapshot())
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product must not be empty")
		return
	}
	if req.Price < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}

	s := h.session(ctx)
	item := domain.CartLineItem{
		ProductID: req.ProductID,
		Name:      req.Name,
		Image:     req.Image,
		UnitPrice: req.Price,
		Stock:     req.Stock,
	}
	if err := s.Cart.AddItem(ctx, item, req.Quantity); err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, s.Cart.Snapshot())
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s := h.session(ctx)
	s.Cart.UpdateItemQty(ctx, productID, req.Quantity)
	respondJSON(w, http.StatusOK, s.Cart.Snapshot())
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(ctx)
	s.Cart.RemoveItem(ctx, chi.URLParam(r, "product_id"))
	respondJSON(w, http.StatusOK, s.Cart.Snapshot())
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(ctx)
	s.Cart.Clear(ctx)
	respondJSON(w, http.StatusOK, s.Cart.Snapshot())
}

// SaveShippingAddress replaces the address; a null body clears it.
func (h *CartHandler) SaveShippingAddress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var addr *domain.ShippingAddress
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s := h.session(ctx)
	s.Cart.SaveShippingAddress(ctx, addr)
	respondJSON(w, http.StatusOK, s.Cart.Snapshot())
}

// SavePaymentMethod replaces the payment method; a null body clears it.
func (h *CartHandler) SavePaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var pm *domain.PaymentMethodSelection
	if err := json.NewDecoder(r.Body).Decode(&pm); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if pm != nil && !pm.Method.IsValid() {
		respondError(w, http.StatusBadRequest, "invalid_payment_method", "method must be one of mpesa, cod, card")
		return
	}

	s := h.session(ctx)
	s.Cart.SavePaymentMethod(ctx, pm)
	respondJSON(w, http.StatusOK, s.Cart.Snapshot())
}

func (h *CartHandler) SaveTotals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var totals domain.Totals
	if err := json.NewDecoder(r.Body).Decode(&totals); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s := h.session(ctx)
	s.Cart.CalculateTotals(totals)
	respondJSON(w, http.StatusOK, s.Cart.Snapshot())
}

// DiscardSession ends the session on this instance. The persisted cart stays.
func (h *CartHandler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Discard(logger.SessionID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
