package http

import (
	"errors"
	"net/http"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/checkout"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/poller"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/session"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type PaymentHandler struct {
	sessions *session.Registry
}

func NewPaymentHandler(sessions *session.Registry) *PaymentHandler {
	return &PaymentHandler{sessions: sessions}
}

type PaymentResponseDTO struct {
	poller.Snapshot
	Navigation *domain.Navigation `json:"navigation,omitempty"`
}

type ConfirmedResponseDTO struct {
	OrderNumber string `json:"order_number"`
	State       string `json:"state"`
	Polling     bool   `json:"polling"`
}

type RetryResponseDTO struct {
	Navigation domain.Navigation `json:"navigation"`
	Checkout   checkout.Status   `json:"checkout"`
}

// engine resolves the reconciliation named in the URL.
func (h *PaymentHandler) engine(w http.ResponseWriter, r *http.Request) (*poller.Reconciler, bool) {
	e, err := h.sessions.Engine(logger.SessionID(r.Context()), chi.URLParam(r, "order_number"))
	if err != nil {
		handleDomainError(w, err)
		return nil, false
	}
	return e, true
}

func (h *PaymentHandler) lastNavigation(r *http.Request) *domain.Navigation {
	if s, ok := h.sessions.Get(logger.SessionID(r.Context())); ok {
		return s.LastNavigation()
	}
	return nil
}

// Reconcile starts polling for a placed order. Orders that need no
// confirmation round-trip are reported as confirmed.
func (h *PaymentHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "order_number")
	e, err := h.sessions.Reconcile(r.Context(), logger.SessionID(r.Context()), orderNumber)
	if errors.Is(err, domain.ErrPollingNotApplicable) {
		respondJSON(w, http.StatusOK, ConfirmedResponseDTO{OrderNumber: orderNumber, State: "CONFIRMED"})
		return
	}
	if err != nil {
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, PaymentResponseDTO{Snapshot: e.Snapshot()})
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, PaymentResponseDTO{Snapshot: e.Snapshot(), Navigation: h.lastNavigation(r)})
}

func (h *PaymentHandler) ManualCheck(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if _, err := e.ManualCheck(r.Context()); err != nil {
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, PaymentResponseDTO{Snapshot: e.Snapshot()})
}

func (h *PaymentHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	nav, err := e.RetryPayment(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	resp := RetryResponseDTO{Navigation: nav}
	if s, ok := h.sessions.Get(logger.SessionID(r.Context())); ok {
		resp.Checkout = s.Pipeline.Status()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandler) ContactSupport(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	nav, err := e.ContactSupport(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nav)
}

// StopPayment cancels polling when the customer navigates away.
func (h *PaymentHandler) StopPayment(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.StopEngine(logger.SessionID(r.Context()), chi.URLParam(r, "order_number"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
