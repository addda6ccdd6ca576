package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tunefile/apiserver/internal/services"
	"github.com/tunefile/apiserver/internal/store"
	"github.com/tunefile/apiserver/types"
)

// CreditHandler provides HTTP handlers for the credit ledger and invoices.
type CreditHandler struct {
	creditService  *services.CreditService
	invoiceService *services.InvoiceService
	userService    *services.UserService
}

func NewCreditHandler(creditService *services.CreditService, invoiceService *services.InvoiceService, userService *services.UserService) *CreditHandler {
	return &CreditHandler{
		creditService:  creditService,
		invoiceService: invoiceService,
		userService:    userService,
	}
}

// CreditRouter registers the credit and purchase routes.
func CreditRouter(r chi.Router, creditService *services.CreditService, invoiceService *services.InvoiceService, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewCreditHandler(creditService, invoiceService, userService)

	r.Use(authMiddleware)
	r.Get("/balance", handler.Balance)
	r.Get("/transactions", handler.Transactions)
	r.Post("/purchase", handler.Purchase)
}

// InvoiceRouter registers the invoice read routes.
func InvoiceRouter(r chi.Router, creditService *services.CreditService, invoiceService *services.InvoiceService, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewCreditHandler(creditService, invoiceService, userService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListInvoices)
	r.Get("/{invoiceID}", handler.GetInvoice)
}

// AdminInvoiceRouter registers the admin invoice routes.
func AdminInvoiceRouter(r chi.Router, creditService *services.CreditService, invoiceService *services.InvoiceService, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewCreditHandler(creditService, invoiceService, userService)

	r.Use(authMiddleware, handler.requireAdmin)
	r.Put("/{invoiceID}/status", handler.UpdateInvoiceStatus)
}

func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	balance, err := h.creditService.Balance(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err, "failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *CreditHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	transactions, err := h.creditService.Transactions(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err, "failed to fetch transactions")
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (h *CreditHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	invoice, err := h.invoiceService.PurchaseCredits(r.Context(), actor, req.CreditAmount, req.PaymentMethod, req.Billing)
	if err != nil {
		writeServiceError(w, err, "failed to purchase credits")
		return
	}

	balance, err := h.creditService.Balance(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err, "failed to fetch balance")
		return
	}

	writeJSON(w, http.StatusCreated, PurchaseResponse{Invoice: invoice, Balance: balance})
}

func (h *CreditHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	invoices, err := h.invoiceService.List(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err, "failed to list invoices")
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *CreditHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	invoiceID, err := parseIDParam(r, "invoiceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	invoice, err := h.invoiceService.Get(r.Context(), invoiceID, actor)
	if err != nil {
		writeServiceError(w, err, "failed to fetch invoice")
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *CreditHandler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := parseIDParam(r, "invoiceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	invoice, err := h.invoiceService.SetStatus(r.Context(), invoiceID, types.InvoiceStatus(req.Status))
	if err != nil {
		writeServiceError(w, err, "failed to update invoice")
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// PurchaseRequest is the payload of the credit purchase endpoint.
type PurchaseRequest struct {
	CreditAmount  int               `json:"credit_amount"`
	PaymentMethod string            `json:"payment_method"`
	Billing       types.BillingInfo `json:"billing_info"`
}

// PurchaseResponse carries the issued invoice and the new balance.
type PurchaseResponse struct {
	Invoice types.Invoice `json:"invoice"`
	Balance int           `json:"balance"`
}

// BalanceResponse carries a user's current balance.
type BalanceResponse struct {
	Balance int `json:"balance"`
}

func (h *CreditHandler) actor(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return types.User{}, false
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return types.User{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return types.User{}, false
	}
	return user, true
}

func (h *CreditHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.actor(w, r)
		if !ok {
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
