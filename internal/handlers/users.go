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

// AdminUserHandler provides admin endpoints for user management.
type AdminUserHandler struct {
	userService   *services.UserService
	creditService *services.CreditService
}

func NewAdminUserHandler(userService *services.UserService, creditService *services.CreditService) *AdminUserHandler {
	return &AdminUserHandler{
		userService:   userService,
		creditService: creditService,
	}
}

// AdminUserRouter registers the admin user management routes.
func AdminUserRouter(r chi.Router, userService *services.UserService, creditService *services.CreditService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewAdminUserHandler(userService, creditService)

	r.Use(authMiddleware, handler.requireAdmin)
	r.Put("/{userID}/role", handler.SetRole)
	r.Post("/{userID}/credits", handler.AdjustCredits)
}

func (h *AdminUserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.userService.SetRole(r.Context(), userID, req.Role); err != nil {
		writeServiceError(w, err, "failed to update role")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminUserHandler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	transaction, err := h.creditService.Adjust(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, err, "failed to adjust credits")
		return
	}
	writeJSON(w, http.StatusCreated, transaction)
}

func (h *AdminUserHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := h.userService.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}

		if user.Role != types.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Healthz responds to liveness checks.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
