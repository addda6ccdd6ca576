package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tunefile/apiserver/internal/services"
)

// NotificationHandler provides HTTP handlers for notifications.
type NotificationHandler struct {
	service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// NotificationRouter registers the notification routes.
func NotificationRouter(r chi.Router, service *services.NotificationService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewNotificationHandler(service)

	r.Use(authMiddleware)
	r.Get("/", handler.List)
	r.Put("/read/{notificationID}", handler.MarkRead)
	r.Delete("/{notificationID}", handler.Delete)
	r.Delete("/", handler.Clear)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	unreadOnly := strings.EqualFold(r.URL.Query().Get("unread"), "true")
	notifications, err := h.service.List(r.Context(), userID, unreadOnly)
	if err != nil {
		writeServiceError(w, err, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "notificationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.MarkRead(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "notificationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "failed to delete notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.service.Clear(r.Context(), userID); err != nil {
		writeServiceError(w, err, "failed to clear notifications")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
