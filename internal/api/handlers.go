/**
 * @description
 * This file contains the HTTP handler functions for the subscription-service.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * business logic in the service layer, and writing the HTTP response.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/subscribe/subscription-service/internal/app"
	"github.com/subscribe/subscription-service/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// SubscriptionService is the part of app.Service the handlers call.
type SubscriptionService interface {
	Create(ctx context.Context, ownerID string, in app.CreateInput) (*domain.Subscription, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Subscription, error)
	List(ctx context.Context, ownerID string) ([]domain.Subscription, error)
	Update(ctx context.Context, ownerID, id string, patch domain.Patch) (*domain.Subscription, error)
	Delete(ctx context.Context, ownerID, id string) error
	MarkAsPaid(ctx context.Context, ownerID, id string, paidDate *time.Time) (*domain.Subscription, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service SubscriptionService
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service SubscriptionService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type messageResponse struct {
	Message string `json:"message"`
}

type markAsPaidRequest struct {
	PaidDate string `json:"paidDate"`
}

// handleCreate creates a subscription for the authenticated owner.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req app.CreateInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	sub, err := h.service.Create(r.Context(), ownerID, req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

// handleList returns every subscription of the authenticated owner.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	subs, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	sub, err := h.service.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// handleUpdate applies a partial update. Only the allow-listed fields may
// appear in the body.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	patch, err := domain.ParsePatch(body)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	sub, err := h.service.Update(r.Context(), ownerID, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	if err := h.service.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, messageResponse{Message: "Subscription deleted successfully"})
}

// handleMarkAsPaid records a renewal payment. The body is optional; without a
// paidDate the payment is recorded as of now.
func (h *Handler) handleMarkAsPaid(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	var paidDate *time.Time
	if len(strings.TrimSpace(string(body))) > 0 {
		var req markAsPaidRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
			return
		}
		if strings.TrimSpace(req.PaidDate) != "" {
			parsed, err := domain.ParseDate(req.PaidDate)
			if err != nil {
				h.respondWithServiceError(w, err)
				return
			}
			paidDate = &parsed
		}
	}

	sub, err := h.service.MarkAsPaid(r.Context(), ownerID, chi.URLParam(r, "id"), paidDate)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// respondWithServiceError maps the domain error taxonomy to a status code.
// Only the error kind and message reach the client.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, kind, clientMessage(err, domain.ErrValidation))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, kind, clientMessage(err, domain.ErrNotFound))
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, kind, clientMessage(err, domain.ErrForbidden))
	case errors.Is(err, domain.ErrPersistence):
		h.logger.Error("storage failure", "error", err)
		writeError(w, http.StatusInternalServerError, kind, "failed to access subscription storage")
	default:
		h.logger.Error("unexpected service error", "error", err)
		writeError(w, http.StatusInternalServerError, kind, "Internal Server Error")
	}
}

// clientMessage drops the "<kind>: " prefix added when wrapping sentinel.
func clientMessage(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	respondWithJSON(w, status, map[string]string{"error": kind, "message": message})
}
