/**
 * @description
 * This file contains the HTTP handler functions for the subscription ledger. Handlers
 * parse requests, call the service layer and map domain and settlement errors onto
 * status codes.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/locallum/blockchain-subscription-service/internal/app"
	"github.com/locallum/blockchain-subscription-service/internal/domain"
	"github.com/locallum/blockchain-subscription-service/pkg/settlementclient"
)

const maxBodyBytes = 1 << 20

// Handler holds the application services that handlers interact with.
type Handler struct {
	service *app.Service
	actions *app.Actions
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new Handler. actions may be nil when no settlement backend is
// configured; the chain-backed routes are then not mounted.
func NewHandler(service *app.Service, actions *app.Actions, logger *slog.Logger) *Handler {
	return &Handler{service: service, actions: actions, logger: logger, now: time.Now}
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if !h.authorizeAddress(w, r, user) {
		return
	}

	subs, err := h.service.ListByUser(r.Context(), user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleListClaimables(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if !h.authorizeAddress(w, r, provider) {
		return
	}

	subs, err := h.service.ListClaimableByProvider(r.Context(), provider, h.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Get(r.Context(), id, WalletFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if wallet := WalletFromContext(r.Context()); wallet != "" && !domain.SameAddress(wallet, req.User) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	sub, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handlePatchSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}
	var req domain.PatchSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.service.Patch(r.Context(), id, req, WalletFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.actions.Cancel(r.Context(), id, WalletFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleClaimSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.actions.Claim(r.Context(), id, WalletFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// authorizeAddress rejects a query for an address other than the authenticated wallet.
func (h *Handler) authorizeAddress(w http.ResponseWriter, r *http.Request, address string) bool {
	wallet := WalletFromContext(r.Context())
	if wallet == "" || address == "" || domain.SameAddress(wallet, address) {
		return true
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var failure *settlementclient.Failure
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Subscription not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &failure):
		http.Error(w, failure.Error(), http.StatusBadGateway)
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
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
