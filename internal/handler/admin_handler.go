package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/service"
)

const defaultListLimit = 1000

// AdminHandler exposes operator utilities over the shared admission state.
type AdminHandler struct {
	bans        *service.BanService
	republisher *service.Republisher
	ingestion   *service.IngestionService
	token       string
	logger      *zap.Logger
}

func NewAdminHandler(
	bans *service.BanService,
	republisher *service.Republisher,
	ingestion *service.IngestionService,
	token string,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		bans:        bans,
		republisher: republisher,
		ingestion:   ingestion,
		token:       token,
		logger:      logger,
	}
}

// RegisterRoutes registers the admin routes. Nothing is mounted when no
// admin token is configured. Requests carrying the admin token skip
// admission so an operator can always lift a ban; anything else goes
// through admit before being refused.
func (h *AdminHandler) RegisterRoutes(router chi.Router, admit func(http.Handler) http.Handler) {
	if h.token == "" {
		h.logger.Warn("ADMIN_TOKEN not set, admin API disabled")
		return
	}

	router.Route("/admin", func(r chi.Router) {
		r.Use(h.requireToken(admit))

		r.Get("/bans", h.ListBans)
		r.Post("/bans", h.CreateBan)
		r.Delete("/bans/{scope}/{identifier}", h.DeleteBan)
		r.Get("/violations/{device}", h.GetViolations)

		r.Get("/claim-checks/pending", h.ListPending)
		r.Post("/claim-checks/republish", h.Republish)
		r.Get("/claim-checks/payload", h.GetPayload)
	})
}

func (h *AdminHandler) requireToken(admit func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	var unauthorized http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, admission.CodeUnauthorized, "invalid admin token")
	})
	if admit != nil {
		unauthorized = admit(unauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Admin-Token")
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
				unauthorized.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func listLimit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return defaultListLimit
}

func (h *AdminHandler) dependencyError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("Admin operation failed", zap.String("operation", op), zap.Error(err))
	writeRejection(w, admission.DependencyFailure(op))
}

func (h *AdminHandler) ListBans(w http.ResponseWriter, r *http.Request) {
	bans, err := h.bans.ListBans(r.Context(), listLimit(r))
	if err != nil {
		h.dependencyError(w, "list_bans", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(bans, ""))
}

func (h *AdminHandler) CreateBan(w http.ResponseWriter, r *http.Request) {
	var req service.BanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, admission.CodeValidation, "invalid JSON body")
		return
	}

	rec, err := h.bans.Ban(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, admission.CodeValidation, err.Error())
		return
	case err != nil:
		h.dependencyError(w, "ban", err)
		return
	}

	h.logger.Info("Manual ban issued",
		zap.String("scope", string(rec.Scope)),
		zap.String("identifier", rec.Identifier),
		zap.Int64("duration_seconds", rec.ExpiresIn))
	writeJSON(w, http.StatusCreated, successResponse(rec, "ban created"))
}

func (h *AdminHandler) DeleteBan(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	identifier := chi.URLParam(r, "identifier")
	reset := r.URL.Query().Get("reset_violations") == "true"

	err := h.bans.Unban(r.Context(), scope, identifier, reset)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, admission.CodeValidation, err.Error())
		return
	case errors.Is(err, service.ErrBanNotFound):
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "not found", Message: "no active ban for identifier"})
		return
	case err != nil:
		h.dependencyError(w, "unban", err)
		return
	}

	h.logger.Info("Ban removed",
		zap.String("scope", scope),
		zap.String("identifier", identifier),
		zap.Bool("reset_violations", reset))
	writeJSON(w, http.StatusOK, successResponse(nil, "ban removed"))
}

func (h *AdminHandler) GetViolations(w http.ResponseWriter, r *http.Request) {
	status, err := h.bans.Violations(r.Context(), chi.URLParam(r, "device"))
	if err != nil {
		h.dependencyError(w, "violations", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(status, ""))
}

func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.republisher.Pending(r.Context(), listLimit(r))
	if err != nil {
		h.dependencyError(w, "list_pending", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(pending, ""))
}

func (h *AdminHandler) Republish(w http.ResponseWriter, r *http.Request) {
	result, err := h.republisher.Sweep(r.Context())
	if err != nil {
		h.dependencyError(w, "republish", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(result, ""))
}

func (h *AdminHandler) GetPayload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, admission.CodeValidation, "key query parameter is required")
		return
	}

	payload, err := h.ingestion.Payload(r.Context(), key)
	if err != nil {
		h.logger.Warn("Payload lookup failed", zap.String("storage_key", key), zap.Error(err))
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "not found", Message: "payload could not be read"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
