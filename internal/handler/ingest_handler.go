package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/service"
)

// IngestHandler accepts telemetry batches. The ingestion-scoped admission
// stages (upload lock, validation, quota) run here, after the request-level
// stages in AdmissionMiddleware.
type IngestHandler struct {
	pipeline     *admission.Pipeline
	ingestion    *service.IngestionService
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewIngestHandler(pipeline *admission.Pipeline, ingestion *service.IngestionService, maxBodyBytes int64, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		pipeline:     pipeline,
		ingestion:    ingestion,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

func (h *IngestHandler) RegisterRoutes(router chi.Router) {
	router.Post("/telemetry", h.Ingest)
}

func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	req, ok := admission.RequestFrom(r.Context())
	if !ok {
		h.logger.Error("Ingestion reached without admission context")
		writeError(w, http.StatusInternalServerError, admission.CodeProcessing, "request was not admitted")
		return
	}

	req.Body, req.BodyErr = io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))

	if rej := h.pipeline.Run(r.Context(), req); rej != nil {
		writeRejection(w, rej)
		return
	}

	result, err := h.ingestion.Ingest(r.Context(), service.IngestRequest{
		RequestID: req.ID,
		DeviceID:  req.DeviceID,
		Scope:     req.Scope,
		Batch:     req.Batch,
		Raw:       req.Body,
	})
	if err != nil {
		writeRejection(w, admission.ProcessingError("failed to stage telemetry batch, it is safe to retry"))
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}
