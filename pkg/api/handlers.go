package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/goran-ethernal/evmindex/internal/dictionary"
	"github.com/goran-ethernal/evmindex/internal/logger"
)

// FetchStatusProvider is the subset of fetchsvc.Service the status handler
// reads, kept as an interface so tests can substitute a fake.
type FetchStatusProvider interface {
	State() string
	NextHeight() uint64
	FinalizedHeight() uint64
}

// DispatcherStatusProvider is the subset of dispatcher.Dispatcher the status
// handler reads.
type DispatcherStatusProvider interface {
	FreeSize() int
}

// DictionaryStatusProvider is the subset of dictionary.Dictionary the status
// handler reads to report acceleration health. May be nil when dictionary
// acceleration is disabled.
type DictionaryStatusProvider interface {
	InitMetadata(ctx context.Context) (*dictionary.Metadata, error)
	Version() int
}

// Handler serves the operator status and health endpoints.
type Handler struct {
	fetch      FetchStatusProvider
	dispatcher DispatcherStatusProvider
	dict       DictionaryStatusProvider
	log        *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(fetch FetchStatusProvider, dispatcher DispatcherStatusProvider, dict DictionaryStatusProvider, log *logger.Logger) *Handler {
	return &Handler{
		fetch:      fetch,
		dispatcher: dispatcher,
		dict:       dict,
		log:        log,
	}
}

// Status reports the fetch service's progress and the dictionary
// acceleration client's health.
// @Summary Fetch service status
// @Description Reports the fetch service's current state, cursor, and dictionary health
// @Tags Status
// @Produce json
// @Success 200 {object} StatusResponse "Current status"
// @Router /status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:           h.fetch.State(),
		NextHeight:      h.fetch.NextHeight(),
		FinalizedHeight: h.fetch.FinalizedHeight(),
		DispatcherFree:  h.dispatcher.FreeSize(),
		Timestamp:       time.Now(),
	}

	if h.dict != nil {
		_, err := h.dict.InitMetadata(r.Context())
		resp.DictionaryHealthy = err == nil
		resp.DictionaryVersion = h.dict.Version()
	}

	respondJSON(w, http.StatusOK, resp)
}

// Healthz is a liveness probe: it reports healthy as long as the process is
// serving requests, regardless of fetch progress.
// @Summary Liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Always healthy if reachable"
// @Router /healthz [get]
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}
