// Package ops serves the node's operational HTTP surface: health,
// Prometheus metrics and raw state reads.
package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockberries/registry/client"
)

// Handler wires ops endpoints to an oracle.
type Handler struct {
	oracle client.Oracle
	log    *slog.Logger
}

// New constructs an ops handler.
func New(o client.Oracle, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{oracle: o, log: log}
}

// Router returns a chi router with every ops endpoint mounted and
// metrics gathered from g.
func (h *Handler) Router(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	h.Register(r)
	return r
}

// Register mounts the health and state endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/v1/status", h.HandleStatus)
	r.Get("/v1/state/*", h.HandleState)
}

type statusResponse struct {
	Height      uint64 `json:"height"`
	AppHash     string `json:"app_hash"`
	GenesisHash string `json:"genesis_hash"`
	BlockHash   string `json:"block_hash"`
}

// HandleHealth reports 200 once the node serves its chain tip.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.oracle.Status(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// HandleStatus handles GET /v1/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.oracle.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h.log, statusResponse{
		Height:      st.Height,
		AppHash:     st.AppHash.String(),
		GenesisHash: st.GenesisHash.String(),
		BlockHash:   st.BlockHash.String(),
	})
}

// HandleState handles GET /v1/state/{key}. The body is the committed
// value in its cramberry encoding.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "missing state key", http.StatusBadRequest)
		return
	}
	value, found, err := h.oracle.Query(r.Context(), key)
	if err != nil {
		h.log.ErrorContext(r.Context(), "state query failed", "key", key, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response", "error", err)
	}
}
