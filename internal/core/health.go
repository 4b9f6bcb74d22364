package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout is the maximum time allowed for the storage probe.
const healthCheckTimeout = 2 * time.Second

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// HandleHealth reports process and storage health. It returns 200 with status
// "ok" when the durable backend is serving, and 200 with status "degraded"
// when storage has failed over to the in-memory backend: the service is still
// answering requests, but usage counters and new artifacts are volatile.
// A failing probe on a non-degraded store returns 503.
//
// This endpoint is public and is mounted at GET /healthz.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Storage == nil {
		JSON(w, r, http.StatusOK, healthResponse{Status: "ok", Storage: "none"})
		return
	}

	if s.Storage.Degraded() {
		JSON(w, r, http.StatusOK, healthResponse{Status: "degraded", Storage: "memory"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.Storage.Ping(ctx); err != nil {
		s.Logger.Error("health probe failed", "error", err)
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Storage: "durable"})
		return
	}

	// The ping itself may have tripped the failover, in which case it was
	// answered by the fallback. Re-check so the flip is visible on the
	// request that caused it.
	if s.Storage.Degraded() {
		JSON(w, r, http.StatusOK, healthResponse{Status: "degraded", Storage: "memory"})
		return
	}

	JSON(w, r, http.StatusOK, healthResponse{Status: "ok", Storage: "durable"})
}
