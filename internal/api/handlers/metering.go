package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pitchcraft/internal/core"
	"pitchcraft/internal/types"
)

// --- Service interfaces ---

// EntitlementChecker answers the read-only "may this caller generate"
// question. *metering.Evaluator satisfies this interface.
type EntitlementChecker interface {
	Check(ctx context.Context, caller types.CallerIdentity) (types.Entitlement, error)
}

// QuotaCommitter consumes quota units. *metering.Orchestrator satisfies this
// interface.
type QuotaCommitter interface {
	Commit(ctx context.Context, caller types.CallerIdentity, artifact *types.Artifact) (types.UsageReceipt, error)
}

// --- Handler ---

// MeteringHandler exposes the entitlement check and the raw usage-recording
// operation.
type MeteringHandler struct {
	checker   EntitlementChecker
	committer QuotaCommitter
	logger    *slog.Logger
}

// NewMeteringHandler creates a MeteringHandler with the provided dependencies.
func NewMeteringHandler(checker EntitlementChecker, committer QuotaCommitter, logger *slog.Logger) *MeteringHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeteringHandler{
		checker:   checker,
		committer: committer,
		logger:    logger,
	}
}

// RegisterRoutes mounts the metering routes onto the provided router.
func (h *MeteringHandler) RegisterRoutes(r chi.Router) {
	r.Get("/entitlement", h.HandleEntitlement)
	r.Post("/usage", h.HandleRecordUsage)
}

// HandleEntitlement processes GET /v1/entitlement.
//
// The response is advisory: a subsequent consume can still lose a race and be
// denied. It is side-effect free and safe to poll from a UI.
func (h *MeteringHandler) HandleEntitlement(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ent, err := h.checker.Check(r.Context(), caller)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ent})
}

// HandleRecordUsage processes POST /v1/usage.
//
// It consumes exactly one unit for the caller without recording an artifact,
// for clients that run generation through their own channel. A caller at
// quota receives the same denial as the generation endpoint.
func (h *MeteringHandler) HandleRecordUsage(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	receipt, err := h.committer.Commit(r.Context(), caller, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: receipt})
}
