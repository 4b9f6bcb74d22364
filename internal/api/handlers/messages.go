package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pitchcraft/internal/core"
	"pitchcraft/internal/external"
	"pitchcraft/internal/types"
)

// Pagination bounds for artifact listing.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// --- DTOs ---

// GenerateRequest is the request body for POST /v1/messages.
type GenerateRequest struct {
	ProfileText string `json:"profile_text" validate:"required,max=5000"`
	Tone        string `json:"tone" validate:"omitempty,max=40"`
}

// GenerateResponse carries the generated message together with the usage
// state after the unit was consumed.
type GenerateResponse struct {
	Message *types.Artifact    `json:"message"`
	Usage   types.UsageReceipt `json:"usage"`
}

// ListMessagesResponse is the response body for GET /v1/messages.
type ListMessagesResponse struct {
	Messages []*types.Artifact `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// --- Service interfaces ---

// QuotaOrchestrator sequences entitlement, generation, and consumption.
// *metering.Orchestrator satisfies this interface.
type QuotaOrchestrator interface {
	Authorize(ctx context.Context, caller types.CallerIdentity) (types.Entitlement, error)
	Commit(ctx context.Context, caller types.CallerIdentity, artifact *types.Artifact) (types.UsageReceipt, error)
}

// MessageGenerator produces an outreach message from profile text.
// *external.CompletionClient satisfies this interface.
type MessageGenerator interface {
	Generate(ctx context.Context, req external.GenerationRequest) (*external.GeneratedMessage, error)
}

// ArtifactLister reads back stored artifacts for a caller.
type ArtifactLister interface {
	ListArtifacts(ctx context.Context, caller types.CallerIdentity, limit, offset int) ([]*types.Artifact, error)
}

// --- Handler ---

// MessagesHandler implements the end-to-end generation flow and artifact
// history listing.
type MessagesHandler struct {
	quota     QuotaOrchestrator
	generator MessageGenerator
	artifacts ArtifactLister
	logger    *slog.Logger
	validator *core.Validator
}

// NewMessagesHandler creates a MessagesHandler with the provided dependencies.
func NewMessagesHandler(
	quota QuotaOrchestrator,
	generator MessageGenerator,
	artifacts ArtifactLister,
	logger *slog.Logger,
	v *core.Validator,
) *MessagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagesHandler{
		quota:     quota,
		generator: generator,
		artifacts: artifacts,
		logger:    logger,
		validator: v,
	}
}

// RegisterRoutes mounts the message routes onto the provided router.
func (h *MessagesHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.HandleGenerate)
	r.Get("/messages", h.HandleList)
}

// HandleGenerate processes POST /v1/messages.
//
// Flow: pre-flight authorization, external generation, then an atomic
// consume+record commit. A failed generation consumes nothing. A caller who
// loses the race for the final unit between authorize and commit receives
// the same denial the pre-flight would have produced.
func (h *MessagesHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req GenerateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if _, err := h.quota.Authorize(r.Context(), caller); err != nil {
		core.Error(w, r, err)
		return
	}

	generated, err := h.generator.Generate(r.Context(), external.GenerationRequest{
		ProfileText: req.ProfileText,
		Tone:        req.Tone,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	artifact := &types.Artifact{
		Text:  generated.Text,
		Score: generated.Score,
		Model: generated.Model,
	}
	receipt, err := h.quota.Commit(r.Context(), caller, artifact)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "message generated",
		slog.String("artifact_id", artifact.ID),
		slog.String("caller", caller.Key()),
		slog.Int("used", receipt.Used),
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: GenerateResponse{
		Message: artifact,
		Usage:   receipt,
	}})
}

// HandleList processes GET /v1/messages, returning the caller's artifacts
// newest first.
func (h *MessagesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	artifacts, err := h.artifacts.ListArtifacts(r.Context(), caller, limit, offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if artifacts == nil {
		artifacts = []*types.Artifact{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ListMessagesResponse{
		Messages: artifacts,
		Limit:    limit,
		Offset:   offset,
	}})
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
