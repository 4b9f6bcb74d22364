// Package billing provides the plan catalog and the subscription state
// machine that applies payment-processor events to accounts.
package billing

import "pitchcraft/internal/types"

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// Limits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (Trial) limits
	// to fail safely.
	Limits(tier types.PlanTier) types.PlanLimits

	// Info returns the full catalog entry for the given tier, falling
	// back to the Trial entry for unknown tiers.
	Info(tier types.PlanTier) types.PlanInfo

	// All returns the catalog as a closed, ordered set (trial, pro, agency).
	All() []types.PlanInfo
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
// It implements PlanRegistry and is the standard implementation for production use.
type staticPlanRegistry struct {
	entries map[types.PlanTier]types.PlanInfo
	order   []types.PlanTier
}

// planDefaults defines the hardcoded plan catalog:
//
//	| Plan   | Messages/Period | Templates | Bulk |
//	|--------|-----------------|-----------|------|
//	| Trial  | 10              | No        | No   |
//	| Pro    | 500             | Yes       | No   |
//	| Agency | 2000            | Yes       | Yes  |
//
// The anonymous lifetime allowance is deliberately NOT part of this catalog;
// it lives in config and applies before any plan exists.
var planDefaults = []types.PlanInfo{
	{
		Tier:        types.PlanTrial,
		DisplayName: "Trial",
		Limits: types.PlanLimits{
			MonthlyMessages: 10,
			AllowTemplates:  false,
			AllowBulk:       false,
		},
	},
	{
		Tier:        types.PlanPro,
		DisplayName: "Pro",
		Limits: types.PlanLimits{
			MonthlyMessages: 500,
			AllowTemplates:  true,
			AllowBulk:       false,
		},
	},
	{
		Tier:        types.PlanAgency,
		DisplayName: "Agency",
		Limits: types.PlanLimits{
			MonthlyMessages: 2000,
			AllowTemplates:  true,
			AllowBulk:       true,
		},
	},
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// catalog. This is the standard production implementation; no database or
// external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	return newRegistry(planDefaults)
}

// NewPlanRegistry returns a PlanRegistry over a caller-provided catalog.
// Primarily used by tests that need custom quota numbers; the catalog must
// contain a Trial entry for the fail-closed fallback.
func NewPlanRegistry(entries []types.PlanInfo) PlanRegistry {
	return newRegistry(entries)
}

func newRegistry(entries []types.PlanInfo) *staticPlanRegistry {
	// Copy into fresh structures so callers cannot mutate the registry.
	r := &staticPlanRegistry{
		entries: make(map[types.PlanTier]types.PlanInfo, len(entries)),
		order:   make([]types.PlanTier, 0, len(entries)),
	}
	for _, e := range entries {
		r.entries[e.Tier] = e
		r.order = append(r.order, e.Tier)
	}
	return r
}

// Limits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the Trial tier limits as a safe default.
func (r *staticPlanRegistry) Limits(tier types.PlanTier) types.PlanLimits {
	return r.Info(tier).Limits
}

// Info returns the catalog entry for the given tier, falling back to Trial
// for unknown or empty tiers. An unknown plan identifier is never unlimited.
func (r *staticPlanRegistry) Info(tier types.PlanTier) types.PlanInfo {
	if e, ok := r.entries[tier]; ok {
		return e
	}
	return r.entries[types.PlanTrial]
}

// All returns the catalog entries in their declared order.
func (r *staticPlanRegistry) All() []types.PlanInfo {
	out := make([]types.PlanInfo, 0, len(r.order))
	for _, tier := range r.order {
		out = append(out, r.entries[tier])
	}
	return out
}
