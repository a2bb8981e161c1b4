package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/wonny/settle/internal/aggregate"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/pkg/logger"
)

// ComputeFunc runs one settlement against a named provider. The serve
// command supplies it so the handler stays decoupled from gateway
// construction.
type ComputeFunc func(ctx context.Context, provider string, params settlement.Params) (*settlement.Result, error)

// ComputeHandler triggers settlement computations over HTTP
type ComputeHandler struct {
	compute ComputeFunc
	logger  *logger.Logger
}

// NewComputeHandler creates a new compute handler
func NewComputeHandler(compute ComputeFunc, log *logger.Logger) *ComputeHandler {
	return &ComputeHandler{compute: compute, logger: log}
}

// ComputeRequest mirrors the engine's explicit parameter set
type ComputeRequest struct {
	Provider              string `json:"provider"`
	SourceID              string `json:"source_id"`
	ReferenceMs           int64  `json:"reference_ms"`
	OffsetMs              int64  `json:"offset_ms"`
	LengthMs              int64  `json:"length_ms"`
	StepMs                int64  `json:"step_ms"`
	FixedEndMs            int64  `json:"fixed_end_ms"`
	Method                string `json:"method"`
	RoundingRule          string `json:"rounding_rule"`
	MinorUnitScale        int64  `json:"minor_unit_scale"`
	MaxConsecutiveMissing int    `json:"max_consecutive_missing"`
	SettleDelayMs         int64  `json:"settle_delay_ms"`
	AllowEarly            bool   `json:"allow_early"`
}

// Compute runs one settlement synchronously
// POST /api/compute
func (h *ComputeHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Provider == "" || req.SourceID == "" {
		respondError(w, http.StatusBadRequest, "provider and source_id are required")
		return
	}

	result, err := h.compute(r.Context(), req.Provider, settlement.Params{
		SourceID:              req.SourceID,
		ReferenceMillis:       req.ReferenceMs,
		OffsetMillis:          req.OffsetMs,
		LengthMillis:          req.LengthMs,
		StepMillis:            req.StepMs,
		FixedEndMillis:        req.FixedEndMs,
		Method:                aggregate.Method(req.Method),
		RoundingRule:          aggregate.RoundingRule(req.RoundingRule),
		MinorUnitScale:        req.MinorUnitScale,
		MaxConsecutiveMissing: req.MaxConsecutiveMissing,
		SettleDelayMillis:     req.SettleDelayMs,
		AllowEarly:            req.AllowEarly,
	})
	if err != nil {
		kind := settlement.Classify(err)
		h.logger.WithError(err).WithField("kind", string(kind)).Warn("Computation failed")
		respondError(w, statusForKind(kind), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// statusForKind maps the error taxonomy onto HTTP statuses
func statusForKind(kind settlement.Kind) int {
	switch kind {
	case settlement.KindConfigMismatch:
		return http.StatusBadRequest
	case settlement.KindUnfillableGap:
		// Not yet answerable; the client may retry later
		return http.StatusConflict
	case settlement.KindSourceUnavailable:
		return http.StatusBadGateway
	case settlement.KindCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
