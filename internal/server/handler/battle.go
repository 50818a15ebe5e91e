package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// BattleRunner is the part of the scanner the HTTP surface drives.
type BattleRunner interface {
	Scan(ctx context.Context) (domain.ScanResult, error)
	Execute(ctx context.Context, assetID string) domain.ExecuteResult
	Quarantined() []string
}

// BattleHandler serves the pipeline endpoints.
type BattleHandler struct {
	runner BattleRunner
	logger *slog.Logger
}

// NewBattleHandler creates a BattleHandler.
func NewBattleHandler(runner BattleRunner, logger *slog.Logger) *BattleHandler {
	return &BattleHandler{
		runner: runner,
		logger: logger.With(slog.String("handler", "battle")),
	}
}

// Execute runs the pipeline for one asset. The body is always the
// ExecuteResult; the status code reflects its error kind.
// POST /api/battles/{assetId}/execute
func (h *BattleHandler) Execute(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "assetId")
	if assetID == "" {
		writeError(w, http.StatusBadRequest, "asset id is required")
		return
	}

	clearWriteDeadline(w)
	// A client disconnect must not abandon a run that may have submitted.
	res := h.runner.Execute(context.WithoutCancel(r.Context()), assetID)

	h.logger.InfoContext(r.Context(), "execute requested",
		slog.String("asset", assetID),
		slog.String("run", res.RunID),
		slog.Bool("success", res.Success),
		slog.String("final_status", res.FinalStatus.String()),
	)
	writeJSON(w, executeStatus(res), res)
}

// Scan runs one scanner pass.
// POST /api/battles/scan
func (h *BattleHandler) Scan(w http.ResponseWriter, r *http.Request) {
	// A pass executes assets one after another, so it can outlast any
	// fixed write timeout.
	clearWriteDeadline(w)
	res, err := h.runner.Scan(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "scan failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "scan failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Quarantined lists assets the scanner is holding back.
// GET /api/battles/quarantined
func (h *BattleHandler) Quarantined(w http.ResponseWriter, _ *http.Request) {
	ids := h.runner.Quarantined()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(ids),
		"assets": ids,
	})
}

func executeStatus(res domain.ExecuteResult) int {
	if res.Success {
		return http.StatusOK
	}
	if res.Err != nil && errors.Is(res.Err, domain.ErrInvalidAsset) {
		return http.StatusBadRequest
	}
	switch res.ErrorKind {
	case domain.KindBusy:
		return http.StatusConflict
	case domain.KindPrecondition:
		return http.StatusUnprocessableEntity
	case domain.KindTransient, domain.KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
