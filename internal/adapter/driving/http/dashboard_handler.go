package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/pacphi/ampel-sub003/internal/application/aggregation"
)

// DashboardHandler implements the read-model endpoints.
type DashboardHandler struct {
	agg    *aggregation.Aggregator
	logger *slog.Logger
}

func NewDashboardHandler(agg *aggregation.Aggregator, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{agg: agg, logger: logger}
}

// Summary returns the cache-trusting roll-up. Pass ?recompute=true to use
// the correctness cross-check path instead.
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	if r.URL.Query().Get("recompute") == "true" {
		s, err := h.agg.SummaryRecomputed(r.Context(), userID)
		writeSummaryOrError(w, h.logger, s, err)
		return
	}

	s, err := h.agg.Summary(r.Context(), userID)
	writeSummaryOrError(w, h.logger, s, err)
}

func writeSummaryOrError(w http.ResponseWriter, logger *slog.Logger, s aggregation.Summary, err error) {
	if err != nil {
		logger.Error("compute dashboard summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, toSummaryResponse(s))
}

func (h *DashboardHandler) Grid(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	rows, err := h.agg.Grid(r.Context(), userID)
	if err != nil {
		h.logger.Error("compute dashboard grid failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]gridRowResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, toGridRowResponse(row))
	}
	writeData(w, http.StatusOK, resp)
}
