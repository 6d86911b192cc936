package dqi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/metrics"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

// Handler provides HTTP handlers for score queries
type Handler struct {
	signals signal.Repository
	history History
	log     zerolog.Logger
}

// NewHandler creates a new score query handler
func NewHandler(signals signal.Repository, history History, log zerolog.Logger) *Handler {
	return &Handler{
		signals: signals,
		history: history,
		log:     log.With().Str("component", "dqi").Logger(),
	}
}

// Routes registers the score routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/score", h.GetScore)
	r.Get("/trend", h.GetTrend)
	r.Get("/studies/{studyID}/overview", h.GetStudyOverview)

	return r
}

// GetScore computes the entity's current score from live signals. With as_of
// it scores the snapshot as of that instant instead; either way the stored
// history is untouched, recording happens only on evaluation ticks.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ref, err := types.ParseEntityRef(r.URL.Query().Get("entity"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid entity reference"))
		return
	}

	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, errors.BadRequest("invalid as_of timestamp"))
			return
		}
		asOf = t
	}

	snap, err := h.signals.Snapshot(r.Context(), ref, asOf)
	if err != nil {
		writeError(w, err)
		return
	}

	score, err := Compute(snap)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordScoreComputed(string(ref.Level), string(score.Category))
	writeJSON(w, http.StatusOK, score)
}

// GetTrend returns the recorded score history for an entity, oldest first
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	ref, err := types.ParseEntityRef(r.URL.Query().Get("entity"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid entity reference"))
		return
	}

	window := 30 * 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, errors.BadRequest("invalid window duration"))
			return
		}
		window = d
	}

	trend, err := h.history.Trend(r.Context(), ref, window)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity": ref,
		"window": window.String(),
		"scores": trend,
		"deltas": TrendDelta(trend),
	})
}

// StudyOverview is the latest recorded score per site plus study aggregates
type StudyOverview struct {
	StudyID  string           `json:"study_id"`
	Sites    []Score          `json:"sites"`
	Average  float64          `json:"average"`
	ByLevel  map[Category]int `json:"by_category"`
	Total    int              `json:"total_sites"`
	Reported time.Time        `json:"reported_at"`
}

// GetStudyOverview rolls the latest site scores up to study level
func (h *Handler) GetStudyOverview(w http.ResponseWriter, r *http.Request) {
	studyID := chi.URLParam(r, "studyID")
	if studyID == "" {
		writeError(w, errors.BadRequest("study ID is required"))
		return
	}

	sites, err := h.history.LatestByStudy(r.Context(), studyID)
	if err != nil {
		writeError(w, err)
		return
	}

	overview := StudyOverview{
		StudyID:  studyID,
		Sites:    sites,
		ByLevel:  make(map[Category]int),
		Total:    len(sites),
		Reported: time.Now().UTC(),
	}

	if len(sites) > 0 {
		var sum float64
		for _, s := range sites {
			sum += s.Composite
			overview.ByLevel[s.Category]++
		}
		overview.Average = round2(sum / float64(len(sites)))
	}

	writeJSON(w, http.StatusOK, overview)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
