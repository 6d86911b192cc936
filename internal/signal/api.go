package signal

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/metrics"
	"github.com/clinsight/platform/internal/shared/types"
)

// Handler provides HTTP handlers for signal ingestion and snapshots
type Handler struct {
	repo Repository
	log  zerolog.Logger
}

// NewHandler creates a new signal handler
func NewHandler(repo Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("component", "signal").Logger(),
	}
}

// Routes registers the signal routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/records", h.IngestRecords)
	r.Get("/snapshot", h.GetSnapshot)

	return r
}

// IngestRequest is one ingestion batch from an extract loader
type IngestRequest struct {
	Records []Record `json:"records"`
}

// IngestRecords accepts a batch of extract rows and upserts them by natural
// key. Re-posting the same batch is a no-op on stored state.
func (h *Handler) IngestRecords(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if len(req.Records) == 0 {
		writeError(w, errors.BadRequest("records must not be empty"))
		return
	}

	for i, rec := range req.Records {
		if problems := rec.Validate(); problems != nil {
			problems["index"] = strconv.Itoa(i)
			writeError(w, errors.InvalidSignalData(rec.Entity().Key(), problems))
			return
		}
	}

	result, err := h.repo.UpsertRecords(r.Context(), req.Records)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordUpsert("inserted", result.Inserted)
	metrics.RecordUpsert("updated", result.Updated)
	h.log.Info().
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Msg("signal batch ingested")

	writeJSON(w, http.StatusOK, result)
}

// GetSnapshot returns the derived snapshot for one entity
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
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

	snap, err := h.repo.Snapshot(r.Context(), ref, asOf)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
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
