package alert

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/auth"
	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// Handler provides HTTP handlers for alert queries and actions
type Handler struct {
	store  Store
	engine *Engine
}

// NewHandler creates a new alert handler
func NewHandler(store Store, engine *Engine) *Handler {
	return &Handler{store: store, engine: engine}
}

// Routes registers the alert routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAlerts)
	r.Get("/{alertID}", h.GetAlert)
	r.Post("/{alertID}/acknowledge", h.AcknowledgeAlert)
	r.Post("/{alertID}/resolve", h.ResolveAlert)

	return r
}

// ListAlerts lists alerts with filters
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Limit: 50}

	if entity := r.URL.Query().Get("entity"); entity != "" {
		ref, err := types.ParseEntityRef(entity)
		if err != nil {
			writeError(w, errors.BadRequest("invalid entity reference"))
			return
		}
		filter.Entity = ref.Key()
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		filter.Severity = rules.Severity(severity)
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.State = State(state)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o > 0 {
			filter.Offset = o
		}
	}

	alerts, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  alerts,
		"total": total,
	})
}

// GetAlert gets an alert by ID, including its full action log
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid alert ID"))
		return
	}

	a, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// AcknowledgeAlert sets the acknowledged flag on an active alert
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid alert ID"))
		return
	}

	a, err := h.engine.Acknowledge(r.Context(), id, auth.ActorName(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ResolveRequest carries the optional resolution note
type ResolveRequest struct {
	Note string `json:"note"`
}

// ResolveAlert closes an active alert
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid alert ID"))
		return
	}

	var req ResolveRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // note is optional
	}

	a, err := h.engine.Resolve(r.Context(), id, auth.ActorName(r.Context()), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
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
