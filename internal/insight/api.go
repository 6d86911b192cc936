package insight

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
)

// Handler provides the HTTP handler for on-demand insight generation
type Handler struct {
	gateway *Gateway
}

// NewHandler creates a new insight handler
func NewHandler(gateway *Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// Routes registers the insight routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.GenerateInsight)
	return r
}

// InsightRequest asks for narrative text about one entity
type InsightRequest struct {
	Query string `json:"query"`
	Scope string `json:"scope"` // entity key
}

// GenerateInsight returns cached or freshly generated narrative text
func (h *Handler) GenerateInsight(w http.ResponseWriter, r *http.Request) {
	var req InsightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.Query == "" {
		writeError(w, errors.BadRequest("query is required"))
		return
	}

	scope, err := types.ParseEntityRef(req.Scope)
	if err != nil {
		writeError(w, errors.BadRequest("invalid scope reference"))
		return
	}

	result, err := h.gateway.GetOrGenerate(r.Context(), req.Query, scope)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
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
