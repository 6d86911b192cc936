package evaluation

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinsight/platform/internal/shared/errors"
)

// Handler exposes manual tick triggering for operations
type Handler struct {
	service *Service
}

// NewHandler creates a new evaluation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the evaluation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/run", h.RunTick)
	return r
}

// RunTick runs one evaluation pass immediately and returns its report
func (h *Handler) RunTick(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunTick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
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
