package api

import (
	"net/http"

	"github.com/okian/windfarm/internal/domain/model"
)

// ModelDependencies exposes the model currently serving inference.
type ModelDependencies interface {
	ActiveModel() model.ModelHandle
}

// ModelHandler serves the active model.
type ModelHandler struct {
	deps ModelDependencies
}

// NewModelHandler creates a new model handler.
func NewModelHandler(deps ModelDependencies) *ModelHandler {
	return &ModelHandler{deps: deps}
}

// HandleGetModel handles GET /model.
func (h *ModelHandler) HandleGetModel(w http.ResponseWriter, _ *http.Request) {
	active := h.deps.ActiveModel()
	if active.IsZero() {
		writeError(w, http.StatusNotFound, "no_model", ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, active)
}
