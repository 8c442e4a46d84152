package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/simulator"
)

// TurbineDependencies exposes the simulated turbines.
type TurbineDependencies interface {
	TurbineStatus() []simulator.Status
	InjectFault(turbineID string, c model.Channel) (bool, error)
}

// TurbineHandler serves turbine status and fault injection.
type TurbineHandler struct {
	deps TurbineDependencies
}

// NewTurbineHandler creates a new turbine handler.
func NewTurbineHandler(deps TurbineDependencies) *TurbineHandler {
	return &TurbineHandler{deps: deps}
}

type faultResponse struct {
	TurbineID string        `json:"turbine_id"`
	Channel   model.Channel `json:"channel"`
	Active    bool          `json:"active"`
}

// HandleList handles GET /turbines.
func (h *TurbineHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.TurbineStatus())
}

// HandleGet handles GET /turbines/{id}.
func (h *TurbineHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, st := range h.deps.TurbineStatus() {
		if st.ID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("%w: turbine %s", ErrNotFound, id))
}

// HandleToggleFault handles POST /turbines/{id}/faults/{channel}. The fault
// flag of the channel is flipped and the new state returned.
func (h *TurbineHandler) HandleToggleFault(w http.ResponseWriter, r *http.Request) {
	const op = "api.toggle_fault"
	id := r.PathValue("id")
	c, err := model.ParseChannel(r.PathValue("channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	active, err := h.deps.InjectFault(id, c)
	if err != nil {
		if errors.Is(err, simulator.ErrUnknownTurbine) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, faultResponse{TurbineID: id, Channel: c, Active: active})
}
