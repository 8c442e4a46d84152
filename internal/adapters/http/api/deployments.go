package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/ota"
)

// DeploymentDependencies accepts manual deployment notices and reports OTA
// progress.
type DeploymentDependencies interface {
	SubmitDeployment(ctx context.Context, n model.DeploymentNotice) error
	OTAState() ota.State
	OTAHistory() []ota.JobStatus
}

// DeploymentHandler serves the manual OTA trigger.
type DeploymentHandler struct {
	deps DeploymentDependencies
}

// NewDeploymentHandler creates a new deployment handler.
func NewDeploymentHandler(deps DeploymentDependencies) *DeploymentHandler {
	return &DeploymentHandler{deps: deps}
}

type ackResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

type otaResponse struct {
	State   ota.State       `json:"state"`
	History []ota.JobStatus `json:"history"`
}

// HandlePostDeployment handles POST /deployments. The notice is queued and
// processed asynchronously; progress is visible on GET /ota.
func (h *DeploymentHandler) HandlePostDeployment(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_deployment"
	var n model.DeploymentNotice
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SubmitDeployment(r.Context(), n); err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidNotice):
			writeError(w, http.StatusBadRequest, "bad_request", err)
		case errors.Is(err, ota.ErrBusy):
			writeError(w, http.StatusTooManyRequests, "backpressure", fmt.Errorf("%s: %w: %w", op, ErrBackpressure, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", JobID: n.JobID})
}

// HandleGetOTA handles GET /ota.
func (h *DeploymentHandler) HandleGetOTA(w http.ResponseWriter, _ *http.Request) {
	history := h.deps.OTAHistory()
	if history == nil {
		history = []ota.JobStatus{}
	}
	writeJSON(w, http.StatusOK, otaResponse{State: h.deps.OTAState(), History: history})
}
