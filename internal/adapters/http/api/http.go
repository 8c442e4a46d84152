// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	TurbineDependencies
	ModelDependencies
	DeploymentDependencies
	StatsProvider
}

// Server wires HTTP routes for the wind-farm API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	turbineHandler    *TurbineHandler
	modelHandler      *ModelHandler
	deploymentHandler *DeploymentHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		turbineHandler:    NewTurbineHandler(deps),
		modelHandler:      NewModelHandler(deps),
		deploymentHandler: NewDeploymentHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /turbines", MetricsMiddleware(s.turbineHandler.HandleList, "turbines"))
	mux.HandleFunc("GET /turbines/{id}", MetricsMiddleware(s.turbineHandler.HandleGet, "turbine"))
	mux.HandleFunc("POST /turbines/{id}/faults/{channel}", MetricsMiddleware(s.turbineHandler.HandleToggleFault, "fault"))
	mux.HandleFunc("GET /model", MetricsMiddleware(s.modelHandler.HandleGetModel, "model"))
	mux.HandleFunc("POST /deployments", MetricsMiddleware(s.deploymentHandler.HandlePostDeployment, "deployments"))
	mux.HandleFunc("GET /ota", MetricsMiddleware(s.deploymentHandler.HandleGetOTA, "ota"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
