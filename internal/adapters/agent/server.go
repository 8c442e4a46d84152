package agent

import (
	"context"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/okian/windfarm/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultSmoothing = 0.5

// Server is a stand-in edge agent for local runs and tests. Its "model"
// reconstructs a window by exponential smoothing, so sudden spikes produce a
// large reconstruction error.
type Server struct {
	mu         sync.RWMutex
	models     map[string]string
	captures   int
	alpha      float64
	checkPaths bool
	logger     logger.Logger
	grpc       *grpc.Server
}

var _ AgentServer = (*Server)(nil)

// NewServer creates a stub agent with configuration options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		models: make(map[string]string),
		alpha:  defaultSmoothing,
		logger: logger.Get().Named("agent-stub"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.grpc = grpc.NewServer()
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info(context.Background(), "stub agent serving", logger.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop stops the server gracefully.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) LoadModel(ctx context.Context, req *LoadModelRequest) (*Empty, error) {
	if req.Name == "" || req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "name and path are required")
	}
	if s.checkPaths {
		if _, err := os.Stat(req.Path); err != nil {
			return nil, status.Errorf(codes.FailedPrecondition, "model path %s: %v", req.Path, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[req.Name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "model %s already loaded", req.Name)
	}
	s.models[req.Name] = req.Path
	s.logger.Info(ctx, "model loaded", logger.String("model", req.Name), logger.String("path", req.Path))
	return &Empty{}, nil
}

func (s *Server) UnloadModel(ctx context.Context, req *UnloadModelRequest) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[req.Name]; !ok {
		return nil, status.Errorf(codes.NotFound, "model %s not loaded", req.Name)
	}
	delete(s.models, req.Name)
	s.logger.Info(ctx, "model unloaded", logger.String("model", req.Name))
	return &Empty{}, nil
}

func (s *Server) ListModels(_ context.Context, _ *ListModelsRequest) (*ListModelsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := &ListModelsResponse{Models: make([]ModelInfo, 0, len(s.models))}
	for name, path := range s.models {
		resp.Models = append(resp.Models, ModelInfo{Name: name, Path: path})
	}
	sort.Slice(resp.Models, func(i, j int) bool { return resp.Models[i].Name < resp.Models[j].Name })
	return resp, nil
}

func (s *Server) Predict(_ context.Context, req *PredictRequest) (*PredictResponse, error) {
	s.mu.RLock()
	_, ok := s.models[req.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %s not loaded", req.Name)
	}
	if len(req.Tensor) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty tensor")
	}
	return &PredictResponse{Output: smooth(req.Tensor, s.alpha)}, nil
}

func (s *Server) CaptureData(_ context.Context, req *CaptureRequest) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[req.ModelName]; !ok {
		return nil, status.Errorf(codes.NotFound, "model %s not loaded", req.ModelName)
	}
	s.captures++
	return &Empty{}, nil
}

// Captures returns how many capture requests were accepted.
func (s *Server) Captures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captures
}

func smooth(in [][]float64, alpha float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, row := range in {
		out[i] = make([]float64, len(row))
		for c, v := range row {
			if i == 0 || c >= len(out[i-1]) {
				out[i][c] = v
				continue
			}
			out[i][c] = alpha*v + (1-alpha)*out[i-1][c]
		}
	}
	return out
}
