package agent

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const serviceName = "edge.agent.v1.Agent"

// Full method names.
const (
	MethodLoadModel   = "/" + serviceName + "/LoadModel"
	MethodUnloadModel = "/" + serviceName + "/UnloadModel"
	MethodListModels  = "/" + serviceName + "/ListModels"
	MethodPredict     = "/" + serviceName + "/Predict"
	MethodCaptureData = "/" + serviceName + "/CaptureData"
)

type LoadModelRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type UnloadModelRequest struct {
	Name string `json:"name"`
}

type ListModelsRequest struct{}

// ModelInfo describes one model loaded in the agent.
type ModelInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// PredictRequest carries one window, rows x channels.
type PredictRequest struct {
	Name   string      `json:"name"`
	Tensor [][]float64 `json:"tensor"`
}

type PredictResponse struct {
	Output [][]float64 `json:"output"`
}

// CaptureRequest asks the agent to retain one inference for later upload.
type CaptureRequest struct {
	ModelName string      `json:"model_name"`
	CaptureID string      `json:"capture_id"`
	TS        time.Time   `json:"ts"`
	Inputs    [][]float64 `json:"inputs"`
	Outputs   [][]float64 `json:"outputs"`
}

type Empty struct{}

// AgentServer is the service implemented by an edge agent.
type AgentServer interface {
	LoadModel(ctx context.Context, req *LoadModelRequest) (*Empty, error)
	UnloadModel(ctx context.Context, req *UnloadModelRequest) (*Empty, error)
	ListModels(ctx context.Context, req *ListModelsRequest) (*ListModelsResponse, error)
	Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error)
	CaptureData(ctx context.Context, req *CaptureRequest) (*Empty, error)
}

// ServiceDesc describes the agent service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{ //nolint:gochecknoglobals // service descriptors are static
	ServiceName: serviceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("LoadModel", AgentServer.LoadModel),
		unary("UnloadModel", AgentServer.UnloadModel),
		unary("ListModels", AgentServer.ListModels),
		unary("Predict", AgentServer.Predict),
		unary("CaptureData", AgentServer.CaptureData),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agent.json",
}

func unary[Req, Resp any](name string, call func(AgentServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AgentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AgentServer), ctx, req.(*Req))
			})
		},
	}
}
