package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/service"
)

// JSONCodecName is the content subtype clients must request.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type RunAllocationRequest struct {
	RequestID        string `json:"request_id"`
	AllocationMethod string `json:"allocation_method"`
}

type RunAllocationResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Run     *RunDTO `json:"run,omitempty"`
}

type ListAllocationResultsRequest struct {
	OrderID          string `json:"order_id"`
	ItemCode         string `json:"item_code"`
	LotID            string `json:"lot_id"`
	RunID            string `json:"run_id"`
	AllocationMethod string `json:"allocation_method"`
	Limit            int    `json:"limit"`
}

type ListAllocationResultsResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Results []ResultDTO `json:"results"`
}

type AllocationServiceServer interface {
	RunAllocation(ctx context.Context, req *RunAllocationRequest) (*RunAllocationResponse, error)
	ListAllocationResults(ctx context.Context, req *ListAllocationResultsRequest) (*ListAllocationResultsResponse, error)
}

const (
	runAllocationMethod         = "/allocation.v1.AllocationService/RunAllocation"
	listAllocationResultsMethod = "/allocation.v1.AllocationService/ListAllocationResults"
)

var AllocationServiceDesc = grpc.ServiceDesc{
	ServiceName: "allocation.v1.AllocationService",
	HandlerType: (*AllocationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunAllocation", Handler: runAllocationHandler},
		{MethodName: "ListAllocationResults", Handler: listAllocationResultsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "allocation/v1/allocation.proto",
}

func RegisterAllocationServiceServer(s grpc.ServiceRegistrar, srv AllocationServiceServer) {
	s.RegisterService(&AllocationServiceDesc, srv)
}

func runAllocationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunAllocationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AllocationServiceServer).RunAllocation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runAllocationMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AllocationServiceServer).RunAllocation(ctx, req.(*RunAllocationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listAllocationResultsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListAllocationResultsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AllocationServiceServer).ListAllocationResults(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listAllocationResultsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AllocationServiceServer).ListAllocationResults(ctx, req.(*ListAllocationResultsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AllocationClient calls AllocationService with the JSON codec.
type AllocationClient struct {
	cc grpc.ClientConnInterface
}

func NewAllocationClient(cc grpc.ClientConnInterface) *AllocationClient {
	return &AllocationClient{cc: cc}
}

func (c *AllocationClient) RunAllocation(ctx context.Context, req *RunAllocationRequest, opts ...grpc.CallOption) (*RunAllocationResponse, error) {
	out := new(RunAllocationResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, runAllocationMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocationClient) ListAllocationResults(ctx context.Context, req *ListAllocationResultsRequest, opts ...grpc.CallOption) (*ListAllocationResultsResponse, error) {
	out := new(ListAllocationResultsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, listAllocationResultsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	allocation *service.AllocationService
	report     *service.ReportService
	log        *zap.Logger
}

var _ AllocationServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(allocation *service.AllocationService, report *service.ReportService, log *zap.Logger) *GRPCHandler {
	return &GRPCHandler{allocation: allocation, report: report, log: log}
}

func (h *GRPCHandler) RunAllocation(ctx context.Context, req *RunAllocationRequest) (*RunAllocationResponse, error) {
	method, err := domain.ParseMethod(req.AllocationMethod)
	if err != nil {
		return &RunAllocationResponse{Success: false, Message: "unknown allocation method"}, nil
	}

	plan, err := h.allocation.Allocate(ctx, req.RequestID, method)
	if err != nil {
		return &RunAllocationResponse{Success: false, Message: h.failure(err)}, nil
	}

	run := toPlanDTO(plan)
	return &RunAllocationResponse{
		Success: true,
		Message: planMessage(plan),
		Run:     &run,
	}, nil
}

func (h *GRPCHandler) ListAllocationResults(ctx context.Context, req *ListAllocationResultsRequest) (*ListAllocationResultsResponse, error) {
	filter := domain.ResultFilter{
		OrderID:  req.OrderID,
		ItemCode: req.ItemCode,
		LotID:    req.LotID,
		RunID:    req.RunID,
		Limit:    req.Limit,
	}
	if req.AllocationMethod != "" {
		method, err := domain.ParseMethod(req.AllocationMethod)
		if err != nil {
			return &ListAllocationResultsResponse{Success: false, Message: "unknown allocation method"}, nil
		}
		filter.Method = method
	}

	results, err := h.report.ListResults(ctx, filter)
	if err != nil {
		return &ListAllocationResultsResponse{Success: false, Message: h.failure(err)}, nil
	}
	return &ListAllocationResultsResponse{Success: true, Results: mapSlice(results, toResultDTO)}, nil
}

func (h *GRPCHandler) failure(err error) string {
	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		return "duplicate request"
	case errors.Is(err, service.ErrConflict):
		return "allocation conflict, retry"
	case errors.Is(err, domain.ErrInvalidState):
		return "inventory state is inconsistent"
	case errors.Is(err, domain.ErrInvalidArgument):
		return err.Error()
	default:
		h.log.Error("grpc request failed", zap.Error(err))
		return "internal error"
	}
}
