package proto

import (
	"context"

	iface "FloorAuditServer/interface"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

type AnalyzeRequest struct {
	// Pages holds encoded page images (PNG or JPEG).
	Pages          [][]byte `json:"pages"`
	FileName       string   `json:"fileName,omitempty"`
	ModelSet       string   `json:"modelSet,omitempty"`
	BuildingType   string   `json:"buildingType,omitempty"`
	PixelsPerMeter float64  `json:"pixelsPerMeter,omitempty"`
	WithReport     bool     `json:"withReport,omitempty"`
}

type AnalyzeResponse struct {
	Success  bool                  `json:"success"`
	Id       string                `json:"id"`
	State    string                `json:"state"`
	Message  string                `json:"message,omitempty"`
	Result   *iface.AnalysisResult `json:"result,omitempty"`
	ReportId string                `json:"reportId,omitempty"`
	Report   string                `json:"report,omitempty"`
}

type CheckEngineRequest struct {
	Id string `json:"id"`
}

type EngineInfo struct {
	Id         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	ModelPath  string   `json:"modelPath"`
	Names      []string `json:"names"`
	Confidence float32  `json:"confidence"`
	State      string   `json:"state"`
	ModelSets  []string `json:"modelSets"`
}

type CheckEngineResponse struct {
	Success    bool        `json:"success"`
	EngineInfo *EngineInfo `json:"engineInfo"`
	Message    string      `json:"message"`
}

type CheckAllEngineResponse struct {
	Success bool          `json:"success"`
	Engines []*EngineInfo `json:"engines"`
	Message string        `json:"message"`
}

type AuditServiceServer interface {
	Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error)
	CheckEngine(context.Context, *CheckEngineRequest) (*CheckEngineResponse, error)
	CheckAllEngine(context.Context, *emptypb.Empty) (*CheckAllEngineResponse, error)
	ResetEngine(context.Context, *CheckEngineRequest) (*CheckEngineResponse, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func RegisterAuditServiceServer(s grpc.ServiceRegistrar, srv AuditServiceServer) {
	s.RegisterService(&AuditService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(AuditServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuditServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/audit.AuditService/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuditServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var AuditService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "audit.AuditService",
	HandlerType: (*AuditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: unaryHandler("Analyze", AuditServiceServer.Analyze)},
		{MethodName: "CheckEngine", Handler: unaryHandler("CheckEngine", AuditServiceServer.CheckEngine)},
		{MethodName: "CheckAllEngine", Handler: unaryHandler("CheckAllEngine", AuditServiceServer.CheckAllEngine)},
		{MethodName: "ResetEngine", Handler: unaryHandler("ResetEngine", AuditServiceServer.ResetEngine)},
		{MethodName: "Shutdown", Handler: unaryHandler("Shutdown", AuditServiceServer.Shutdown)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "audit.proto",
}

type AuditServiceClient interface {
	Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error)
	CheckEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error)
	CheckAllEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEngineResponse, error)
	ResetEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type auditServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuditServiceClient(cc grpc.ClientConnInterface) AuditServiceClient {
	return &auditServiceClient{cc}
}

func (c *auditServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/audit.AuditService/"+method, in, out, opts...)
}

func (c *auditServiceClient) Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error) {
	out := new(AnalyzeResponse)
	if err := c.invoke(ctx, "Analyze", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *auditServiceClient) CheckEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error) {
	out := new(CheckEngineResponse)
	if err := c.invoke(ctx, "CheckEngine", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *auditServiceClient) CheckAllEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEngineResponse, error) {
	out := new(CheckAllEngineResponse)
	if err := c.invoke(ctx, "CheckAllEngine", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *auditServiceClient) ResetEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error) {
	out := new(CheckEngineResponse)
	if err := c.invoke(ctx, "ResetEngine", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *auditServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.invoke(ctx, "Shutdown", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
