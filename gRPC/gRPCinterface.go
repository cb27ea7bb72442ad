package proto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"sync"
	"time"

	"FloorAuditServer/api"
	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"
	"FloorAuditServer/monitor"
	"FloorAuditServer/report"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

type Server struct {
	svc     *api.Service
	metrics *monitor.Metrics

	closeOnce    sync.Once
	CloseChannel chan struct{}
}

func NewServer(svc *api.Service, metrics *monitor.Metrics) *Server {
	return &Server{
		svc:          svc,
		metrics:      metrics,
		CloseChannel: make(chan struct{}),
	}
}

// Byte64ToImage decodes one encoded page.
func Byte64ToImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("decoded image is empty or unsupported format")
	}
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func (s *Server) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues("grpc").Inc()
	}
	pages := make([]image.Image, 0, len(req.Pages))
	for i, data := range req.Pages {
		img, err := Byte64ToImage(data)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "page %d: %v", i+1, err)
		}
		pages = append(pages, img)
	}
	bt, err := iface.ParseBuildingType(req.BuildingType)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	job, err := s.svc.Run(ctx, api.Submission{
		Pages:          pages,
		FileName:       req.FileName,
		ModelSet:       req.ModelSet,
		BuildingType:   bt,
		PixelsPerMeter: req.PixelsPerMeter,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	v := job.View()
	resp := &AnalyzeResponse{
		Success: v.State == api.JobSucceeded,
		Id:      v.ID,
		State:   string(v.State),
		Message: v.Error,
		Result:  v.Result,
	}
	if v.Result != nil {
		resp.ReportId = report.ID(*v.Result)
		if req.WithReport {
			meta := report.Meta{BuildingType: v.BuildingType, ModelSet: v.ModelSet, Pages: v.Pages}
			if v.FinishedAt != nil {
				meta.GeneratedAt = *v.FinishedAt
			}
			resp.Report = report.Text(*v.Result, meta)
		}
	}
	return resp, nil
}

func toStatus(err error) error {
	var inputErr *api.InputError
	switch {
	case errors.As(err, &inputErr), errors.Is(err, api.ErrUnknownModelSet):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, api.ErrServiceClosed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func engineNames(cfg iface.EngineConfig) []string {
	switch v := cfg.Names.Data.(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, n := range v {
			names = append(names, fmt.Sprint(n))
		}
		return names
	case string:
		return []string{"From File"}
	}
	return []string{}
}

func toEngineInfo(info engine.EngineInfo) *EngineInfo {
	return &EngineInfo{
		Id:         info.ID,
		Name:       info.Config.Name,
		Kind:       info.Config.Kind,
		ModelPath:  info.Config.ModelPath,
		Names:      engineNames(info.Config),
		Confidence: info.Config.Conf,
		State:      info.Config.State,
		ModelSets:  info.Sets,
	}
}

func (s *Server) CheckEngine(ctx context.Context, req *CheckEngineRequest) (*CheckEngineResponse, error) {
	for _, info := range s.svc.Registry().All() {
		if info.ID == req.Id {
			return &CheckEngineResponse{
				Success:    true,
				EngineInfo: toEngineInfo(info),
				Message:    "Detector status retrieved successfully",
			}, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "detector with ID %s not found", req.Id)
}

func (s *Server) CheckAllEngine(ctx context.Context, req *emptypb.Empty) (*CheckAllEngineResponse, error) {
	all := s.svc.Registry().All()
	engineInfos := make([]*EngineInfo, 0, len(all))
	for _, info := range all {
		engineInfos = append(engineInfos, toEngineInfo(info))
	}
	return &CheckAllEngineResponse{
		Success: true,
		Engines: engineInfos,
		Message: "All Detectors status retrieved successfully",
	}, nil
}

// ResetEngine clears a detector's sticky load failure; the next analysis
// that uses it loads the model again.
func (s *Server) ResetEngine(ctx context.Context, req *CheckEngineRequest) (*CheckEngineResponse, error) {
	info, err := s.svc.Registry().Reset(req.Id)
	switch {
	case errors.Is(err, engine.ErrDetectorNotFound):
		return nil, status.Errorf(codes.NotFound, "detector with ID %s not found", req.Id)
	case errors.Is(err, engine.ErrLoading):
		return nil, status.Errorf(codes.FailedPrecondition, "detector with ID %s is loading", req.Id)
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &CheckEngineResponse{
		Success:    true,
		EngineInfo: toEngineInfo(info),
		Message:    "Detector reset successfully",
	}, nil
}

// Shutdown asks the process to stop; the caller owns the teardown and
// watches CloseChannel.
func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	s.closeOnce.Do(func() {
		logger.Log().Warn("Shutdown requested over gRPC")
		close(s.CloseChannel)
	})
	return &emptypb.Empty{}, nil
}

func logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(start))}
	if err != nil {
		logger.Log().Warn("gRPC call failed", append(fields, zap.Error(err))...)
	} else {
		logger.Log().Debug("gRPC call", fields...)
	}
	return resp, err
}

// Serve registers srv on a new gRPC server and serves lis in the background.
func Serve(lis net.Listener, srv *Server) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(logInterceptor))
	RegisterAuditServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("Failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return Serve(lis, srv), nil
}
