package proto

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net"
	"sync/atomic"
	"testing"

	"FloorAuditServer/api"
	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/monitor"
	"FloorAuditServer/pipeline"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
)

type mockAnalyzer struct{}

func (mockAnalyzer) Analyze(ctx context.Context, req pipeline.Request) (*iface.AnalysisResult, error) {
	if req.BuildingType == iface.Factory {
		return nil, &pipeline.AnalysisError{Causes: []error{errors.New("all detectors failed")}}
	}
	return &iface.AnalysisResult{
		Rooms:           1,
		Exits:           1,
		SignageRequired: 1,
		Requirements:    []iface.SignageRequirement{{Type: "ISO 7010 Emergency Exit Sign", Count: 1}},
		Detections:      []iface.DetectionBox{},
		RoomNames:       []string{},
		AllTexts:        []string{},
		RawCounts:       map[string]int{"stairs": len(req.Pages)},
	}, nil
}

type mockModel struct{}

func (mockModel) Run(ctx context.Context, input iface.Tensor) (iface.Tensor, error) {
	return iface.Tensor{Shape: []int64{1, 6, 0}, Data: []float32{}}, nil
}
func (mockModel) InputNames() []string  { return []string{"images"} }
func (mockModel) OutputNames() []string { return []string{"output0"} }
func (mockModel) Close() error          { return nil }

func mockPNG(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func startMock(t *testing.T) (AuditServiceClient, *Server, *monitor.Metrics) {
	t.Helper()
	var loads atomic.Int32
	reg := engine.NewRegistry(map[string]engine.Loader{
		// the first load fails, as when the runtime library is not yet installed
		"mock": func(ctx context.Context, cfg engine.DetectorConfig) (iface.Model, error) {
			if loads.Add(1) == 1 {
				return nil, errors.New("onnxruntime shared library not found")
			}
			return mockModel{}, nil
		},
	})
	_, err := reg.AddSet("dual-omega", []engine.DetectorConfig{
		{Name: "floorplan", Kind: "mock", ModelPath: "mock.onnx", Names: iface.NamesConf{Data: []string{"door", "stairs"}}, Conf: 0.35},
		{Name: "fire_safety", Kind: "mock", ModelPath: "fire.onnx", Names: iface.NamesConf{IsFile: true, Data: "fire.txt"}, Conf: 0.4},
	})
	require.NoError(t, err)

	metrics := monitor.New()
	svc := api.NewService(api.ServiceConfig{
		Registry:        reg,
		Analyzer:        mockAnalyzer{},
		Metrics:         metrics,
		DefaultModelSet: "dual-omega",
		MaxConcurrent:   2,
	})
	srv := NewServer(svc, metrics)

	lis := bufconn.Listen(1 << 20)
	gs := Serve(lis, srv)
	t.Cleanup(func() {
		gs.GracefulStop()
		svc.Close()
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewAuditServiceClient(conn), srv, metrics
}

func TestMockEngine(t *testing.T) {
	client, srv, metrics := startMock(t)
	ctx := context.Background()

	t.Run("Test Analyze", func(t *testing.T) {
		resp, err := client.Analyze(ctx, &AnalyzeRequest{
			Pages:          [][]byte{mockPNG(t), mockPNG(t)},
			BuildingType:   "Hospital",
			PixelsPerMeter: 40,
			WithReport:     true,
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "succeeded", resp.State)
		require.NotNil(t, resp.Result)
		assert.Equal(t, 2, resp.Result.RawCounts["stairs"])
		assert.Len(t, resp.ReportId, 36)
		assert.Contains(t, resp.Report, "END OF REPORT")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("grpc")))
	})

	t.Run("Test Analyze failure", func(t *testing.T) {
		resp, err := client.Analyze(ctx, &AnalyzeRequest{Pages: [][]byte{mockPNG(t)}, BuildingType: "Factory", PixelsPerMeter: 40})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "failed", resp.State)
		assert.Contains(t, resp.Message, "all detectors failed")
		assert.Nil(t, resp.Result)
	})

	t.Run("Test Analyze invalid", func(t *testing.T) {
		tests := []struct {
			name string
			req  *AnalyzeRequest
		}{
			{"no pages", &AnalyzeRequest{PixelsPerMeter: 40}},
			{"bad image", &AnalyzeRequest{Pages: [][]byte{[]byte("nope")}, PixelsPerMeter: 40}},
			{"bad building", &AnalyzeRequest{Pages: [][]byte{mockPNG(t)}, BuildingType: "Castle", PixelsPerMeter: 40}},
			{"bad scale", &AnalyzeRequest{Pages: [][]byte{mockPNG(t)}}},
			{"unknown set", &AnalyzeRequest{Pages: [][]byte{mockPNG(t)}, ModelSet: "omega", PixelsPerMeter: 40}},
		}
		for _, tt := range tests {
			_, err := client.Analyze(ctx, tt.req)
			assert.Equal(t, codes.InvalidArgument, status.Code(err), tt.name)
		}
	})

	var ids []string
	t.Run("Test CheckAllEngine", func(t *testing.T) {
		resp, err := client.CheckAllEngine(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		require.Len(t, resp.Engines, 2)
		for _, e := range resp.Engines {
			ids = append(ids, e.Id)
			assert.Equal(t, []string{"dual-omega"}, e.ModelSets)
			assert.Equal(t, "unloaded", e.State)
		}
	})

	t.Run("Test CheckEngine", func(t *testing.T) {
		require.NotEmpty(t, ids)
		resp, err := client.CheckEngine(ctx, &CheckEngineRequest{Id: ids[0]})
		require.NoError(t, err)
		info := resp.EngineInfo
		assert.Equal(t, ids[0], info.Id)
		switch info.Name {
		case "floorplan":
			assert.Equal(t, []string{"door", "stairs"}, info.Names)
			assert.InDelta(t, 0.35, info.Confidence, 0.0001)
		case "fire_safety":
			assert.Equal(t, []string{"From File"}, info.Names)
		default:
			t.Fatalf("unexpected engine %q", info.Name)
		}

		_, err = client.CheckEngine(ctx, &CheckEngineRequest{Id: "missing"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Test ResetEngine", func(t *testing.T) {
		var id string
		for _, info := range srv.svc.Registry().All() {
			if info.Config.Name == "floorplan" {
				id = info.ID
			}
		}
		d, ok := srv.svc.Registry().Get(id)
		require.True(t, ok)

		require.Error(t, d.Load(ctx))
		resp, err := client.CheckEngine(ctx, &CheckEngineRequest{Id: id})
		require.NoError(t, err)
		assert.Equal(t, "failed", resp.EngineInfo.State)

		resp, err = client.ResetEngine(ctx, &CheckEngineRequest{Id: id})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "unloaded", resp.EngineInfo.State)

		require.NoError(t, d.Load(ctx))
		resp, err = client.CheckEngine(ctx, &CheckEngineRequest{Id: id})
		require.NoError(t, err)
		assert.Equal(t, "ready", resp.EngineInfo.State)

		_, err = client.ResetEngine(ctx, &CheckEngineRequest{Id: "missing"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Test Shutdown", func(t *testing.T) {
		_, err := client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		_, err = client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		select {
		case <-srv.CloseChannel:
		default:
			t.Fatal("CloseChannel not closed")
		}
	})
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	b, err := c.Marshal(&emptypb.Empty{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))

	b, err = c.Marshal(&CheckEngineRequest{Id: "x"})
	require.NoError(t, err)
	var back CheckEngineRequest
	require.NoError(t, c.Unmarshal(b, &back))
	assert.Equal(t, "x", back.Id)
}
