package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "FloorAuditServer/Adhoc"
	"FloorAuditServer/api"
	"FloorAuditServer/config"
	"FloorAuditServer/engine"
	"FloorAuditServer/engine/onnx"
	backend "FloorAuditServer/gRPC"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"
	"FloorAuditServer/monitor"
	"FloorAuditServer/ocr"
	"FloorAuditServer/ocr/tesseract"
	"FloorAuditServer/ocr/vision"
	"FloorAuditServer/pipeline"
	"FloorAuditServer/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newRecognizer(ctx context.Context, cfg config.RecognizerConfig) (iface.Recognizer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case "", "none":
		return nil, noop, nil
	case "tesseract":
		r, err := tesseract.New(cfg.Language, cfg.TessdataPath)
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	case "vision":
		r, err := vision.New(ctx)
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	case "paddle":
		r, err := ocr.NewSubprocessRecognizer(cfg.Python, cfg.Script, cfg.Timeout())
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	case "remote":
		r, err := ocr.NewHTTPRecognizer(cfg.URL, cfg.Timeout())
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown recognizer kind %q", cfg.Kind)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the server configuration")
	backendPath := flag.String("backend", "", "optional inference backend YAML overriding the config's backend section")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Mode, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()

	cpuNum := runtime.NumCPU()
	log.Info(strings.Repeat("#", 64))
	log.Info("FloorAuditServer starting",
		zap.Int("cpuCores", cpuNum),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("rpcPort", cfg.RPCPort),
		zap.Int("metricsPort", cfg.AdhocPort),
		zap.Int("workersNum", cfg.WorkersNum))
	if cfg.WorkersNum > cpuNum {
		log.Warn("workersNum exceeds CPU cores, which may lead to performance degradation")
	}
	if cfg.Backend.UseGPU {
		log.Warn("GPU enabled: every worker holds its own session, make sure the GPU has enough memory")
	}

	if *backendPath != "" {
		err = engine.LoadEngineFile(*backendPath)
	} else {
		err = engine.LoadEngine(cfg.Backend)
	}
	if err != nil {
		log.Fatal("Failed to configure inference backend", zap.Error(err))
	}

	registry := engine.NewRegistry(engine.Backend().Loaders(map[string]engine.Loader{
		"onnx":   onnx.Load,
		"remote": engine.LoadRemote,
	}))
	for _, name := range slices.Sorted(maps.Keys(cfg.ModelSets)) {
		specs := cfg.ModelSets[name]
		dcs := make([]engine.DetectorConfig, len(specs))
		for i, s := range specs {
			dcs[i] = s.DetectorConfig()
		}
		if _, err := registry.AddSet(name, dcs); err != nil {
			log.Fatal("Invalid model set", zap.String("set", name), zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recognizer, closeRecognizer, err := newRecognizer(ctx, cfg.Recognizer)
	if err != nil {
		log.Fatal("Failed to create text recognizer", zap.String("kind", cfg.Recognizer.Kind), zap.Error(err))
	}
	var rdb *redis.Client
	if recognizer != nil && cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, recognition cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		} else {
			recognizer = ocr.NewCachingRecognizer(rdb, cfg.Redis.TTL(), recognizer, "ocr:"+cfg.Recognizer.Kind)
		}
	}

	var rec api.Recorder
	var db *store.Store
	if cfg.Database.Driver != "none" {
		db, err = store.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			log.Fatal("Failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
		}
		rec = db
	}

	pool := engine.NewPool(cfg.WorkersNum)
	analyzer := pipeline.New(pool, recognizer, pipeline.Options{
		MaxParallel:   cfg.Analysis.MaxParallel,
		CrossModelNMS: cfg.Analysis.CrossModelNMS,
	})
	metrics := monitor.New()
	svc := api.NewService(api.ServiceConfig{
		Registry:        registry,
		Analyzer:        analyzer,
		Store:           rec,
		Metrics:         metrics,
		DefaultModelSet: cfg.DefaultModelSet,
		MaxConcurrent:   cfg.WorkersNum,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.StartMon(ctx, cfg.AdhocPort)
	}()

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: api.NewServer(svc, api.ServerOptions{
			DefaultBuildingType:   iface.BuildingType(cfg.Analysis.BuildingType),
			DefaultPixelsPerMeter: cfg.Analysis.PixelsPerMeter,
			MaxPages:              cfg.Analysis.MaxPages,
			MaxUploadBytes:        int64(cfg.Analysis.MaxUploadMB) << 20,
			Metrics:               metrics,
		}).Handler(),
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	rpc := backend.NewServer(svc, metrics)
	grpcSrv, err := backend.StartGRPCServer(cfg.RPCPort, rpc)
	if err != nil {
		log.Fatal("Failed to start gRPC server", zap.Error(err))
	}

	if cfg.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			log.Warn("Failed to get outbound IP", zap.Error(err))
		}
		class, ok := adhoc.ParseInstanceClass(cfg.InstanceClass)
		if !ok {
			log.Warn("Invalid instanceClass in config, defaulting to Cpu", zap.String("instanceClass", cfg.InstanceClass))
		}
		var reg adhoc.RegServerConfig
		reg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		hb := adhoc.NewHeartbeat(reg, ip, cfg.RPCPort, cfg.HTTPPort, class, registry.SetNames())
		wg.Add(1)
		go hb.SendAliveMessage(ctx, &wg)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-sigCtx.Done():
	case <-rpc.CloseChannel:
	}
	log.Warn("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	svc.Close()
	cancel()
	pool.Close()
	registry.DestroyAll()
	if err := onnx.Shutdown(); err != nil {
		log.Warn("ONNX Runtime shutdown", zap.Error(err))
	}
	if err := closeRecognizer(); err != nil {
		log.Warn("Recognizer close", zap.Error(err))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn("Database close", zap.Error(err))
		}
	}
	wg.Wait()
	log.Info("Safely exited")
}
