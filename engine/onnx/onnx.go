// Package onnx runs detection models in-process through ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment loads the runtime library once per process, using the
// backend configuration installed by engine.LoadEngine.
func initEnvironment() error {
	envOnce.Do(func() {
		cfg := engine.Backend()
		lib, err := FindSharedLibrary(cfg.SharedLibrary)
		if err != nil {
			envErr = err
			return
		}
		ort.SetSharedLibraryPath(lib)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initialize onnxruntime: %w", err)
			return
		}
		logger.Log().Info("ONNX Runtime initialized", zap.String("library", lib))
	})
	return envErr
}

// Shutdown releases the runtime environment; call it once on exit.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Model is an ONNX Runtime session with one image input and one output.
type Model struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// Load is the engine.Loader for kind "onnx".
func Load(ctx context.Context, cfg engine.DetectorConfig) (iface.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return New(cfg)
}

func New(cfg engine.DetectorConfig) (*Model, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if err := initEnvironment(); err != nil {
		return nil, err
	}
	in, out := cfg.InputNames, cfg.OutputNames
	if len(in) == 0 || len(out) == 0 {
		inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", cfg.ModelPath, err)
		}
		if len(in) == 0 {
			in = ioNames(inputs)
		}
		if len(out) == 0 {
			out = ioNames(outputs)
		}
	}
	if len(in) != 1 || len(out) < 1 {
		return nil, fmt.Errorf("%s: want one input and at least one output, got %v -> %v", cfg.ModelPath, in, out)
	}

	opts, err := sessionOptions(engine.Backend())
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, in, out[:1], opts)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", cfg.ModelPath, err)
	}
	return &Model{session: session, inputNames: in, outputNames: out[:1]}, nil
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func sessionOptions(cfg engine.BackendConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, err
		}
	}
	if cfg.UseGPU {
		cuda, err := ort.NewCUDAProviderOptions()
		if err == nil {
			err = opts.AppendExecutionProviderCUDA(cuda)
			cuda.Destroy()
		}
		if err != nil {
			logger.Log().Warn("CUDA provider unavailable, running on CPU", zap.Error(err))
		}
	}
	return opts, nil
}

func (m *Model) Run(ctx context.Context, input iface.Tensor) (iface.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return iface.Tensor{}, err
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return iface.Tensor{}, fmt.Errorf("input tensor: %w", err)
	}
	defer in.Destroy()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return iface.Tensor{}, engine.ErrNotReady
	}
	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return iface.Tensor{}, err
	}
	defer outputs[0].Destroy()
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return iface.Tensor{}, fmt.Errorf("output %s is not a float32 tensor", m.outputNames[0])
	}
	data := out.GetData()
	return iface.Tensor{
		Shape: append([]int64(nil), out.GetShape()...),
		Data:  append([]float32(nil), data...),
	}, nil
}

func (m *Model) InputNames() []string  { return m.inputNames }
func (m *Model) OutputNames() []string { return m.outputNames }

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
