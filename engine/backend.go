package engine

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"FloorAuditServer/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// BackendConfig is the process-wide inference runtime configuration. It is
// set once at startup and read-only afterwards.
type BackendConfig struct {
	UseBackend     string `yaml:"useBackend"`
	SharedLibrary  string `yaml:"sharedLibrary"`
	IntraOpThreads int    `yaml:"intraOpThreads"`
	UseGPU         bool   `yaml:"useGPU"`
	LogLevel       string `yaml:"logLevel"`
}

var (
	backendOnce sync.Once
	backendSet  bool
	backendMu   sync.RWMutex
	backendCfg  BackendConfig
)

var ErrEngineLoaded = errors.New("inference backend already configured")

// LoadEngine installs the process-wide backend configuration. Only the first
// call takes effect; later calls return ErrEngineLoaded.
func LoadEngine(cfg BackendConfig) error {
	if cfg.UseBackend == "" {
		cfg.UseBackend = "onnx"
	}
	switch cfg.UseBackend {
	case "onnx", "remote":
	default:
		return fmt.Errorf("unsupported backend: %s", cfg.UseBackend)
	}
	applied := false
	backendOnce.Do(func() {
		backendMu.Lock()
		backendCfg = cfg
		backendSet = true
		backendMu.Unlock()
		applied = true
	})
	if !applied {
		return ErrEngineLoaded
	}
	logger.Log().Info("Inference backend configured",
		zap.String("backend", cfg.UseBackend),
		zap.String("sharedLibrary", cfg.SharedLibrary),
		zap.Int("intraOpThreads", cfg.IntraOpThreads),
		zap.Bool("useGPU", cfg.UseGPU))
	return nil
}

// LoadEngineFile reads a backend YAML file and installs it.
func LoadEngineFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backend config: %w", err)
	}
	var cfg BackendConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse backend config: %w", err)
	}
	return LoadEngine(cfg)
}

// Loaders keeps the detector loaders the backend permits. The remote backend
// runs no local sessions, so only remote detectors can be registered.
func (c BackendConfig) Loaders(all map[string]Loader) map[string]Loader {
	out := make(map[string]Loader, len(all))
	for kind, l := range all {
		if c.UseBackend == "remote" && kind != "remote" {
			continue
		}
		out[kind] = l
	}
	return out
}

// Backend returns the installed configuration. Before LoadEngine it returns
// the defaults.
func Backend() BackendConfig {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if !backendSet {
		return BackendConfig{UseBackend: "onnx"}
	}
	return backendCfg
}
