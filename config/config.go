// Package config loads the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"

	"gopkg.in/yaml.v3"
)

type DetectorSpec struct {
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	ModelPath   string   `yaml:"modelPath"`
	URL         string   `yaml:"url"`
	Labels      []string `yaml:"labels"`
	LabelsFile  string   `yaml:"labelsFile"`
	Confidence  float32  `yaml:"confidence"`
	InputNames  []string `yaml:"inputNames"`
	OutputNames []string `yaml:"outputNames"`
}

// DetectorConfig converts the YAML entry into the engine's form.
func (s DetectorSpec) DetectorConfig() engine.DetectorConfig {
	names := iface.NamesConf{IsFile: false, Data: s.Labels}
	if s.LabelsFile != "" {
		names = iface.NamesConf{IsFile: true, Data: s.LabelsFile}
	}
	return engine.DetectorConfig{
		Name:        s.Name,
		Kind:        s.Kind,
		ModelPath:   s.ModelPath,
		URL:         s.URL,
		Names:       names,
		Conf:        s.Confidence,
		InputNames:  s.InputNames,
		OutputNames: s.OutputNames,
	}
}

type RecognizerConfig struct {
	Kind           string `yaml:"kind"`
	Language       string `yaml:"language"`
	TessdataPath   string `yaml:"tessdataPath"`
	Python         string `yaml:"python"`
	Script         string `yaml:"script"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func (r RecognizerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLMinutes int    `yaml:"ttlMinutes"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AnalysisConfig struct {
	BuildingType   string  `yaml:"buildingType"`
	PixelsPerMeter float64 `yaml:"pixelsPerMeter"`
	CrossModelNMS  bool    `yaml:"crossModelNMS"`
	MaxParallel    int     `yaml:"maxParallel"`
	MaxPages       int     `yaml:"maxPages"`
	MaxUploadMB    int     `yaml:"maxUploadMB"`
}

type Config struct {
	Mode            string                    `yaml:"mode"`
	LogLevel        string                    `yaml:"logLevel"`
	HTTPPort        int                       `yaml:"httpPort"`
	RPCPort         int                       `yaml:"rpcPort"`
	AdhocPort       int                       `yaml:"adhocPort"`
	WorkersNum      int                       `yaml:"workersNum"`
	UseRegServer    bool                      `yaml:"useRegServer"`
	RegServerHost   string                    `yaml:"regServerHost"`
	RegServerPort   int                       `yaml:"regServerPort"`
	InstanceClass   string                    `yaml:"instanceClass"`
	Backend         engine.BackendConfig      `yaml:"backend"`
	DefaultModelSet string                    `yaml:"defaultModelSet"`
	ModelSets       map[string][]DetectorSpec `yaml:"modelSets"`
	Recognizer      RecognizerConfig          `yaml:"recognizer"`
	Redis           RedisConfig               `yaml:"redis"`
	Database        DatabaseConfig            `yaml:"database"`
	Analysis        AnalysisConfig            `yaml:"analysis"`
}

// Load reads path, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.RPCPort == 0 {
		c.RPCPort = 50051
	}
	if c.AdhocPort == 0 {
		c.AdhocPort = 50053
	}
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
	}
	if c.InstanceClass == "" {
		c.InstanceClass = "Cpu"
	}
	if c.Backend.UseBackend == "" {
		c.Backend.UseBackend = "onnx"
	}
	if c.Recognizer.Language == "" {
		c.Recognizer.Language = "eng"
	}
	if c.Recognizer.Python == "" {
		c.Recognizer.Python = "python"
	}
	if c.Recognizer.TimeoutSeconds <= 0 {
		c.Recognizer.TimeoutSeconds = 60
	}
	if c.Redis.TTLMinutes <= 0 {
		c.Redis.TTLMinutes = 60
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "audit.db"
	}
	if c.Analysis.BuildingType == "" {
		c.Analysis.BuildingType = string(iface.Overview)
	}
	if c.Analysis.PixelsPerMeter == 0 {
		c.Analysis.PixelsPerMeter = 50
	}
	if c.Analysis.MaxParallel <= 0 {
		c.Analysis.MaxParallel = runtime.NumCPU()
	}
	if c.Analysis.MaxPages <= 0 {
		c.Analysis.MaxPages = 20
	}
	if c.Analysis.MaxUploadMB <= 0 {
		c.Analysis.MaxUploadMB = 64
	}
	for name, set := range c.ModelSets {
		for i := range set {
			if set[i].Kind == "" {
				set[i].Kind = c.Backend.UseBackend
			}
			if set[i].Confidence == 0 {
				set[i].Confidence = 0.35
			}
		}
		c.ModelSets[name] = set
	}
	if c.DefaultModelSet == "" && len(c.ModelSets) == 1 {
		for name := range c.ModelSets {
			c.DefaultModelSet = name
		}
	}
}

var instanceClasses = []string{"Dml", "Cuda", "Rocm", "Cpu"}

var recognizerKinds = []string{"", "none", "tesseract", "vision", "paddle", "remote"}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if !contains(instanceClasses, c.InstanceClass) {
		errs = append(errs, fmt.Errorf("invalid instanceClass %q", c.InstanceClass))
	}
	if _, err := iface.ParseBuildingType(c.Analysis.BuildingType); err != nil {
		errs = append(errs, err)
	}
	if c.Analysis.PixelsPerMeter <= 0 {
		errs = append(errs, fmt.Errorf("pixelsPerMeter must be positive, got %v", c.Analysis.PixelsPerMeter))
	}
	if len(c.ModelSets) == 0 {
		errs = append(errs, errors.New("at least one model set is required"))
	} else if _, ok := c.ModelSets[c.DefaultModelSet]; !ok {
		errs = append(errs, fmt.Errorf("default model set %q is not defined", c.DefaultModelSet))
	}
	for name, set := range c.ModelSets {
		if len(set) == 0 {
			errs = append(errs, fmt.Errorf("model set %q has no detectors", name))
		}
		for _, d := range set {
			if d.Name == "" {
				errs = append(errs, fmt.Errorf("model set %q: detector without name", name))
			}
			if d.Confidence < 0 || d.Confidence > 1 {
				errs = append(errs, fmt.Errorf("model set %q: detector %q: confidence %v outside [0,1]", name, d.Name, d.Confidence))
			}
			switch d.Kind {
			case "onnx":
				if c.Backend.UseBackend == "remote" {
					errs = append(errs, fmt.Errorf("model set %q: detector %q: onnx detectors need the onnx backend", name, d.Name))
				}
				if d.ModelPath == "" {
					errs = append(errs, fmt.Errorf("model set %q: detector %q: modelPath is required", name, d.Name))
				}
			case "remote":
				if d.URL == "" {
					errs = append(errs, fmt.Errorf("model set %q: detector %q: url is required", name, d.Name))
				}
			default:
				errs = append(errs, fmt.Errorf("model set %q: detector %q: unknown kind %q", name, d.Name, d.Kind))
			}
		}
	}
	if !contains(recognizerKinds, c.Recognizer.Kind) {
		errs = append(errs, fmt.Errorf("unknown recognizer kind %q", c.Recognizer.Kind))
	}
	if c.Recognizer.Kind == "paddle" && c.Recognizer.Script == "" {
		errs = append(errs, errors.New("recognizer kind paddle requires script"))
	}
	if c.Recognizer.Kind == "remote" && c.Recognizer.URL == "" {
		errs = append(errs, errors.New("recognizer kind remote requires url"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
