package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrNotReady = errors.New("detector not ready")
	ErrLoading  = errors.New("detector is loading")
)

// DetectorConfig pairs a model with its ordered label table.
type DetectorConfig struct {
	Name        string
	Kind        string
	ModelPath   string
	URL         string
	Names       iface.NamesConf
	Conf        float32
	InputNames  []string
	OutputNames []string
}

// Loader opens the model behind a detector config.
type Loader func(ctx context.Context, cfg DetectorConfig) (iface.Model, error)

// LoadError identifies which detector failed to initialize.
type LoadError struct {
	Detector string
	Path     string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("detector %q (%s): load failed: %v", e.Detector, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Detector owns one model and its label table. Loading is lazy; concurrent
// callers that arrive while a load is in flight wait for that same load.
type Detector struct {
	ID     string
	cfg    DetectorConfig
	loader Loader

	mu       sync.Mutex
	state    State
	names    []string
	model    iface.Model
	loadDone chan struct{}
	loadErr  error
	// set on the first label/class mismatch of the loaded model
	labelWarning string
}

func NewDetector(cfg DetectorConfig, loader Loader) *Detector {
	return &Detector{
		ID:     uuid.New().String(),
		cfg:    cfg,
		loader: loader,
		state:  Unloaded,
	}
}

func (d *Detector) Name() string { return d.cfg.Name }

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := d.cfg.Names
	if d.state == Ready {
		names = iface.NamesConf{IsFile: false, Data: append([]string(nil), d.names...)}
	}
	return iface.EngineConfig{
		Name:      d.cfg.Name,
		Kind:      d.cfg.Kind,
		ModelPath: d.modelRef(),
		Names:     names,
		Conf:      d.cfg.Conf,
		State:     d.state.String(),
	}
}

func (d *Detector) modelRef() string {
	if d.cfg.ModelPath != "" {
		return d.cfg.ModelPath
	}
	return d.cfg.URL
}

// Load brings the detector to Ready. A Failed detector keeps returning its
// LoadError until Reset is called.
func (d *Detector) Load(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case Ready:
		d.mu.Unlock()
		return nil
	case Failed:
		err := d.loadErr
		d.mu.Unlock()
		return err
	case Loading:
		done := d.loadDone
		d.mu.Unlock()
		select {
		case <-done:
			return d.settled()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.state = Loading
	d.loadDone = make(chan struct{})
	done := d.loadDone
	d.mu.Unlock()

	// The load is shared by every waiter, so one caller's cancellation must
	// not fail it for the others.
	names, model, err := d.open(context.WithoutCancel(ctx))

	d.mu.Lock()
	if err != nil {
		d.state = Failed
		d.loadErr = &LoadError{Detector: d.cfg.Name, Path: d.modelRef(), Err: err}
		logger.Log().Error("Detector load failed", zap.String("ID", d.ID), zap.String("name", d.cfg.Name), zap.Error(err))
	} else {
		d.state = Ready
		d.names = names
		d.model = model
		d.loadErr = nil
		logger.Log().Info("Detector ready", zap.String("ID", d.ID), zap.String("name", d.cfg.Name), zap.Int("labels", len(names)))
	}
	close(done)
	loadErr := d.loadErr
	d.mu.Unlock()
	return loadErr
}

func (d *Detector) settled() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Ready:
		return nil
	case Failed:
		return d.loadErr
	}
	return ErrNotReady
}

func (d *Detector) open(ctx context.Context) ([]string, iface.Model, error) {
	if d.loader == nil {
		return nil, nil, fmt.Errorf("no loader for kind %q", d.cfg.Kind)
	}
	names, err := ResolveNames(d.cfg.Names)
	if err != nil {
		return nil, nil, err
	}
	model, err := d.loader(ctx, d.cfg)
	if err != nil {
		return nil, nil, err
	}
	return names, model, nil
}

// Reset drops the model and any load failure so the next Load starts over.
func (d *Detector) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Loading {
		return ErrLoading
	}
	var err error
	if d.model != nil {
		err = d.model.Close()
	}
	d.model = nil
	d.names = nil
	d.loadErr = nil
	d.labelWarning = ""
	d.state = Unloaded
	return err
}

// Destroy is Reset for shutdown paths; it waits out an in-flight load.
func (d *Detector) Destroy() {
	d.mu.Lock()
	done := d.loadDone
	loading := d.state == Loading
	d.mu.Unlock()
	if loading && done != nil {
		<-done
	}
	if err := d.Reset(); err != nil {
		logger.Log().Warn("Detector close failed", zap.String("ID", d.ID), zap.Error(err))
	}
}

// Detect runs the model over a page and decodes the output with the
// detector's own label table and confidence threshold.
func (d *Detector) Detect(ctx context.Context, page image.Image) ([]iface.DetectionBox, error) {
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	model, names := d.model, d.names
	d.mu.Unlock()
	if model == nil {
		return nil, ErrNotReady
	}

	input, err := ToTensor(page)
	if err != nil {
		return nil, fmt.Errorf("detector %q: preprocess: %w", d.cfg.Name, err)
	}
	out, err := model.Run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("detector %q: inference: %w", d.cfg.Name, err)
	}
	if channels, _, err := OutputDims(out); err == nil {
		d.checkLabelCount(channels-4, len(names))
	}
	b := page.Bounds()
	boxes, err := Decode(out, b.Dx(), b.Dy(), names, float64(d.cfg.Conf))
	if err != nil {
		return nil, fmt.Errorf("detector %q: decode: %w", d.cfg.Name, err)
	}
	return boxes, nil
}

func (d *Detector) checkLabelCount(classes, labels int) {
	if classes == labels {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.labelWarning != "" {
		return
	}
	d.labelWarning = fmt.Sprintf("detector %q (%s): model has %d classes but %d labels are declared; unknown classes are named class_<N>",
		d.cfg.Name, d.ID, classes, labels)
	logger.Log().Warn("Label table does not match model class channels; unknown classes will be named class_<N>",
		zap.String("ID", d.ID),
		zap.String("name", d.cfg.Name),
		zap.Int("declaredLabels", labels),
		zap.Int("modelClasses", classes))
}

// LabelWarning describes a mismatch between the label table and the model's
// class channels, or is empty when they agree.
func (d *Detector) LabelWarning() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.labelWarning
}
