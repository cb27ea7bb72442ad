package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"

	"go.uber.org/zap"
)

var ErrDetectorNotFound = errors.New("detector not found")

// Registry holds the detectors of every configured model set. A detector
// shared by two sets is registered once and referenced by both.
type Registry struct {
	mapMu     sync.RWMutex
	sets      map[string][]*Detector
	byID      map[string]*Detector
	loaders   map[string]Loader
	byConfKey map[string]*Detector
}

func NewRegistry(loaders map[string]Loader) *Registry {
	return &Registry{
		sets:      make(map[string][]*Detector),
		byID:      make(map[string]*Detector),
		loaders:   maps.Clone(loaders),
		byConfKey: make(map[string]*Detector),
	}
}

// AddSet registers a model set. Detector configs with the same name and
// model reference reuse one Detector.
func (r *Registry) AddSet(name string, cfgs []DetectorConfig) ([]string, error) {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()
	if _, ok := r.sets[name]; ok {
		return nil, fmt.Errorf("model set %q already registered", name)
	}
	dets := make([]*Detector, 0, len(cfgs))
	ids := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		loader, ok := r.loaders[cfg.Kind]
		if !ok {
			return nil, fmt.Errorf("model set %q: detector %q: unknown kind %q", name, cfg.Name, cfg.Kind)
		}
		key := cfg.Kind + "|" + cfg.Name + "|" + cfg.ModelPath + "|" + cfg.URL
		d, ok := r.byConfKey[key]
		if !ok {
			d = NewDetector(cfg, loader)
			r.byConfKey[key] = d
			r.byID[d.ID] = d
			logger.Log().Info("Detector added", zap.String("set", name), zap.String("name", cfg.Name), zap.String("ID", d.ID))
		}
		dets = append(dets, d)
		ids = append(ids, d.ID)
	}
	r.sets[name] = dets
	return ids, nil
}

func (r *Registry) Set(name string) ([]*Detector, bool) {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	dets, ok := r.sets[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(dets), true
}

func (r *Registry) SetNames() []string {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	return slices.Sorted(maps.Keys(r.sets))
}

func (r *Registry) Get(id string) (*Detector, bool) {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// EngineInfo describes one registered detector.
type EngineInfo struct {
	ID     string             `json:"id"`
	Sets   []string           `json:"sets"`
	Config iface.EngineConfig `json:"config"`
}

func (r *Registry) All() []EngineInfo {
	r.mapMu.RLock()
	allSets := maps.Clone(r.sets)
	allIDs := slices.Sorted(maps.Keys(r.byID))
	byID := maps.Clone(r.byID)
	r.mapMu.RUnlock()

	out := make([]EngineInfo, 0, len(allIDs))
	for _, id := range allIDs {
		out = append(out, describe(byID[id], allSets))
	}
	return out
}

func (r *Registry) Info(id string) (EngineInfo, bool) {
	r.mapMu.RLock()
	d, ok := r.byID[id]
	allSets := maps.Clone(r.sets)
	r.mapMu.RUnlock()
	if !ok {
		return EngineInfo{}, false
	}
	return describe(d, allSets), true
}

func describe(d *Detector, allSets map[string][]*Detector) EngineInfo {
	var sets []string
	for _, name := range slices.Sorted(maps.Keys(allSets)) {
		if slices.Contains(allSets[name], d) {
			sets = append(sets, name)
		}
	}
	return EngineInfo{ID: d.ID, Sets: sets, Config: d.CheckConfig()}
}

// Reset returns one detector to Unloaded, clearing a sticky load failure.
// The next analysis that uses it loads the model again.
func (r *Registry) Reset(id string) (EngineInfo, error) {
	d, ok := r.Get(id)
	if !ok {
		return EngineInfo{}, fmt.Errorf("%w: %s", ErrDetectorNotFound, id)
	}
	if err := d.Reset(); err != nil {
		if errors.Is(err, ErrLoading) {
			return EngineInfo{}, err
		}
		// the old model failed to close; the detector is Unloaded regardless
		logger.Log().Warn("Detector close failed during reset", zap.String("ID", id), zap.Error(err))
	}
	logger.Log().Info("Detector reset", zap.String("ID", id), zap.String("name", d.Name()))
	info, _ := r.Info(id)
	return info, nil
}

// DestroyAll closes every detector and empties the registry.
func (r *Registry) DestroyAll() {
	r.mapMu.Lock()
	dets := slices.Collect(maps.Values(r.byID))
	r.sets = make(map[string][]*Detector)
	r.byID = make(map[string]*Detector)
	r.byConfKey = make(map[string]*Detector)
	r.mapMu.Unlock()
	for _, d := range dets {
		d.Destroy()
	}
}
