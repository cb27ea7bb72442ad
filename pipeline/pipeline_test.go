package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInferer struct {
	mu    sync.Mutex
	calls map[string]int
	boxes map[string][]iface.DetectionBox
	errs  map[string]error
	block bool
}

func (f *fakeInferer) Detect(ctx context.Context, d *engine.Detector, page image.Image) ([]iface.DetectionBox, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[d.Name()]++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[d.Name()]; err != nil {
		return nil, err
	}
	return f.boxes[d.Name()], nil
}

type fakeRecognizer struct {
	words []iface.RecognizedWord
	err   error
}

func (r *fakeRecognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.words, nil
}

func detector(name string) *engine.Detector {
	return engine.NewDetector(engine.DetectorConfig{Name: name, Kind: "fake"}, nil)
}

func box(label string, x float64) iface.DetectionBox {
	return iface.DetectionBox{X: x, Y: 10, W: 30, H: 60, Label: label, Confidence: 0.8}
}

func page() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

func TestAnalyze(t *testing.T) {
	inf := &fakeInferer{boxes: map[string][]iface.DetectionBox{
		"floorplan":   {box("door", 0), box("door", 100)},
		"fire_safety": {box("electrical_panel", 200)},
	}}
	rec := &fakeRecognizer{words: []iface.RecognizedWord{
		{Text: "KITCHEN", BBox: iface.BBox{X0: 0, Y0: 0, X1: 70, Y1: 12}},
		{Text: "3600", BBox: iface.BBox{X0: 0, Y0: 100, X1: 40, Y1: 112}},
	}}
	var mu sync.Mutex
	var events []Event

	a := New(inf, rec, Options{MaxParallel: 2})
	res, err := a.Analyze(context.Background(), Request{
		Pages:          []image.Image{page()},
		Detectors:      []*engine.Detector{detector("floorplan"), detector("fire_safety")},
		BuildingType:   iface.Overview,
		PixelsPerMeter: 50,
		Progress: func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rooms)
	assert.Len(t, res.Detections, 3)
	assert.Equal(t, "door", res.Detections[0].Label, "detections keep detector order")
	assert.Equal(t, "electrical_panel", res.Detections[2].Label)
	assert.Equal(t, []string{"KITCHEN", "3600"}, res.AllTexts)
	assert.Equal(t, []string{"KITCHEN"}, res.RoomNames)
	assert.Empty(t, res.Warnings)

	total := 0
	for _, r := range res.Requirements {
		total += r.Count
	}
	assert.Equal(t, total, res.SignageRequired)

	require.Len(t, events, 4)
	last := events[len(events)-1]
	assert.Equal(t, StageRules, last.Stage)
	assert.Equal(t, 3, last.Total)
}

func TestAnalyze_MultiPage(t *testing.T) {
	inf := &fakeInferer{boxes: map[string][]iface.DetectionBox{"floorplan": {box("stairs", 0)}}}
	a := New(inf, nil, Options{})
	res, err := a.Analyze(context.Background(), Request{
		Pages:     []image.Image{page(), page(), page()},
		Detectors: []*engine.Detector{detector("floorplan")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, inf.calls["floorplan"])
	assert.Equal(t, 3, res.Exits)
	assert.Empty(t, res.AllTexts)
}

func TestAnalyze_PartialFailure(t *testing.T) {
	boom := errors.New("session closed")
	inf := &fakeInferer{
		boxes: map[string][]iface.DetectionBox{"floorplan": {box("door", 0)}},
		errs:  map[string]error{"omega": boom},
	}
	a := New(inf, &fakeRecognizer{}, Options{})
	omega := detector("omega")
	res, err := a.Analyze(context.Background(), Request{
		Pages:     []image.Image{page()},
		Detectors: []*engine.Detector{detector("floorplan"), omega},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `detector "omega"`)
	assert.Contains(t, res.Warnings[0], omega.ID)
	assert.Len(t, res.Detections, 1)
}

func TestAnalyze_RecognitionFailureIsWarning(t *testing.T) {
	inf := &fakeInferer{boxes: map[string][]iface.DetectionBox{"floorplan": {box("door", 0)}}}
	a := New(inf, &fakeRecognizer{err: errors.New("tesseract missing")}, Options{})
	res, err := a.Analyze(context.Background(), Request{
		Pages:     []image.Image{page()},
		Detectors: []*engine.Detector{detector("floorplan")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 3)
	assert.Empty(t, res.AllTexts)
}

func TestAnalyze_EverythingFails(t *testing.T) {
	boom := errors.New("model file missing")
	inf := &fakeInferer{errs: map[string]error{"floorplan": boom}}
	a := New(inf, &fakeRecognizer{err: errors.New("recognizer down")}, Options{})
	_, err := a.Analyze(context.Background(), Request{
		Pages:     []image.Image{page()},
		Detectors: []*engine.Detector{detector("floorplan")},
	})
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Len(t, aerr.Causes, 4)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "floorplan")
}

func TestAnalyze_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inf := &fakeInferer{block: true}
	a := New(inf, nil, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := a.Analyze(ctx, Request{Pages: []image.Image{page()}, Detectors: []*engine.Detector{detector("slow")}})
		errc <- err
	}()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestAnalyze_CrossModelNMS(t *testing.T) {
	overlap := map[string][]iface.DetectionBox{
		"a": {{X: 0, Y: 0, W: 50, H: 50, Label: "door", Confidence: 0.9}},
		"b": {{X: 2, Y: 2, W: 50, H: 50, Label: "Door", Confidence: 0.7}},
	}
	req := Request{Pages: []image.Image{page()}, Detectors: []*engine.Detector{detector("a"), detector("b")}}

	res, err := New(&fakeInferer{boxes: overlap}, nil, Options{}).Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Detections, 2)

	res, err = New(&fakeInferer{boxes: overlap}, nil, Options{CrossModelNMS: true}).Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "door", res.Detections[0].Label)
}

func TestAnalyze_NoPages(t *testing.T) {
	_, err := New(&fakeInferer{}, nil, Options{}).Analyze(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestAnalyze_WithEnginePool(t *testing.T) {
	pool := engine.NewPool(1)
	defer pool.Close()
	d := engine.NewDetector(engine.DetectorConfig{Name: "broken", Kind: "fake"}, func(ctx context.Context, cfg engine.DetectorConfig) (iface.Model, error) {
		return nil, errors.New("no such file")
	})
	_, err := New(pool, nil, Options{}).Analyze(context.Background(), Request{
		Pages:     []image.Image{page()},
		Detectors: []*engine.Detector{d},
	})
	var loadErr *engine.LoadError
	assert.ErrorAs(t, err, &loadErr)
}

type classModel struct{ classes int }

func (m classModel) Run(ctx context.Context, input iface.Tensor) (iface.Tensor, error) {
	return iface.Tensor{Shape: []int64{1, int64(4 + m.classes), 0}, Data: []float32{}}, nil
}
func (classModel) InputNames() []string  { return []string{"images"} }
func (classModel) OutputNames() []string { return []string{"output0"} }
func (classModel) Close() error          { return nil }

func TestAnalyze_LabelMismatchIsWarning(t *testing.T) {
	pool := engine.NewPool(1)
	defer pool.Close()
	load := func(ctx context.Context, cfg engine.DetectorConfig) (iface.Model, error) {
		return classModel{classes: 3}, nil
	}
	mismatched := engine.NewDetector(engine.DetectorConfig{
		Name:  "fire_safety",
		Kind:  "fake",
		Names: iface.NamesConf{Data: []string{"exit", "extinguisher"}},
	}, load)
	matched := engine.NewDetector(engine.DetectorConfig{
		Name:  "floorplan",
		Kind:  "fake",
		Names: iface.NamesConf{Data: []string{"door", "stairs", "lift"}},
	}, load)

	res, err := New(pool, nil, Options{}).Analyze(context.Background(), Request{
		Pages:     []image.Image{page(), page()},
		Detectors: []*engine.Detector{mismatched, matched},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `detector "fire_safety"`)
	assert.Contains(t, res.Warnings[0], "3 classes but 2 labels")
}
