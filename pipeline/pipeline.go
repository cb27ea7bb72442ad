// Package pipeline runs one floor-plan analysis: every detector over every
// page and every recognition pass over the first page, concurrently, then
// the room classifier and the signage rules over the joined output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"

	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"
	"FloorAuditServer/ocr"
	"FloorAuditServer/rooms"
	"FloorAuditServer/signage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Inferer runs one detector over one page. *engine.Pool implements it.
type Inferer interface {
	Detect(ctx context.Context, d *engine.Detector, page image.Image) ([]iface.DetectionBox, error)
}

type Options struct {
	// MaxParallel bounds the concurrent detector and recognition tasks; 0
	// means unbounded.
	MaxParallel int
	// CrossModelNMS suppresses overlapping boxes across detectors after the
	// join. Off by default: each detector's output is kept as decoded.
	CrossModelNMS bool
	// Keywords overrides rooms.DefaultKeywords.
	Keywords []string
}

// Stage names reported through Request.Progress.
const (
	StageDetect    = "detect"
	StageRecognize = "recognize"
	StageRules     = "rules"
)

// Event reports progress of a running analysis.
type Event struct {
	Stage   string `json:"stage"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

type Request struct {
	Pages          []image.Image
	Detectors      []*engine.Detector
	BuildingType   iface.BuildingType
	PixelsPerMeter float64
	// Progress, when set, is called from worker goroutines.
	Progress func(Event)
}

var ErrNoPages = errors.New("no pages to analyze")

// AnalysisError is returned when every detector and every recognition pass
// failed.
type AnalysisError struct {
	Causes []error
}

func (e *AnalysisError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	return "analysis failed: " + strings.Join(msgs, "; ")
}

func (e *AnalysisError) Unwrap() []error { return e.Causes }

type Analyzer struct {
	inferer    Inferer
	recognizer iface.Recognizer
	opts       Options
}

// New builds an Analyzer. A nil recognizer skips text recognition.
func New(inferer Inferer, recognizer iface.Recognizer, opts Options) *Analyzer {
	if opts.Keywords == nil {
		opts.Keywords = rooms.DefaultKeywords
	}
	return &Analyzer{inferer: inferer, recognizer: recognizer, opts: opts}
}

type detectSlot struct {
	boxes []iface.DetectionBox
	err   error
}

func (a *Analyzer) Analyze(ctx context.Context, req Request) (*iface.AnalysisResult, error) {
	if len(req.Pages) == 0 {
		return nil, ErrNoPages
	}
	log := logger.Named("pipeline")
	notify := func(ev Event) {
		if req.Progress != nil {
			req.Progress(ev)
		}
	}

	detects := make([]detectSlot, len(req.Pages)*len(req.Detectors))
	var texts ocr.Passes
	tasks := len(detects)
	steps := len(detects)
	if a.recognizer != nil {
		tasks += len(ocr.Angles)
		steps++
	}
	var done atomic.Int32
	step := func(stage, msg string) {
		notify(Event{Stage: stage, Done: int(done.Add(1)), Total: steps, Message: msg})
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.opts.MaxParallel > 0 {
		g.SetLimit(a.opts.MaxParallel)
	}
	if a.recognizer != nil {
		g.Go(func() error {
			res, err := ocr.MultiPass(gctx, a.recognizer, req.Pages[0])
			if err != nil {
				return err
			}
			texts = res
			step(StageRecognize, fmt.Sprintf("%d lines from %d passes", len(res.Lines), len(ocr.Angles)-len(res.Failed)))
			return nil
		})
	}
	for p, page := range req.Pages {
		for i, d := range req.Detectors {
			slot := &detects[p*len(req.Detectors)+i]
			g.Go(func() error {
				boxes, err := a.inferer.Detect(gctx, d, page)
				if err != nil && ctx.Err() != nil {
					return ctx.Err()
				}
				slot.boxes, slot.err = boxes, err
				step(StageDetect, fmt.Sprintf("%s page %d: %d boxes", d.Name(), p+1, len(boxes)))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var warnings []string
	var causes []error
	var all []iface.DetectionBox
	for idx, s := range detects {
		if s.err != nil {
			d := req.Detectors[idx%len(req.Detectors)]
			cause := fmt.Errorf("detector %q (%s) page %d: %w", d.Name(), d.ID, idx/len(req.Detectors)+1, s.err)
			causes = append(causes, cause)
			warnings = append(warnings, cause.Error())
			log.Warn("Detector failed", zap.String("detector", d.Name()), zap.Error(s.err))
			continue
		}
		all = append(all, s.boxes...)
	}
	for _, pe := range texts.Failed {
		causes = append(causes, pe)
		warnings = append(warnings, pe.Error())
	}
	if tasks > 0 && len(causes) == tasks {
		return nil, &AnalysisError{Causes: causes}
	}
	for _, d := range req.Detectors {
		if w := d.LabelWarning(); w != "" {
			warnings = append(warnings, w)
		}
	}

	if a.opts.CrossModelNMS {
		all = engine.NMS(all, engine.NMSThreshold)
	}
	lines := texts.Lines
	if lines == nil {
		lines = []string{}
	}
	roomNames := rooms.Identify(lines, a.opts.Keywords)

	result := signage.Calculate(signage.Input{
		Boxes:          all,
		RoomNames:      roomNames,
		AllTexts:       lines,
		PageCount:      len(req.Pages),
		BuildingType:   req.BuildingType,
		PixelsPerMeter: req.PixelsPerMeter,
	})
	result.Warnings = warnings
	notify(Event{Stage: StageRules, Done: steps, Total: steps, Message: signage.Summary(result)})
	log.Info("Analysis finished",
		zap.Int("pages", len(req.Pages)),
		zap.Int("detectors", len(req.Detectors)),
		zap.Int("boxes", len(all)),
		zap.Int("lines", len(lines)),
		zap.Int("warnings", len(warnings)),
		zap.Int("signageRequired", result.SignageRequired))
	return &result, nil
}
