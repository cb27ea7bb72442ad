package api

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"
	"FloorAuditServer/monitor"
	"FloorAuditServer/pipeline"
	"FloorAuditServer/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

var (
	ErrJobNotFound     = errors.New("analysis not found")
	ErrJobFinished     = errors.New("analysis already finished")
	ErrUnknownModelSet = errors.New("unknown model set")
	ErrServiceClosed   = errors.New("analysis service is shutting down")
)

// InputError is a rejected submission.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string { return e.Field + ": " + e.Msg }

// Analyzer is satisfied by *pipeline.Analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*iface.AnalysisResult, error)
}

// Recorder persists job outcomes. *store.Store implements it.
type Recorder interface {
	Create(ctx context.Context, sess store.Session) error
	Complete(ctx context.Context, id string, result iface.AnalysisResult, at time.Time) error
	Finish(ctx context.Context, id, status, msg string, at time.Time) error
	Get(ctx context.Context, id string) (*store.Session, error)
	List(ctx context.Context, limit int) ([]store.Session, error)
}

type Submission struct {
	Pages          []image.Image
	FileName       string
	ModelSet       string
	BuildingType   iface.BuildingType
	PixelsPerMeter float64
}

// Update is one message on a job's progress stream.
type Update struct {
	Type  string          `json:"type"`
	State JobState        `json:"state"`
	Event *pipeline.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

type Job struct {
	ID             string
	FileName       string
	ModelSet       string
	BuildingType   iface.BuildingType
	PixelsPerMeter float64
	Pages          int
	CreatedAt      time.Time

	mu         sync.Mutex
	state      JobState
	result     *iface.AnalysisResult
	errMsg     string
	finishedAt time.Time
	updates    []Update
	subs       map[chan Update]struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

// JobView is the JSON form of a job.
type JobView struct {
	ID             string                `json:"id"`
	State          JobState              `json:"state"`
	FileName       string                `json:"fileName,omitempty"`
	ModelSet       string                `json:"modelSet"`
	BuildingType   iface.BuildingType    `json:"buildingType"`
	PixelsPerMeter float64               `json:"pixelsPerMeter"`
	Pages          int                   `json:"pages"`
	CreatedAt      time.Time             `json:"createdAt"`
	FinishedAt     *time.Time            `json:"finishedAt,omitempty"`
	Progress       *pipeline.Event       `json:"progress,omitempty"`
	Error          string                `json:"error,omitempty"`
	Result         *iface.AnalysisResult `json:"result,omitempty"`
}

func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:             j.ID,
		State:          j.state,
		FileName:       j.FileName,
		ModelSet:       j.ModelSet,
		BuildingType:   j.BuildingType,
		PixelsPerMeter: j.PixelsPerMeter,
		Pages:          j.Pages,
		CreatedAt:      j.CreatedAt,
		Error:          j.errMsg,
		Result:         j.result,
	}
	if !j.finishedAt.IsZero() {
		at := j.finishedAt
		v.FinishedAt = &at
	}
	for i := len(j.updates) - 1; i >= 0; i-- {
		if j.updates[i].Event != nil {
			v.Progress = j.updates[i].Event
			break
		}
	}
	return v
}

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns the result of a succeeded job and its finish time.
func (j *Job) Result() (*iface.AnalysisResult, time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.finishedAt, j.state == JobSucceeded
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Subscribe returns the updates published so far and a channel carrying the
// rest. The channel is closed when the job finishes.
func (j *Job) Subscribe() ([]Update, <-chan Update, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	past := append([]Update(nil), j.updates...)
	ch := make(chan Update, 64)
	if j.state.Terminal() {
		close(ch)
		return past, ch, func() {}
	}
	j.subs[ch] = struct{}{}
	return past, ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
	}
}

func (j *Job) publishLocked(u Update) {
	j.updates = append(j.updates, u)
	for ch := range j.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (j *Job) progress(ev pipeline.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.publishLocked(Update{Type: "progress", State: j.state, Event: &ev})
}

func (j *Job) transition(to JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = to
	j.publishLocked(Update{Type: "state", State: to})
	return true
}

func (j *Job) finish(to JobState, result *iface.AnalysisResult, errMsg string, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = to
	j.result = result
	j.errMsg = errMsg
	j.finishedAt = at
	j.publishLocked(Update{Type: "done", State: to, Error: errMsg})
	for ch := range j.subs {
		close(ch)
	}
	j.subs = map[chan Update]struct{}{}
	close(j.done)
}

type ServiceConfig struct {
	Registry        *engine.Registry
	Analyzer        Analyzer
	Store           Recorder
	Metrics         *monitor.Metrics
	DefaultModelSet string
	// MaxConcurrent bounds running jobs; others stay queued.
	MaxConcurrent int
	// Retention is how long finished jobs stay in memory.
	Retention time.Duration
}

// Service owns the asynchronous analysis jobs shared by the HTTP and gRPC
// front ends.
type Service struct {
	cfg   ServiceConfig
	slots chan struct{}

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
	wg     sync.WaitGroup
	base   context.Context
	stop   context.CancelFunc
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:   cfg,
		slots: make(chan struct{}, cfg.MaxConcurrent),
		jobs:  make(map[string]*Job),
		base:  base,
		stop:  stop,
	}
}

func (s *Service) DefaultModelSet() string { return s.cfg.DefaultModelSet }

func (s *Service) Registry() *engine.Registry { return s.cfg.Registry }

func (s *Service) Store() Recorder { return s.cfg.Store }

// Submit validates sub and starts the analysis in the background.
func (s *Service) Submit(sub Submission) (*Job, error) {
	if len(sub.Pages) == 0 {
		return nil, &InputError{Field: "pages", Msg: "at least one page image is required"}
	}
	if sub.PixelsPerMeter <= 0 {
		return nil, &InputError{Field: "pixelsPerMeter", Msg: "must be a positive number"}
	}
	if sub.BuildingType == "" {
		sub.BuildingType = iface.Overview
	}
	if _, err := iface.ParseBuildingType(string(sub.BuildingType)); err != nil {
		return nil, &InputError{Field: "buildingType", Msg: err.Error()}
	}
	if sub.ModelSet == "" {
		sub.ModelSet = s.cfg.DefaultModelSet
	}
	dets, ok := s.cfg.Registry.Set(sub.ModelSet)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModelSet, sub.ModelSet)
	}

	ctx, cancel := context.WithCancel(s.base)
	job := &Job{
		ID:             uuid.NewString(),
		FileName:       sub.FileName,
		ModelSet:       sub.ModelSet,
		BuildingType:   sub.BuildingType,
		PixelsPerMeter: sub.PixelsPerMeter,
		Pages:          len(sub.Pages),
		CreatedAt:      time.Now(),
		state:          JobQueued,
		subs:           make(map[chan Update]struct{}),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	job.updates = []Update{{Type: "state", State: JobQueued}}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrServiceClosed
	}
	s.pruneLocked(job.CreatedAt)
	s.jobs[job.ID] = job
	s.wg.Add(1)
	s.mu.Unlock()

	if s.cfg.Store != nil {
		err := s.cfg.Store.Create(ctx, store.Session{
			ID:             job.ID,
			FileName:       job.FileName,
			BuildingType:   string(job.BuildingType),
			ModelSet:       job.ModelSet,
			Pages:          job.Pages,
			PixelsPerMeter: job.PixelsPerMeter,
			CreatedAt:      job.CreatedAt,
		})
		if err != nil {
			logger.Log().Warn("Session record failed", zap.String("job", job.ID), zap.Error(err))
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveJobs.Inc()
	}
	logger.Log().Info("Analysis queued",
		zap.String("job", job.ID),
		zap.String("modelSet", job.ModelSet),
		zap.Int("pages", job.Pages),
		zap.String("buildingType", string(job.BuildingType)))
	go s.run(ctx, job, dets, sub)
	return job, nil
}

func (s *Service) run(ctx context.Context, job *Job, dets []*engine.Detector, sub Submission) {
	defer s.wg.Done()
	defer job.cancel()

	var (
		result *iface.AnalysisResult
		err    error
		start  time.Time
	)
	select {
	case s.slots <- struct{}{}:
		if job.transition(JobRunning) {
			start = time.Now()
			result, err = s.cfg.Analyzer.Analyze(ctx, pipeline.Request{
				Pages:          sub.Pages,
				Detectors:      dets,
				BuildingType:   sub.BuildingType,
				PixelsPerMeter: sub.PixelsPerMeter,
				Progress:       job.progress,
			})
		} else {
			err = context.Canceled
		}
		<-s.slots
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	state, msg := JobSucceeded, ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		state, msg, result = JobCanceled, "analysis canceled", nil
	default:
		state, msg, result = JobFailed, err.Error(), nil
	}
	at := time.Now()
	s.record(job.ID, state, result, msg, at)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveJobs.Dec()
		warnings := 0
		if result != nil {
			warnings = len(result.Warnings)
		}
		elapsed := time.Duration(0)
		if !start.IsZero() {
			elapsed = at.Sub(start)
		}
		s.cfg.Metrics.ObserveAnalysis(string(state), elapsed, warnings)
	}
	job.finish(state, result, msg, at)
	logger.Log().Info("Analysis finished", zap.String("job", job.ID), zap.String("state", string(state)), zap.String("error", msg))
}

func (s *Service) record(id string, state JobState, result *iface.AnalysisResult, msg string, at time.Time) {
	if s.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	switch state {
	case JobSucceeded:
		err = s.cfg.Store.Complete(ctx, id, *result, at)
	case JobCanceled:
		err = s.cfg.Store.Finish(ctx, id, store.StatusCanceled, msg, at)
	default:
		err = s.cfg.Store.Finish(ctx, id, store.StatusFailed, msg, at)
	}
	if err != nil {
		logger.Log().Warn("Session update failed", zap.String("job", id), zap.Error(err))
	}
}

func (s *Service) pruneLocked(now time.Time) {
	for id, j := range s.jobs {
		j.mu.Lock()
		expired := j.state.Terminal() && now.Sub(j.finishedAt) > s.cfg.Retention
		j.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

func (s *Service) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Cancel stops a queued or running job. The job reaches JobCanceled
// asynchronously; wait on Done to observe it.
func (s *Service) Cancel(id string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	if j.State().Terminal() {
		return ErrJobFinished
	}
	j.cancel()
	return nil
}

// Run submits sub and waits for the outcome or ctx.
func (s *Service) Run(ctx context.Context, sub Submission) (*Job, error) {
	job, err := s.Submit(sub)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.Done():
	case <-ctx.Done():
		job.cancel()
		<-job.Done()
	}
	return job, nil
}

// Close cancels every unfinished job and waits for them to settle.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
}
