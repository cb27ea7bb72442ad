package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("inference pool closed")

// JobPackage is one inference request queued on the pool.
type JobPackage struct {
	ctx      context.Context
	detector *Detector
	page     image.Image
	Result   chan jobResult
}

type jobResult struct {
	Boxes []iface.DetectionBox
	Err   error
}

// Pool bounds concurrent inference to a fixed number of workers, each
// pinned to its own OS thread.
type Pool struct {
	JobQueue chan JobPackage

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workerNum int) *Pool {
	if workerNum <= 0 {
		workerNum = 1
	}
	p := &Pool{
		JobQueue: make(chan JobPackage, workerNum),
	}
	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go p.runWorker(i, true)
	}
	return p
}

func (p *Pool) runWorker(workerID int, first bool) {
	restarting := false
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("Worker panic, restarting in 1s", zap.Int("worker", workerID), zap.Any("panic", r))
			restarting = true
			time.Sleep(1 * time.Second)
			go p.runWorker(workerID, false)
		}
		if !restarting {
			p.wg.Done()
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if first {
		logger.Log().Debug("Worker created", zap.Int("worker", workerID))
	}
	for job := range p.JobQueue {
		p.handle(workerID, job)
	}
}

func (p *Pool) handle(workerID int, job JobPackage) {
	defer func() {
		if r := recover(); r != nil {
			job.Result <- jobResult{Err: fmt.Errorf("detector %q panicked on worker %d: %v", job.detector.Name(), workerID, r)}
			panic(r)
		}
	}()
	if err := job.ctx.Err(); err != nil {
		job.Result <- jobResult{Err: err}
		return
	}
	boxes, err := job.detector.Detect(job.ctx, job.page)
	job.Result <- jobResult{Boxes: boxes, Err: err}
}

// Detect queues a job and waits for its result or ctx.
func (p *Pool) Detect(ctx context.Context, d *Detector, page image.Image) ([]iface.DetectionBox, error) {
	job := JobPackage{
		ctx:      ctx,
		detector: d,
		page:     page,
		Result:   make(chan jobResult, 1),
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	select {
	case p.JobQueue <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}
	select {
	case res := <-job.Result:
		return res.Boxes, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for workers to drain the queue.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.JobQueue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
