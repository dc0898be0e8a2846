package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/ontap"
)

// FetchFunc lists the snapshots of one volume
type FetchFunc func(ctx context.Context, volume models.VolumeRecord) ([]ontap.Snapshot, error)

type volumeJob struct {
	index  int
	volume models.VolumeRecord
}

type volumeResult struct {
	index     int
	volume    models.VolumeRecord
	snapshots []ontap.Snapshot
	err       error
}

// WorkerPool fetches volume snapshots concurrently. Results carry the volume's
// position so the consumer can restore order.
type WorkerPool struct {
	workers int
	fetch   FetchFunc
	jobs    chan volumeJob
	results chan volumeResult
	done    chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, fetch FetchFunc) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		fetch:   fetch,
		jobs:    make(chan volumeJob, workers*2),
		results: make(chan volumeResult, workers*2),
		done:    make(chan struct{}),
	}
}

// Start launches the workers and queues every volume. Results is closed once
// all volumes are processed or the pool is stopped.
func (p *WorkerPool) Start(ctx context.Context, volumes []models.VolumeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	go p.feed(volumes)

	go func() {
		p.wg.Wait()
		close(p.results)
		close(p.done)
	}()
}

func (p *WorkerPool) feed(volumes []models.VolumeRecord) {
	defer close(p.jobs)
	for i, volume := range volumes {
		select {
		case <-p.ctx.Done():
			return
		case p.jobs <- volumeJob{index: i, volume: volume}:
		}
	}
}

// worker processes jobs from the job queue
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			res := p.process(id, job)
			select {
			case p.results <- res:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *WorkerPool) process(id int, job volumeJob) (res volumeResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic recovered",
				slog.Int("worker_id", id),
				slog.String("volume", job.volume.Name),
				slog.String("panic", fmt.Sprint(r)),
			)
			res = volumeResult{
				index:  job.index,
				volume: job.volume,
				err:    fmt.Errorf("panic while listing snapshots: %v", r),
			}
		}
	}()

	snapshots, err := p.fetch(p.ctx, job.volume)
	return volumeResult{
		index:     job.index,
		volume:    job.volume,
		snapshots: snapshots,
		err:       err,
	}
}

// Results returns the results channel
func (p *WorkerPool) Results() <-chan volumeResult {
	return p.results
}

// Stop cancels outstanding work and waits for all workers to finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.cancel()
	<-p.done

	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
}
