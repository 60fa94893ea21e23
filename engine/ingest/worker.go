package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/pkg/fn"
)

// Dequeuer is the Offload Queue surface the worker loop drains.
type Dequeuer interface {
	DequeueBatch(n int) []domain.OffloadJob
}

// WorkerStats mirrors the reference worker's get_stats shape.
type WorkerStats struct {
	Running   bool
	Paused    bool
	Processed int64
	Failed    int64
}

// Worker continuously drains the Offload Queue in batches and runs each job
// through the ingestion pipeline, independently of the hot path. Pause/Resume
// let the Retriever's vector scan run without cold-path resource contention.
type Worker struct {
	queue     Dequeuer
	pipeline  fn.Stage[domain.OffloadJob, domain.OffloadResult]
	batchSize int
	logger    *slog.Logger

	running   atomic.Bool
	paused    atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
}

// NewWorker creates a Worker draining queue in batches of batchSize, running
// each job through deps' pipeline.
func NewWorker(queue Dequeuer, deps Deps, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 3
	}
	return &Worker{
		queue:     queue,
		pipeline:  NewPipeline(deps),
		batchSize: batchSize,
		logger:    deps.logger(),
	}
}

// Start launches the worker loop in a background goroutine. Safe to call
// once; a second call on an already-running Worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		w.logger.Warn("ingest: worker already running")
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(ctx)
	w.logger.Info("ingest: worker started")
}

// Stop signals the worker loop to exit and blocks until it has.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)
	w.logger.Info("ingest: worker stopped")
}

// Pause suspends batch processing, used while the Retriever runs a vector
// scan during generation.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume resumes batch processing.
func (w *Worker) Resume() { w.paused.Store(false) }

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		batch := w.queue.DequeueBatch(w.batchSize)
		if len(batch) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		w.processBatch(ctx, batch)
	}
}

func (w *Worker) processBatch(ctx context.Context, batch []domain.OffloadJob) {
	w.logger.Info("ingest: processing batch", "size", len(batch))
	for _, job := range batch {
		result, err := w.pipeline(ctx, job).Unwrap()
		if err != nil {
			w.failed.Add(1)
			w.logger.Error("ingest: job validation failed", "job_id", job.JobID, "error", err)
			continue
		}
		if result.Success {
			w.processed.Add(1)
		} else {
			w.failed.Add(1)
			w.logger.Error("ingest: job processing failed", "job_id", job.JobID, "error", result.Error)
		}
	}
}

// ProcessOnce drains and processes a single batch, for manual triggering or
// tests. Returns the number of jobs processed.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	batch := w.queue.DequeueBatch(w.batchSize)
	if len(batch) == 0 {
		return 0
	}
	w.processBatch(ctx, batch)
	return len(batch)
}

// Stats reports current worker counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Running:   w.running.Load(),
		Paused:    w.paused.Load(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
}
