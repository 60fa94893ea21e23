// Package queue provides the Offload Queue: a bounded FIFO that buffers
// OffloadJobs between the hot path's pressure relief and the cold path's
// Ingestion Worker. The in-process Queue below is the default transport;
// pkg/natsutil's JetStream helpers provide a durable substitute when jobs
// must survive a process restart or be shared across instances.
package queue

import (
	"sync"

	"github.com/elevend0g/vicw/engine/domain"
)

// Stats reports queue throughput counters.
type Stats struct {
	CurrentSize int
	MaxSize     int
	Enqueued    int64
	Processed   int64
	Dropped     int64
}

// Queue is a bounded, in-process FIFO. When Enqueue is called at capacity,
// the oldest job is dropped to admit the new one — the hot path must never
// block on a full cold-path buffer.
type Queue struct {
	mu        sync.Mutex
	jobs      []domain.OffloadJob
	maxSize   int
	enqueued  int64
	processed int64
	dropped   int64
}

// New creates a Queue bounded to maxSize jobs.
func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Queue{maxSize: maxSize}
}

// Enqueue appends a job, dropping the oldest if the queue is at capacity.
func (q *Queue) Enqueue(job domain.OffloadJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) >= q.maxSize {
		q.jobs = q.jobs[1:]
		q.dropped++
	}
	q.jobs = append(q.jobs, job)
	q.enqueued++
}

// Dequeue removes and returns the oldest job, or ok=false if empty.
func (q *Queue) Dequeue() (domain.OffloadJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return domain.OffloadJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.processed++
	return job, true
}

// DequeueBatch removes and returns up to n oldest jobs.
func (q *Queue) DequeueBatch(n int) []domain.OffloadJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.jobs) {
		n = len(q.jobs)
	}
	if n == 0 {
		return nil
	}
	batch := make([]domain.OffloadJob, n)
	copy(batch, q.jobs[:n])
	q.jobs = q.jobs[n:]
	q.processed += int64(n)
	return batch
}

// Peek returns the oldest job without removing it.
func (q *Queue) Peek() (domain.OffloadJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return domain.OffloadJob{}, false
	}
	return q.jobs[0], true
}

// Size returns the current number of queued jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// IsEmpty reports whether the queue currently holds no jobs.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Clear removes all queued jobs without affecting counters.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
}

// Stats reports current size and lifetime counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		CurrentSize: len(q.jobs),
		MaxSize:     q.maxSize,
		Enqueued:    q.enqueued,
		Processed:   q.processed,
		Dropped:     q.dropped,
	}
}
