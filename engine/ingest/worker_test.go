package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/engine/extract"
)

type fakeDequeuer struct {
	mu    sync.Mutex
	batch []domain.OffloadJob
}

func (f *fakeDequeuer) DequeueBatch(n int) []domain.OffloadJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batch) == 0 {
		return nil
	}
	out := f.batch
	f.batch = nil
	if len(out) > n {
		out, f.batch = out[:n], out[n:]
	}
	return out
}

func TestWorker_ProcessOnceRunsBatchThroughPipeline(t *testing.T) {
	client := &stubLLM{response: `{"entities":[],"events":[]}`}
	deps := Deps{Extractor: extract.New(client, nil), GraphStore: newGraphStore()}
	q := &fakeDequeuer{batch: []domain.OffloadJob{
		{JobID: "j1", ChunkText: "hello", Timestamp: time.Now()},
	}}
	w := NewWorker(q, deps, 3)

	n := w.ProcessOnce(context.Background())
	if n != 1 {
		t.Fatalf("expected 1 job processed, got %d", n)
	}
	if w.Stats().Processed != 1 {
		t.Fatalf("expected processed count 1, got %+v", w.Stats())
	}
}

func TestWorker_ProcessOnceEmptyQueueIsNoop(t *testing.T) {
	client := &stubLLM{response: `{"entities":[],"events":[]}`}
	deps := Deps{Extractor: extract.New(client, nil), GraphStore: newGraphStore()}
	q := &fakeDequeuer{}
	w := NewWorker(q, deps, 3)

	if n := w.ProcessOnce(context.Background()); n != 0 {
		t.Fatalf("expected 0 processed, got %d", n)
	}
}

func TestWorker_CountsFailedJobs(t *testing.T) {
	client := &stubLLM{response: `not json at all`}
	deps := Deps{Extractor: extract.New(client, nil), GraphStore: newGraphStore()}
	q := &fakeDequeuer{batch: []domain.OffloadJob{
		{JobID: "j1", ChunkText: "", Timestamp: time.Now()}, // fails validation
	}}
	w := NewWorker(q, deps, 3)

	w.ProcessOnce(context.Background())
	if w.Stats().Failed != 1 {
		t.Fatalf("expected 1 failed job, got %+v", w.Stats())
	}
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	client := &stubLLM{response: `{"entities":[],"events":[]}`}
	deps := Deps{Extractor: extract.New(client, nil), GraphStore: newGraphStore()}
	q := &fakeDequeuer{}
	w := NewWorker(q, deps, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	if !w.Stats().Running {
		t.Fatal("expected worker to report running after Start")
	}
	w.Pause()
	if !w.Stats().Paused {
		t.Fatal("expected worker to report paused")
	}
	w.Resume()
	w.Stop()
	if w.Stats().Running {
		t.Fatal("expected worker to report stopped after Stop")
	}
}
