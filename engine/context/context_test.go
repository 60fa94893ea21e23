package context

import (
	"context"
	"strings"
	"testing"

	"github.com/elevend0g/vicw/engine/domain"
)

type fakeQueue struct {
	jobs []domain.OffloadJob
}

func (q *fakeQueue) Enqueue(job domain.OffloadJob) {
	q.jobs = append(q.jobs, job)
}

type fakeMemory struct {
	result domain.RAGResult
	err    error
	calls  int
}

func (m *fakeMemory) Retrieve(ctx context.Context, query string, topKSemantic, topKRelational int) (domain.RAGResult, error) {
	m.calls++
	return m.result, m.err
}

type fakeStates struct {
	active    map[domain.StateType][]domain.State
	completed map[domain.StateType][]domain.State

	incrementedIDs [][]string
	incrementErr   error
}

func (s *fakeStates) GetActiveStates(ctx context.Context, stateType domain.StateType, limit int) ([]domain.State, error) {
	out := s.active[stateType]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStates) GetCompletedStates(ctx context.Context, stateType domain.StateType, limit int) ([]domain.State, error) {
	out := s.completed[stateType]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStates) IncrementStateVisits(ctx context.Context, ids []string) error {
	s.incrementedIDs = append(s.incrementedIDs, ids)
	return s.incrementErr
}

func testOptions() Options {
	o := DefaultOptions()
	o.MaxContext = 40
	return o
}

func TestAdd_NoReliefUnderThreshold(t *testing.T) {
	q := &fakeQueue{}
	m := New(testOptions(), q, nil, nil, nil)

	m.Add(context.Background(), "user", "hello there")
	if len(q.jobs) != 0 {
		t.Fatalf("expected no offload jobs, got %d", len(q.jobs))
	}
	if m.Stats().MessageCount != 1 {
		t.Fatalf("expected 1 message, got %d", m.Stats().MessageCount)
	}
}

func TestAdd_TriggersReliefOverThreshold(t *testing.T) {
	q := &fakeQueue{}
	m := New(testOptions(), q, nil, nil, nil)

	long := strings.Repeat("word ", 60)
	m.Add(context.Background(), "user", long)

	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 offload job, got %d", len(q.jobs))
	}
	stats := m.Stats()
	if stats.OffloadCount != 1 {
		t.Fatalf("expected offload count 1, got %d", stats.OffloadCount)
	}
	window := m.Window()
	if len(window) == 0 || window[0].Role != "system" || !strings.Contains(window[0].Content, "ARCHIVED") {
		t.Fatalf("expected archived placeholder at front, got %+v", window)
	}
}

func TestAdd_HysteresisSuppressesRepeatRelief(t *testing.T) {
	q := &fakeQueue{}
	m := New(testOptions(), q, nil, nil, nil)

	long := strings.Repeat("word ", 60)
	m.Add(context.Background(), "user", long)
	firstJobs := len(q.jobs)

	m.Add(context.Background(), "user", "short reply")
	if len(q.jobs) != firstJobs {
		t.Fatalf("expected hysteresis to suppress relief, jobs went from %d to %d", firstJobs, len(q.jobs))
	}
}

func TestAugment_NilMemoryIsNoop(t *testing.T) {
	m := New(testOptions(), nil, nil, nil, nil)
	n, err := m.Augment(context.Background(), "query", 5, 5)
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
}

func TestAugment_EmptyResultSkipsInjection(t *testing.T) {
	mem := &fakeMemory{result: domain.RAGResult{}}
	m := New(testOptions(), nil, mem, nil, nil)

	m.Add(context.Background(), "user", "question")
	n, err := m.Augment(context.Background(), "question", 5, 5)
	if err != nil || n != 0 {
		t.Fatalf("expected empty result skip, got n=%d err=%v", n, err)
	}
	if len(m.Window()) != 1 {
		t.Fatalf("expected no injected message, window=%+v", m.Window())
	}
}

func TestAugment_InjectsBeforeTrailingUserMessage(t *testing.T) {
	mem := &fakeMemory{result: domain.RAGResult{SemanticChunks: []string{"[Type: Entity] foo"}}}
	m := New(testOptions(), nil, mem, nil, nil)

	m.Add(context.Background(), "user", "question")
	n, err := m.Augment(context.Background(), "question", 5, 5)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 injected item, got n=%d err=%v", n, err)
	}
	window := m.Window()
	if len(window) != 2 || window[0].Role != "system" || window[1].Role != "user" {
		t.Fatalf("expected rag message before trailing user message, got %+v", window)
	}
}

func TestAugment_InjectsStateMessage(t *testing.T) {
	mem := &fakeMemory{result: domain.RAGResult{SemanticChunks: []string{"x"}}}
	states := &fakeStates{
		active: map[domain.StateType][]domain.State{
			domain.StateGoal: {{Desc: "ship the feature"}},
		},
	}
	m := New(testOptions(), nil, mem, states, nil)

	m.Add(context.Background(), "user", "question")
	if _, err := m.Augment(context.Background(), "question", 5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	window := m.Window()
	found := false
	for _, msg := range window {
		if strings.Contains(msg.Content, "STATE MEMORY") && strings.Contains(msg.Content, "ship the feature") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected state memory message, got %+v", window)
	}
}

func TestAugment_StateMessageIncrementsVisitCounts(t *testing.T) {
	mem := &fakeMemory{result: domain.RAGResult{SemanticChunks: []string{"x"}}}
	states := &fakeStates{
		active: map[domain.StateType][]domain.State{
			domain.StateGoal: {{ID: "goal-1", Desc: "ship the feature"}},
		},
	}
	m := New(testOptions(), nil, mem, states, nil)

	m.Add(context.Background(), "user", "question")
	if _, err := m.Augment(context.Background(), "question", 5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(states.incrementedIDs) != 1 || len(states.incrementedIDs[0]) != 1 || states.incrementedIDs[0][0] != "goal-1" {
		t.Fatalf("expected visit count incremented for goal-1, got %+v", states.incrementedIDs)
	}
}

func TestAugment_StateMessageFlagsLoopDetectedPastBoredomThreshold(t *testing.T) {
	mem := &fakeMemory{result: domain.RAGResult{SemanticChunks: []string{"x"}}}
	states := &fakeStates{
		active: map[domain.StateType][]domain.State{
			domain.StateGoal: {{ID: "goal-1", Desc: "ship the feature", VisitCount: 6}},
		},
	}
	opts := testOptions()
	opts.BoredomThreshold = 5
	m := New(opts, nil, mem, states, nil)

	m.Add(context.Background(), "user", "question")
	if _, err := m.Augment(context.Background(), "question", 5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	window := m.Window()
	found := false
	for _, msg := range window {
		if strings.Contains(msg.Content, "LOOP DETECTED") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected loop detected warning, got %+v", window)
	}
}

func TestWindow_IncludesPinnedHeader(t *testing.T) {
	m := New(testOptions(), nil, nil, nil, nil)
	h := m.Header()
	h.Goals = []string{"ship it"}
	m.UpdatePinnedHeader(h)

	window := m.Window()
	if len(window) != 1 || !strings.Contains(window[0].Content, "ship it") {
		t.Fatalf("expected pinned header message, got %+v", window)
	}
}

func TestReset_ClearsWorkingContextKeepsHeader(t *testing.T) {
	m := New(testOptions(), nil, nil, nil, nil)
	m.Add(context.Background(), "user", "hi")
	h := m.Header()
	h.Goals = []string{"x"}
	m.UpdatePinnedHeader(h)

	m.Reset()

	window := m.Window()
	if len(window) != 1 || !strings.Contains(window[0].Content, "Goals: x") {
		t.Fatalf("expected only the pinned header after reset, got %+v", window)
	}
}

func TestStats_ReportsPressurePercentage(t *testing.T) {
	m := New(testOptions(), nil, nil, nil, nil)
	m.Add(context.Background(), "user", "hello world")

	stats := m.Stats()
	if stats.MaxTokens != 40 {
		t.Fatalf("expected max tokens 40, got %d", stats.MaxTokens)
	}
	if stats.PressurePercentage <= 0 {
		t.Fatalf("expected nonzero pressure percentage, got %f", stats.PressurePercentage)
	}
}
