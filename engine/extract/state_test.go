package extract

import (
	"testing"

	"github.com/elevend0g/vicw/engine/domain"
)

func TestExtractStates_Goal(t *testing.T) {
	states := ExtractStates("My goal is to ship the memory engine by Friday.")
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d: %+v", len(states), states)
	}
	if states[0].Type != domain.StateGoal || states[0].Status != domain.StateActive {
		t.Fatalf("unexpected state: %+v", states[0])
	}
}

func TestExtractStates_Completion(t *testing.T) {
	states := ExtractStates("I finished writing the extractor tests.")
	if len(states) != 1 || states[0].Status != domain.StateCompleted {
		t.Fatalf("expected completed task, got %+v", states)
	}
}

func TestExtractStates_Invalidation(t *testing.T) {
	states := ExtractStates("I decided to use Redis. Actually, let's not use Redis after all.")
	var sawDecision, sawInvalid bool
	for _, s := range states {
		if s.Type == domain.StateDecision && s.Status == domain.StateActive {
			sawDecision = true
		}
		if s.Type == domain.StateDecision && s.Status == domain.StateInvalid {
			sawInvalid = true
		}
	}
	if !sawDecision || !sawInvalid {
		t.Fatalf("expected both an active and invalidated decision, got %+v", states)
	}
}

func TestExtractStates_Deduplicates(t *testing.T) {
	states := ExtractStates("I will ship the feature. I will ship the feature.")
	count := 0
	for _, s := range states {
		if s.Desc == "ship the feature" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected deduplication, got %d matches", count)
	}
}

func TestExtractStates_Empty(t *testing.T) {
	if states := ExtractStates(""); states != nil {
		t.Fatalf("expected nil for empty text, got %+v", states)
	}
}

func TestExtractStates_NoMatch(t *testing.T) {
	states := ExtractStates("The weather is nice today.")
	if len(states) != 0 {
		t.Fatalf("expected no states, got %+v", states)
	}
}
