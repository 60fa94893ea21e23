package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/elevend0g/vicw/engine/graph"
	"github.com/elevend0g/vicw/engine/semantic"
)

type stubIntent struct {
	intent string
}

func (s *stubIntent) ClassifyIntent(ctx context.Context, query string) string {
	return s.intent
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type stubVectors struct {
	results    []semantic.SearchResult
	err        error
	gotFilter  *pb.Filter
	gotFloor   float32
	filterSeen bool
}

func (s *stubVectors) SearchWithFilter(ctx context.Context, embedding []float32, topK int, filter *pb.Filter, scoreFloor float32) ([]semantic.SearchResult, error) {
	s.gotFilter = filter
	s.gotFloor = scoreFloor
	s.filterSeen = true
	return s.results, s.err
}

type stubGraph struct {
	byUID map[string]graph.ExpandedContext
	err   error
}

func (s *stubGraph) ExpandMetaphysicalContext(ctx context.Context, uids []string) (graph.ExpandedContext, error) {
	if s.err != nil {
		return graph.ExpandedContext{}, s.err
	}
	if len(uids) == 0 {
		return graph.ExpandedContext{}, nil
	}
	return s.byUID[uids[0]], nil
}

func TestRetrieve_GeneralIntentUsesNoFilter(t *testing.T) {
	intent := &stubIntent{intent: "general"}
	embed := &stubEmbedder{vec: []float32{1, 0, 0}}
	vectors := &stubVectors{results: []semantic.SearchResult{
		{Content: "hello", Meta: map[string]string{"node_id": "n1"}},
	}}
	gs := &stubGraph{byUID: map[string]graph.ExpandedContext{}}

	r := New(intent, embed, vectors, gs)
	res, err := r.Retrieve(context.Background(), "what's up", 5, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors.gotFilter != nil {
		t.Fatalf("expected no filter for general intent, got %+v", vectors.gotFilter)
	}
	if len(res.SemanticChunks) != 1 || res.SemanticChunks[0] != "hello" {
		t.Fatalf("unexpected chunks: %+v", res.SemanticChunks)
	}
}

func TestRetrieve_CodingIntentBuildsDomainFilter(t *testing.T) {
	intent := &stubIntent{intent: "coding"}
	embed := &stubEmbedder{vec: []float32{1, 0, 0}}
	vectors := &stubVectors{}
	gs := &stubGraph{}

	r := New(intent, embed, vectors, gs)
	if _, err := r.Retrieve(context.Background(), "fix this bug", 5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors.gotFilter == nil || len(vectors.gotFilter.Should) != 2 {
		t.Fatalf("expected domain-OR-general filter, got %+v", vectors.gotFilter)
	}
}

func TestRetrieve_PassesScoreFloor(t *testing.T) {
	intent := &stubIntent{intent: "general"}
	embed := &stubEmbedder{vec: []float32{1, 0, 0}}
	vectors := &stubVectors{}
	gs := &stubGraph{}

	r := New(intent, embed, vectors, gs)
	if _, err := r.Retrieve(context.Background(), "q", 5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors.gotFloor != DefaultScoreFloor {
		t.Fatalf("expected score floor %v, got %v", DefaultScoreFloor, vectors.gotFloor)
	}
}

func TestRetrieve_EmbedErrorPropagates(t *testing.T) {
	intent := &stubIntent{intent: "general"}
	embed := &stubEmbedder{err: errors.New("boom")}
	vectors := &stubVectors{}
	gs := &stubGraph{}

	r := New(intent, embed, vectors, gs)
	if _, err := r.Retrieve(context.Background(), "q", 5, 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetrieve_SynthesizesRelationalFacts(t *testing.T) {
	intent := &stubIntent{intent: "general"}
	embed := &stubEmbedder{vec: []float32{1, 0, 0}}
	vectors := &stubVectors{results: []semantic.SearchResult{
		{Content: "deployed the service", Meta: map[string]string{"node_id": "e1"}},
	}}
	gs := &stubGraph{byUID: map[string]graph.ExpandedContext{
		"e1": {
			Seeds:       []map[string]any{{"name": "deployed service", "subtype": "Event", "description": "rolled out v2"}},
			Caused:      []graph.RelatedNode{{Name: "outage"}},
			InitiatedBy: []graph.RelatedNode{{Name: "on-call engineer"}},
			Next:        []graph.RelatedNode{{Name: "rollback"}},
		},
	}}

	r := New(intent, embed, vectors, gs)
	res, err := r.Retrieve(context.Background(), "what happened", 5, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.RelationalFacts) != 1 {
		t.Fatalf("expected 1 relational fact, got %d: %+v", len(res.RelationalFacts), res.RelationalFacts)
	}
	fact := res.RelationalFacts[0]
	if !strings.HasPrefix(fact, "[Event: deployed service] rolled out v2") {
		t.Fatalf("unexpected fact header: %q", fact)
	}
	if !strings.Contains(fact, "CAUSED -> outage") {
		t.Fatalf("expected CAUSED line, got %q", fact)
	}
	if !strings.Contains(fact, "INITIATED BY <- on-call engineer") {
		t.Fatalf("expected INITIATED BY line, got %q", fact)
	}
	if !strings.Contains(fact, "NEXT -> rollback") {
		t.Fatalf("expected NEXT line, got %q", fact)
	}
}

func TestRetrieve_GraphExpansionErrorSkipsNode(t *testing.T) {
	intent := &stubIntent{intent: "general"}
	embed := &stubEmbedder{vec: []float32{1, 0, 0}}
	vectors := &stubVectors{results: []semantic.SearchResult{
		{Content: "x", Meta: map[string]string{"node_id": "e1"}},
	}}
	gs := &stubGraph{err: errors.New("graph down")}

	r := New(intent, embed, vectors, gs)
	res, err := r.Retrieve(context.Background(), "q", 5, 5)
	if err != nil {
		t.Fatalf("expected retrieval to degrade gracefully, got error: %v", err)
	}
	if len(res.RelationalFacts) != 0 {
		t.Fatalf("expected no relational facts, got %+v", res.RelationalFacts)
	}
	if len(res.SemanticChunks) != 1 {
		t.Fatalf("expected semantic chunks to survive graph failure, got %+v", res.SemanticChunks)
	}
}

func TestRetrieve_CapsRelationalFactsAtLimit(t *testing.T) {
	intent := &stubIntent{intent: "general"}
	embed := &stubEmbedder{vec: []float32{1, 0, 0}}
	vectors := &stubVectors{results: []semantic.SearchResult{
		{Content: "a", Meta: map[string]string{"node_id": "e1"}},
		{Content: "b", Meta: map[string]string{"node_id": "e2"}},
	}}
	gs := &stubGraph{byUID: map[string]graph.ExpandedContext{
		"e1": {Seeds: []map[string]any{{"name": "first", "subtype": "Event"}}},
		"e2": {Seeds: []map[string]any{{"name": "second", "subtype": "Event"}}},
	}}

	r := New(intent, embed, vectors, gs)
	res, err := r.Retrieve(context.Background(), "q", 5, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.RelationalFacts) != 1 {
		t.Fatalf("expected facts capped at 1, got %d", len(res.RelationalFacts))
	}
}
