// Package retrieve implements hybrid retrieval: an intent-gated vector scan
// over the Vector Index followed by graph expansion and synthesis into the
// blocks the Context Manager injects ahead of generation.
package retrieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/engine/graph"
	"github.com/elevend0g/vicw/engine/semantic"
)

// IntentClassifier classifies a query for domain-filter gating.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, query string) string
}

// Embedder embeds query text for the vector scan.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the narrow slice of the Vector Index the Retriever uses.
type VectorSearcher interface {
	SearchWithFilter(ctx context.Context, embedding []float32, topK int, filter *pb.Filter, scoreFloor float32) ([]semantic.SearchResult, error)
}

// GraphExpander is the narrow slice of the Graph Store the Retriever uses.
type GraphExpander interface {
	ExpandMetaphysicalContext(ctx context.Context, uids []string) (graph.ExpandedContext, error)
}

// domainForIntent maps a classified intent to the vector-scan domain filter
// it admits, alongside "general". Intents without a mapping (e.g. general
// itself) get no filter at all.
var domainForIntent = map[string]string{
	"coding":   "coding",
	"creative": "story",
}

// ScoreFloor is the default minimum cosine similarity a vector-scan hit
// must clear to survive into graph expansion.
const DefaultScoreFloor = 0.4

// Retriever runs the four-phase hybrid retrieval pass: intent
// classification, vector scan, graph expansion, synthesis.
type Retriever struct {
	intent     IntentClassifier
	embed      Embedder
	vectors    VectorSearcher
	graphStore GraphExpander
	scoreFloor float32
}

// New creates a Retriever.
func New(intent IntentClassifier, embed Embedder, vectors VectorSearcher, graphStore GraphExpander) *Retriever {
	return &Retriever{intent: intent, embed: embed, vectors: vectors, graphStore: graphStore, scoreFloor: DefaultScoreFloor}
}

// WithScoreFloor overrides the default vector-scan score floor.
func (r *Retriever) WithScoreFloor(floor float32) *Retriever {
	r.scoreFloor = floor
	return r
}

// Retrieve runs the hybrid retrieval pass and returns the combined result
// the Context Manager's MemoryAugmenter contract expects.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, topKSemantic, topKRelational int) (domain.RAGResult, error) {
	start := time.Now()

	intent := r.intent.ClassifyIntent(ctx, queryText)

	embedding, err := r.embed.Embed(ctx, queryText)
	if err != nil {
		return domain.RAGResult{}, fmt.Errorf("retrieve: embed query: %w", err)
	}

	var filter *pb.Filter
	if mapped, ok := domainForIntent[intent]; ok {
		filter = semantic.DomainFilter(mapped)
	}

	hits, err := r.vectors.SearchWithFilter(ctx, embedding, topKSemantic, filter, r.scoreFloor)
	if err != nil {
		return domain.RAGResult{}, fmt.Errorf("retrieve: vector scan: %w", err)
	}

	var chunks []string
	var nodeIDs []string
	for _, h := range hits {
		if h.Content != "" {
			chunks = append(chunks, h.Content)
		}
		if nodeID := h.Meta["node_id"]; nodeID != "" {
			nodeIDs = append(nodeIDs, nodeID)
		}
	}

	facts := r.expandAndSynthesize(ctx, nodeIDs, topKRelational)

	return domain.RAGResult{
		SemanticChunks:  chunks,
		RelationalFacts: facts,
		RetrievalTimeMS: float64(time.Since(start).Milliseconds()),
	}, nil
}

// expandAndSynthesize expands each surviving node_id independently (so each
// node's relationships stay attributed to it) and formats the combined
// result, capped at limit entries.
func (r *Retriever) expandAndSynthesize(ctx context.Context, nodeIDs []string, limit int) []string {
	var facts []string
	for _, uid := range nodeIDs {
		if len(facts) >= limit {
			break
		}
		expanded, err := r.graphStore.ExpandMetaphysicalContext(ctx, []string{uid})
		if err != nil || len(expanded.Seeds) == 0 {
			continue
		}
		facts = append(facts, synthesizeNode(expanded)...)
	}
	if len(facts) > limit {
		facts = facts[:limit]
	}
	return facts
}

// synthesizeNode formats a single expanded seed node as
// "[Type: Name] description" followed by indented relationship lines.
func synthesizeNode(expanded graph.ExpandedContext) []string {
	var out []string
	for _, seed := range expanded.Seeds {
		name, _ := seed["name"].(string)
		subtype, _ := seed["subtype"].(string)
		description, _ := seed["description"].(string)
		if name == "" {
			continue
		}
		if subtype == "" {
			subtype = "Node"
		}

		var b strings.Builder
		fmt.Fprintf(&b, "[%s: %s] %s", subtype, name, description)

		for _, c := range expanded.Caused {
			fmt.Fprintf(&b, "\n  CAUSED -> %s", c.Name)
		}
		for _, i := range expanded.InitiatedBy {
			fmt.Fprintf(&b, "\n  INITIATED BY <- %s", i.Name)
		}
		for _, n := range expanded.Next {
			fmt.Fprintf(&b, "\n  NEXT -> %s", n.Name)
		}
		out = append(out, b.String())
	}
	return out
}
