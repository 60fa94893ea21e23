// Package domain defines the core message/state types shared across the
// memory engine and the validation gate guarding pipeline entry points.
package domain

import "time"

// Message is a single turn in the working context.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"token_count"`
}

// Plan is the current step/blockers tracked in the pinned header.
type Plan struct {
	StepID   string   `json:"step_id"`
	Next     string   `json:"next,omitempty"`
	Blockers []string `json:"blockers,omitempty"`
}

// PinnedHeader is persistent context that is never offloaded.
type PinnedHeader struct {
	Goals           []string          `json:"goals,omitempty"`
	Constraints     []string          `json:"constraints,omitempty"`
	Definitions     map[string]string `json:"definitions,omitempty"`
	Plan            Plan              `json:"plan"`
	ActiveEntities  []string          `json:"active_entities,omitempty"`
	ActiveArtifacts []string          `json:"active_artifacts,omitempty"`
}

// NewPinnedHeader returns a PinnedHeader with an initialized plan.
func NewPinnedHeader() PinnedHeader {
	return PinnedHeader{
		Definitions: make(map[string]string),
		Plan:        Plan{StepID: "init"},
	}
}

// OffloadJob is a chunk of extracted context queued for cold-path processing.
type OffloadJob struct {
	JobID        string            `json:"job_id"`
	ChunkText    string            `json:"chunk_text"`
	Metadata     map[string]string `json:"metadata"`
	Timestamp    time.Time         `json:"timestamp"`
	TokenCount   int               `json:"token_count"`
	MessageCount int               `json:"message_count"`
	Embedding    []float32         `json:"embedding,omitempty"`
	Summary      string            `json:"summary,omitempty"`
}

// OffloadResult is the outcome of processing an OffloadJob through ingestion.
type OffloadResult struct {
	JobID     string    `json:"job_id"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// RAGResult is the combined output of a hybrid retrieval pass.
type RAGResult struct {
	SemanticChunks   []string `json:"semantic_chunks"`
	RelationalFacts  []string `json:"relational_facts"`
	RetrievalTimeMS  float64  `json:"retrieval_time_ms"`
}

// TotalItems returns the combined count of retrieved items.
func (r RAGResult) TotalItems() int {
	return len(r.SemanticChunks) + len(r.RelationalFacts)
}

// IsEmpty reports whether the retrieval surfaced nothing.
func (r RAGResult) IsEmpty() bool {
	return r.TotalItems() == 0
}

// StateType enumerates the recognised loop-prevention state categories.
type StateType string

const (
	StateGoal     StateType = "goal"
	StateTask     StateType = "task"
	StateDecision StateType = "decision"
	StateFact     StateType = "fact"
)

// ValidStateTypes is the set of recognised state categories.
var ValidStateTypes = map[StateType]bool{
	StateGoal: true, StateTask: true, StateDecision: true, StateFact: true,
}

// StateStatus enumerates the lifecycle of a tracked state.
type StateStatus string

const (
	StateActive    StateStatus = "active"
	StateCompleted StateStatus = "completed"
	StateInvalid   StateStatus = "invalid"
)

// State is a minimal loop-prevention record: a goal, task, decision or fact
// whose repeated injection into context is tracked via VisitCount.
type State struct {
	ID          string      `json:"id"`
	Type        StateType   `json:"type"`
	Desc        string      `json:"desc"`
	Status      StateStatus `json:"status"`
	Created     time.Time   `json:"created"`
	Updated     time.Time   `json:"updated"`
	VisitCount  int         `json:"visit_count"`
	LastVisited time.Time   `json:"last_visited"`
}
