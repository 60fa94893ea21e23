// Package graph provides Neo4j knowledge graph operations over the
// Metaphysical Schema: Context/Entity/Event/Concept/Chunk/MacroEvent nodes
// linked by BELONGS_TO/MENTIONS/INITIATED/CAUSED/NEXT/CONSOLIDATED_INTO edges.
package graph

import "time"

// Node labels recognised by the Metaphysical Schema. CreateRelationship
// rejects any label outside this set, guarding against label injection from
// extractor output.
const (
	LabelContext    = "Context"
	LabelEntity     = "Entity"
	LabelEvent      = "Event"
	LabelConcept    = "Concept"
	LabelChunk      = "Chunk"
	LabelMacroEvent = "MacroEvent"
)

var validLabels = map[string]bool{
	LabelContext: true, LabelEntity: true, LabelEvent: true,
	LabelConcept: true, LabelChunk: true, LabelMacroEvent: true,
}

// Edge types recognised by the Metaphysical Schema.
const (
	EdgeBelongsTo        = "BELONGS_TO"
	EdgeMentions         = "MENTIONS"
	EdgeInitiated        = "INITIATED"
	EdgeCaused           = "CAUSED"
	EdgeNext             = "NEXT"
	EdgeConsolidatedInto = "CONSOLIDATED_INTO"
)

// Context is the root node for a domain (e.g. "Python Project Alpha").
type Context struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entity is a noun: an object, person, variable, file, or place.
type Entity struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Subtype     string    `json:"subtype"`
	Domain      string    `json:"domain"`
	QdrantID    string    `json:"qdrant_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is an action: something that happens at a point in time, part of a
// logical flow ordered by FlowStep.
type Event struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Subtype     string    `json:"subtype"`
	Domain      string    `json:"domain"`
	Timestamp   time.Time `json:"timestamp"`
	FlowID      string    `json:"flow_id"`
	FlowStep    int       `json:"flow_step"`
	QdrantID    string    `json:"qdrant_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Concept is an abstract idea: a genre, design pattern, or emotion.
type Concept struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Subtype     string    `json:"subtype"`
	Domain      string    `json:"domain"`
	QdrantID    string    `json:"qdrant_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is the raw text snippet or file source backing a node — the proof.
type Chunk struct {
	UID        string    `json:"uid"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Domain     string    `json:"domain"`
	TokenCount int       `json:"token_count"`
	QdrantID   string    `json:"qdrant_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MacroEvent groups aged Events into a consolidated summary node, produced
// by the Sleep Cycle.
type MacroEvent struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	Summary   string    `json:"summary"`
	FlowID    string    `json:"flow_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship is an edge between two Metaphysical Schema nodes.
type Relationship struct {
	StartUID  string
	StartType string
	EndUID    string
	EndType   string
	Type      string
	Props     map[string]any
}

// ExpandedContext is the result of a graph-expansion query around a set of
// seed node UIDs: the seed nodes plus their causal/initiating/sequential
// neighbours.
type ExpandedContext struct {
	Seeds       []map[string]any
	Caused      []RelatedNode // outgoing CAUSED — direct consequences
	InitiatedBy []RelatedNode // incoming INITIATED — agents/causes
	Next        []RelatedNode // outgoing NEXT — next steps
}

// RelatedNode is a neighbour surfaced by graph expansion.
type RelatedNode struct {
	Name    string
	Subtype string
}
