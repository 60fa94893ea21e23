package ingest

import "strings"

// DefaultFlowID is the flow identifier used when an offload job's metadata
// carries no thread_id, matching a single undifferentiated conversation flow.
const DefaultFlowID = "default_flow"

// DefaultDomain is the domain assumed when an offload job's metadata
// carries no explicit domain.
const DefaultDomain = "general"

// chunkSnippetLen is how much of a job's chunk text is stored verbatim on
// its Chunk node; the rest lives only as embeddings and extracted nodes.
const chunkSnippetLen = 200

// snippet truncates s to chunkSnippetLen runes, appending an ellipsis.
func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= chunkSnippetLen {
		return s + "..."
	}
	return string(runes[:chunkSnippetLen]) + "..."
}

// extractiveSummaryMaxLen bounds the extractive summary persisted to the
// KV store alongside the raw chunk.
const extractiveSummaryMaxLen = 500

// extractiveSummary produces a cheap, CPU-bound summary without calling an
// LLM: short text passes through unchanged; longer text keeps its first and
// last three lines (or all of it, if there are six lines or fewer),
// capped at extractiveSummaryMaxLen.
func extractiveSummary(text string) string {
	if len(text) < 100 {
		return text
	}

	lines := strings.Split(text, "\n")
	var summary string
	if len(lines) <= 6 {
		summary = text
	} else {
		summary = strings.Join(lines[:3], "\n") + "\n[...]\n" + strings.Join(lines[len(lines)-3:], "\n")
	}

	if len(summary) > extractiveSummaryMaxLen {
		summary = summary[:extractiveSummaryMaxLen] + "..."
	}
	return summary
}

// contextualWrapper builds the text actually embedded for a node: its
// domain, type and name folded into the description so the embedding
// carries more than bare prose.
func contextualWrapper(domain, subtype, name, content string) string {
	return "[Domain: " + domain + "] [Type: " + subtype + "] [Name: " + name + "] " + content
}
