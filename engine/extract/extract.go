// Package extract turns conversation text into Metaphysical Schema
// fragments (entities, events) via an LLM with a strict JSON contract and a
// multi-strategy parsing cascade, and provides the sibling Summarize and
// ClassifyIntent operations used by the Sleep Cycle and the Retriever.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elevend0g/vicw/engine/llm"
	"github.com/elevend0g/vicw/pkg/resilience"
)

// Entity is a noun extracted from a chunk of text.
type Entity struct {
	Name        string `json:"name"`
	Subtype     string `json:"subtype"`
	Description string `json:"description"`
}

// Event is an action extracted from a chunk of text, with optional causal
// links back to entities and forward to the next event in sequence.
type Event struct {
	Name        string   `json:"name"`
	Subtype     string   `json:"subtype"`
	Description string   `json:"description"`
	CausedBy    []string `json:"caused_by"`
	NextEvent   *string  `json:"next_event"`
}

// Result is the normalized output of a single extraction call.
type Result struct {
	Entities []Entity `json:"entities"`
	Events   []Event  `json:"events"`
}

// Extractor wraps an LLM client with the extraction/summarize/classify
// contract. Constructed once at startup and shared by reference with the
// Ingestion Worker and the Retriever — no package-level singleton.
type Extractor struct {
	client  llm.Client
	breaker *resilience.Breaker
}

// New creates an Extractor backed by the given chat client, guarded by a
// circuit breaker so a failing LLM backend degrades gracefully instead of
// stalling every ingestion job.
func New(client llm.Client, breaker *resilience.Breaker) *Extractor {
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return &Extractor{client: client, breaker: breaker}
}

const extractionSystemPrompt = `You extract structured facts from text for a knowledge graph.
Return ONLY a JSON object with this exact shape, no prose, no markdown fences:
{"entities":[{"name":"","subtype":"","description":""}],"events":[{"name":"","subtype":"","description":"","caused_by":[],"next_event":null}]}
Entities are nouns (people, objects, places, variables, files). Events are actions that happen at a point in time.
caused_by lists the names of entities that caused the event, if any. next_event names the event that follows, if known.
If nothing is found, return {"entities":[],"events":[]}.`

// Extract calls the LLM to obtain entities and events from a chunk of
// text, parses the response through a cascade of strategies, and returns a
// normalized Result. Output that no parse strategy recovers yields an
// empty Result with a nil error; a failed LLM call is returned as an error.
func (e *Extractor) Extract(ctx context.Context, text, domain string) (Result, error) {
	messages := []llm.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Domain: %s\n\nText:\n%s", domain, text)},
	}

	var raw string
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = e.client.Generate(ctx, messages,
			llm.WithTemperature(0.1), llm.WithMaxTokens(1024), llm.WithJSONMode())
		return callErr
	})
	if err != nil {
		return Result{}, fmt.Errorf("extract: llm call: %w", err)
	}

	parsed, ok := parseCascade(raw)
	if !ok {
		return Result{}, nil
	}
	return normalize(parsed), nil
}

// rawResult mirrors Result but tolerates loosely-typed fields coming out of
// the cascade parser before normalize() coerces them.
type rawResult struct {
	Entities []map[string]any `json:"entities"`
	Events   []map[string]any `json:"events"`
}

// parseCascade tries progressively more forgiving strategies to recover a
// JSON object from LLM output, short-circuiting on first success. It never
// panics or uses exceptions for control flow — each step returns ok=false
// on failure and falls through to the next.
func parseCascade(raw string) (rawResult, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return rawResult{}, false
	}

	// 1. Parse raw as JSON.
	if r, ok := tryParse(trimmed); ok {
		return r, true
	}

	// 2. Strip fenced-code markers and re-parse.
	if stripped, ok := stripFence(trimmed); ok {
		if r, ok := tryParse(stripped); ok {
			return r, true
		}
	}

	// 3. Extract the first balanced {...} substring.
	if balanced, ok := firstBalancedObject(trimmed); ok {
		if r, ok := tryParse(balanced); ok {
			return r, true
		}
	}

	// 4. Text starting with prose/markdown (not `{`) is treated as failure.
	return rawResult{}, false
}

func tryParse(s string) (rawResult, bool) {
	var r rawResult
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return rawResult{}, false
	}
	return r, true
}

func stripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	lines := strings.SplitN(s, "\n", 2)
	if len(lines) < 2 {
		return "", false
	}
	body := lines[1]
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body), true
}

func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func normalize(r rawResult) Result {
	out := Result{
		Entities: make([]Entity, 0, len(r.Entities)),
		Events:   make([]Event, 0, len(r.Events)),
	}

	for _, m := range r.Entities {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		subtype := asString(m["subtype"])
		if subtype == "" {
			subtype = "Entity"
		}
		out.Entities = append(out.Entities, Entity{
			Name: name, Subtype: subtype, Description: asString(m["description"]),
		})
	}

	for _, m := range r.Events {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		subtype := asString(m["subtype"])
		if subtype == "" {
			subtype = "Event"
		}
		ev := Event{
			Name: name, Subtype: subtype, Description: asString(m["description"]),
			CausedBy: asStringSlice(m["caused_by"]),
		}
		if next := asString(m["next_event"]); next != "" {
			ev.NextEvent = &next
		}
		out.Events = append(out.Events, ev)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Summarize produces a short summary of a batch of texts, used by the
// Sleep Cycle to describe a consolidated MacroEvent. Falls back to a
// canned description if the LLM call fails.
func (e *Extractor) Summarize(ctx context.Context, texts []string) (string, error) {
	combined := strings.Join(texts, "\n")
	messages := []llm.Message{
		{Role: "user", Content: "Summarize these events into a single description:\n" + combined},
	}

	var summary string
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		summary, callErr = e.client.Generate(ctx, messages, llm.WithTemperature(0.3), llm.WithMaxTokens(256))
		return callErr
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		return fmt.Sprintf("Consolidated sequence of %d events.", len(texts)), nil
	}
	return summary, nil
}

// Intent classifications recognised by the Retriever's domain filter.
const (
	IntentCoding   = "coding"
	IntentCreative = "creative"
	IntentGeneral  = "general"
)

var codingKeywords = []string{"code", "function", "bug", "error", "compile", "api", "variable", "script", "class", "debug"}
var creativeKeywords = []string{"story", "poem", "character", "plot", "write a", "imagine", "fiction", "scene"}

// ClassifyIntent classifies a query into coding/creative/general, used to
// build the Retriever's domain filter. Falls through an LLM call, a
// keyword-based heuristic, and finally defaults to general.
func (e *Extractor) ClassifyIntent(ctx context.Context, query string) string {
	messages := []llm.Message{
		{Role: "user", Content: fmt.Sprintf(
			`Classify the intent of this query into one of: ["coding", "creative", "general"].
Query: %s
Return JSON: {"intent": "..."}`, query)},
	}

	var raw string
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = e.client.Generate(ctx, messages, llm.WithTemperature(0.0), llm.WithMaxTokens(32), llm.WithJSONMode())
		return callErr
	})
	if err == nil {
		if parsed, ok := parseIntentJSON(raw); ok {
			return parsed
		}
	}

	return classifyByKeyword(query)
}

func parseIntentJSON(raw string) (string, bool) {
	var payload struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return "", false
	}
	intent := strings.ToLower(strings.TrimSpace(payload.Intent))
	switch intent {
	case IntentCoding, IntentCreative, IntentGeneral:
		return intent, true
	default:
		return "", false
	}
}

func classifyByKeyword(query string) string {
	lower := strings.ToLower(query)
	for _, kw := range codingKeywords {
		if strings.Contains(lower, kw) {
			return IntentCoding
		}
	}
	for _, kw := range creativeKeywords {
		if strings.Contains(lower, kw) {
			return IntentCreative
		}
	}
	return IntentGeneral
}
