package extract

import (
	"regexp"
	"strings"

	"github.com/elevend0g/vicw/engine/domain"
)

// patternGroup holds the trigger phrases that signal a state's creation,
// completion, or invalidation within a sentence.
type patternGroup struct {
	create     []string
	complete   []string
	invalidate []string
}

// defaultStatePatterns holds the trigger-phrase config, inlined here as
// sensible defaults per state type rather than loaded from an external file.
var defaultStatePatterns = map[domain.StateType]patternGroup{
	domain.StateGoal: {
		create:   []string{"my goal is to", "i want to", "i need to", "the goal is to"},
		complete: []string{"i achieved", "goal accomplished", "i've completed the goal"},
	},
	domain.StateTask: {
		create:   []string{"i will", "let's", "next i'll", "i'm going to"},
		complete: []string{"i finished", "done with", "completed the task", "i've finished"},
	},
	domain.StateDecision: {
		create:   []string{"i decided to", "we decided to", "the decision is to"},
		invalidate: []string{"i changed my mind", "on second thought", "actually, let's not"},
	},
	domain.StateFact: {
		create: []string{"note that", "for reference,", "remember that", "fyi,"},
	},
}

// sentenceSplit is a simple punctuation-based sentence splitter.
var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

var leadingConnector = regexp.MustCompile(`(?i)^(to|that|the|a|an)\s+`)
var splitOnPunct = regexp.MustCompile(`[,;.!?]`)

var skipWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "if": true, "then": true, "we": true, "i": true, "you": true,
}

// ExtractedState is a candidate state found by pattern matching, prior to
// being assigned an ID and persisted.
type ExtractedState struct {
	Type   domain.StateType
	Desc   string
	Status domain.StateStatus
}

// ExtractStates scans text for goal/task/decision/fact patterns, returning
// deduplicated candidates. This is a cheap, LLM-free pass distinct from
// Extract's entity/event extraction. Nothing in this module calls it: the
// Context Manager's state message reads states from the graph.
func ExtractStates(text string) []ExtractedState {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []ExtractedState
	seen := make(map[string]bool)

	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)

		for stateType, patterns := range defaultStatePatterns {
			if tryMatch(sentence, lower, patterns.complete, stateType, domain.StateCompleted, seen, &out) {
				continue
			}
			if tryMatch(sentence, lower, patterns.invalidate, stateType, domain.StateInvalid, seen, &out) {
				continue
			}
			tryMatch(sentence, lower, patterns.create, stateType, domain.StateActive, seen, &out)
		}
	}
	return out
}

func tryMatch(sentence, lower string, patterns []string, stateType domain.StateType, status domain.StateStatus, seen map[string]bool, out *[]ExtractedState) bool {
	for _, p := range patterns {
		if !strings.Contains(lower, p) {
			continue
		}
		desc := extractDescription(sentence, p)
		if desc == "" || seen[desc] {
			continue
		}
		seen[desc] = true
		*out = append(*out, ExtractedState{Type: stateType, Desc: desc, Status: status})
		return true
	}
	return false
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func extractDescription(sentence, pattern string) string {
	lower := strings.ToLower(sentence)
	idx := strings.Index(lower, pattern)
	if idx == -1 {
		return ""
	}

	after := strings.TrimSpace(sentence[idx+len(pattern):])
	after = leadingConnector.ReplaceAllString(after, "")

	desc := splitOnPunct.Split(after, 2)[0]
	desc = strings.ToLower(strings.Join(strings.Fields(desc), " "))

	if len(desc) < 3 || len(desc) > 100 {
		return ""
	}
	if skipWords[desc] {
		return ""
	}
	return desc
}
