// Package guard implements the two loop-prevention mechanisms that wrap
// generation: the Echo Guard, which detects and regenerates near-duplicate
// LLM responses, and the Boredom Tracker's formatting helper, which flags
// state-memory entries that have been injected too many times in a row.
package guard

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/engine/llm"
)

// ResponseHistory stores and recalls recent response embeddings for
// similarity comparison, backed by engine/kv's sorted-set layout.
type ResponseHistory interface {
	PushResponseEmbedding(ctx context.Context, embedding []float32, historySize int) error
	RecentResponseEmbeddings(ctx context.Context, limit int64) ([][]float32, error)
}

// Embedder embeds a response for echo comparison.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures the Echo Guard's thresholds.
type Options struct {
	MaxRegenerationAttempts int
	SimilarityThreshold     float64
	ResponseHistorySize     int
	StripContextOnRetry     int // attempt number at/after which context overlays are stripped
}

// DefaultOptions mirrors the reference tunables.
func DefaultOptions() Options {
	return Options{
		MaxRegenerationAttempts: 3,
		SimilarityThreshold:     0.95,
		ResponseHistorySize:     10,
		StripContextOnRetry:     3,
	}
}

// Guard wraps an LLM client with empty-response retry and echo detection.
type Guard struct {
	client  llm.Client
	embed   Embedder
	history ResponseHistory
	opts    Options
}

// New creates a Guard.
func New(client llm.Client, embed Embedder, history ResponseHistory, opts Options) *Guard {
	return &Guard{client: client, embed: embed, history: history, opts: opts}
}

// Generate runs messages through the wrapped LLM, retrying on empty output
// and regenerating with an escalating overlay whenever the response echoes
// a recent one, up to MaxRegenerationAttempts.
func (g *Guard) Generate(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	attempt := 1
	current := messages

	for {
		resp, err := g.client.Generate(ctx, current, opts...)
		if err != nil {
			return "", fmt.Errorf("guard: generate: %w", err)
		}

		if strings.TrimSpace(resp) == "" {
			if attempt >= g.opts.MaxRegenerationAttempts {
				return "[ERROR] No response generated.", nil
			}
			current = append(current, llm.Message{
				Role:    "system",
				Content: "Your previous response was empty. Provide a substantive answer to the user's question.",
			})
			attempt++
			continue
		}

		isEcho, maxSim, err := g.checkEcho(ctx, resp)
		if err != nil || !isEcho {
			if err == nil && g.embed != nil {
				g.remember(ctx, resp)
			}
			return resp, nil
		}

		if attempt > g.opts.MaxRegenerationAttempts {
			if strings.TrimSpace(resp) == "" {
				return "[SYSTEM INTERVENTION] Unable to produce a new response; please rephrase your request.", nil
			}
			return "[REPEATED] " + resp, nil
		}

		if attempt >= g.opts.StripContextOnRetry {
			current = stripContextOverlays(current)
		}
		current = append(current, echoOverlay(attempt, resp, maxSim))
		attempt++
	}
}

// checkEcho embeds resp and compares it against the recent-response
// history, returning whether it is a near-duplicate and the maximum
// similarity observed.
func (g *Guard) checkEcho(ctx context.Context, resp string) (bool, float64, error) {
	if g.embed == nil || g.history == nil {
		return false, 0, nil
	}

	embedding, err := g.embed.Embed(ctx, resp)
	if err != nil {
		return false, 0, fmt.Errorf("guard: embed response: %w", err)
	}

	recent, err := g.history.RecentResponseEmbeddings(ctx, int64(g.opts.ResponseHistorySize))
	if err != nil {
		return false, 0, fmt.Errorf("guard: recent embeddings: %w", err)
	}

	maxSim := 0.0
	for _, stored := range recent {
		sim := cosineSimilarity(embedding, stored)
		if sim > maxSim {
			maxSim = sim
		}
	}
	return maxSim >= g.opts.SimilarityThreshold, maxSim, nil
}

func (g *Guard) remember(ctx context.Context, resp string) {
	if g.embed == nil || g.history == nil {
		return
	}
	embedding, err := g.embed.Embed(ctx, resp)
	if err != nil {
		return
	}
	_ = g.history.PushResponseEmbedding(ctx, embedding, g.opts.ResponseHistorySize)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

const threeAlternateStrategies = "Consider: (1) asking a clarifying question, (2) proposing a concrete next step, or (3) summarizing what's been established so far."

const threeCannedAnswers = `Choose one of: "Let's clarify the goal before continuing.", "Here is a concrete next step: ...", "To summarize where we are: ..."`

// echoOverlay builds the escalating system message appended before
// regeneration, per attempt number.
func echoOverlay(attempt int, prior string, similarity float64) llm.Message {
	preview := prior
	if len(preview) > 200 {
		preview = preview[:200]
	}

	switch {
	case attempt == 1:
		return llm.Message{
			Role: "system",
			Content: fmt.Sprintf(
				"Your response is very similar (%.2f) to a recent one:\n\n%q\n\nPlease respond differently. %s",
				similarity, preview, threeAlternateStrategies,
			),
		}
	case attempt == 2:
		return llm.Message{
			Role: "system",
			Content: fmt.Sprintf(
				"STOP REPEATING YOURSELF. Your response matched a prior one at similarity %.2f. %s",
				similarity, threeCannedAnswers,
			),
		}
	default:
		return llm.Message{
			Role:    "system",
			Content: "EMERGENCY OVERRIDE: all prior context has been cleared. Answer the user's last message directly, in your own words, with no reference to earlier turns.",
		}
	}
}

// stripContextOverlays removes retrieved-knowledge and state-memory system
// messages from the window, used on the final regeneration attempt when
// the model appears stuck echoing context rather than reasoning fresh.
func stripContextOverlays(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" && (strings.Contains(m.Content, "RETRIEVED KNOWLEDGE") || strings.Contains(m.Content, "STATE MEMORY")) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FormatStateSection formats a [STATE MEMORY] section, prepending a
// "⚠️ LOOP DETECTED" notice when any of the given states has exceeded the
// boredom threshold. alternativeCount controls how many alternate topics
// the notice suggests drawing from the remaining states.
func FormatStateSection(body string, states []domain.State, boredomThreshold, alternativeCount int) string {
	var bored []domain.State
	for _, s := range states {
		if s.VisitCount > boredomThreshold {
			bored = append(bored, s)
		}
	}
	if len(bored) == 0 {
		return body
	}

	var alternatives []string
	for _, s := range states {
		if s.VisitCount <= boredomThreshold {
			alternatives = append(alternatives, s.Desc)
			if len(alternatives) >= alternativeCount {
				break
			}
		}
	}

	var notice strings.Builder
	notice.WriteString("⚠️ LOOP DETECTED: the following have been repeatedly revisited without progress: ")
	descs := make([]string, len(bored))
	for i, s := range bored {
		descs[i] = s.Desc
	}
	notice.WriteString(strings.Join(descs, ", "))
	if len(alternatives) > 0 {
		notice.WriteString(". Consider instead: ")
		notice.WriteString(strings.Join(alternatives, ", "))
	}
	notice.WriteString("\n\n")

	return notice.String() + body
}
