// Package context manages the hot path working context: a bounded window
// of messages that triggers deterministic pressure relief when it grows
// too large, and that can be augmented with retrieved memory and tracked
// state ahead of generation. It is the synchronous half of the memory
// engine — the Offload Queue and Ingestion Worker handle what this
// package sheds, off the hot path.
package context

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/engine/guard"
)

// Enqueuer accepts an offload job without blocking the hot path.
type Enqueuer interface {
	Enqueue(job domain.OffloadJob)
}

// MemoryAugmenter performs hybrid retrieval over ingested memory, used to
// inject relevant context ahead of generation.
type MemoryAugmenter interface {
	Retrieve(ctx context.Context, queryText string, topKSemantic, topKRelational int) (domain.RAGResult, error)
}

// StateRepo reads tracked loop-prevention states for the state-memory
// message built alongside RAG injection.
type StateRepo interface {
	GetActiveStates(ctx context.Context, stateType domain.StateType, limit int) ([]domain.State, error)
	GetCompletedStates(ctx context.Context, stateType domain.StateType, limit int) ([]domain.State, error)
	IncrementStateVisits(ctx context.Context, ids []string) error
}

// Options configures pressure-relief thresholds, all expressed as a
// fraction of MaxContext.
type Options struct {
	MaxContext              int
	OffloadThreshold        float64
	TargetAfterRelief       float64
	HysteresisThreshold     float64
	StateTrackingEnabled    bool
	StateInjectionLimits    map[domain.StateType]int
	BoredomThreshold        int
	BoredomAlternativeCount int
}

// DefaultOptions mirrors the reference tunables.
func DefaultOptions() Options {
	return Options{
		MaxContext:           4096,
		OffloadThreshold:     0.80,
		TargetAfterRelief:    0.60,
		HysteresisThreshold:  0.70,
		StateTrackingEnabled: true,
		StateInjectionLimits: map[domain.StateType]int{
			domain.StateGoal:     2,
			domain.StateTask:     3,
			domain.StateDecision: 2,
			domain.StateFact:     3,
		},
		BoredomThreshold:        5,
		BoredomAlternativeCount: 3,
	}
}

// Manager owns the working context and pinned header for a single
// conversation and performs pressure relief on the hot path.
type Manager struct {
	mu sync.Mutex

	opts    Options
	working []domain.Message
	pinned  domain.PinnedHeader

	queue    Enqueuer
	memory   MemoryAugmenter
	states   StateRepo
	logger   *slog.Logger

	offloadJobCount  int
	lastReliefTokens int
}

// New creates a Manager. memory and states may be nil: with a nil memory
// Augment is a no-op, and with nil states no state message is built.
func New(opts Options, queue Enqueuer, memory MemoryAugmenter, states StateRepo, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		pinned: domain.NewPinnedHeader(),
		queue:  queue,
		memory: memory,
		states: states,
		logger: logger,
	}
}

// estimateTokens approximates token count as words / 0.75 (about 1.33
// tokens per word, truncated to an int), matching the reference
// implementation's estimator pending a real tokenizer.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) / 0.75)
}

func messageTokens(m domain.Message) int {
	return estimateTokens(m.Role + ": " + m.Content)
}

func (m *Manager) tokenCount() int {
	total := 0
	for _, msg := range m.working {
		total += messageTokens(msg)
	}
	return total
}

// Add appends a message to the working context and triggers pressure
// relief if the configured threshold is crossed, with hysteresis to
// prevent thrashing on back-to-back turns that hover near the threshold.
func (m *Manager) Add(ctx context.Context, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := domain.Message{Role: role, Content: content, Timestamp: time.Now()}
	msg.Tokens = messageTokens(msg)
	m.working = append(m.working, msg)

	current := m.tokenCount()
	pressureThreshold := int(float64(m.opts.MaxContext) * m.opts.OffloadThreshold)
	hysteresisThreshold := int(float64(m.opts.MaxContext) * m.opts.HysteresisThreshold)

	m.logger.Info("context pressure",
		"tokens", current, "max", m.opts.MaxContext,
		"percentage", float64(current)/float64(m.opts.MaxContext)*100,
	)

	if current <= pressureThreshold {
		return
	}
	if m.lastReliefTokens != 0 && current <= hysteresisThreshold {
		m.logger.Debug("hysteresis: relief suppressed", "current", current, "hysteresis", hysteresisThreshold)
		return
	}

	m.relievePressure(ctx)
}

// relievePressure extracts the oldest non-system messages until enough
// tokens have been shed to reach TargetAfterRelief, queues them as an
// OffloadJob for the cold path, and inserts a lightweight placeholder card
// in their place. Never extracts a system message — those carry
// placeholder cards and pinned state, not turns to archive.
func (m *Manager) relievePressure(ctx context.Context) {
	start := time.Now()
	tokensBefore := m.tokenCount()

	targetTokens := int(float64(m.opts.MaxContext) * m.opts.TargetAfterRelief)
	tokensToExtract := tokensBefore - targetTokens
	extractedTokens := 0
	var extracted []domain.Message

	for extractedTokens < tokensToExtract {
		idx := 0
		for idx < len(m.working) && m.working[idx].Role == "system" {
			idx++
		}
		if idx >= len(m.working) {
			m.logger.Warn("cannot extract more: only system messages remain")
			break
		}
		msg := m.working[idx]
		m.working = append(m.working[:idx], m.working[idx+1:]...)
		extracted = append(extracted, msg)
		extractedTokens += messageTokens(msg)
	}

	lines := make([]string, len(extracted))
	for i, msg := range extracted {
		lines[i] = fmt.Sprintf("%s: %s", msg.Role, msg.Content)
	}
	chunkText := strings.Join(lines, "\n")

	m.offloadJobCount++
	job := domain.OffloadJob{
		JobID:        fmt.Sprintf("relief-%d-%d", m.offloadJobCount, time.Now().UnixNano()),
		ChunkText:    chunkText,
		TokenCount:   extractedTokens,
		MessageCount: len(extracted),
		Timestamp:    time.Now(),
		Metadata:     map[string]string{"relief_num": fmt.Sprintf("%d", m.offloadJobCount)},
	}

	if m.queue != nil {
		m.queue.Enqueue(job)
	}

	placeholder := domain.Message{
		Role:      "system",
		Content:   fmt.Sprintf("[ARCHIVED mem_id:%s tokens:%d msgs:%d]", job.JobID, extractedTokens, len(extracted)),
		Timestamp: time.Now(),
	}
	m.working = append([]domain.Message{placeholder}, m.working...)

	m.lastReliefTokens = m.tokenCount()
	m.logger.Info("pressure relief complete",
		"duration", time.Since(start),
		"tokens_before", tokensBefore, "tokens_after", m.lastReliefTokens,
		"job_id", job.JobID,
	)
}

// Augment performs hybrid retrieval for queryText and injects the result
// into the working context ahead of the final user turn; if enabled, a
// state-tracking message is then appended at the end. Returns the number
// of retrieved items injected.
func (m *Manager) Augment(ctx context.Context, queryText string, topKSemantic, topKRelational int) (int, error) {
	if m.memory == nil {
		return 0, nil
	}

	start := time.Now()
	result, err := m.memory.Retrieve(ctx, queryText, topKSemantic, topKRelational)
	if err != nil {
		return 0, fmt.Errorf("context: augment: %w", err)
	}
	if result.IsEmpty() {
		m.logger.Info("augment skipped: no relevant memories found")
		return 0, nil
	}

	ragMessage := domain.Message{Role: "system", Content: formatRAGResult(result), Timestamp: time.Now()}

	m.mu.Lock()
	if n := len(m.working); n > 0 && m.working[n-1].Role == "user" {
		m.working = append(m.working[:n-1], append([]domain.Message{ragMessage}, m.working[n-1:]...)...)
	} else {
		m.working = append(m.working, ragMessage)
	}
	m.mu.Unlock()

	m.logger.Info("augment complete", "items", result.TotalItems(), "duration", time.Since(start))

	injected := result.TotalItems()

	if m.opts.StateTrackingEnabled && m.states != nil {
		if stateMsg, ok := m.buildStateMessage(ctx); ok {
			m.mu.Lock()
			m.working = append(m.working, stateMsg)
			m.mu.Unlock()
		}
	}

	return injected, nil
}

func formatRAGResult(r domain.RAGResult) string {
	var b strings.Builder
	b.WriteString("[RETRIEVED LONG-TERM KNOWLEDGE]\n")
	for _, c := range r.SemanticChunks {
		b.WriteString(c)
		b.WriteString("\n")
	}
	for _, f := range r.RelationalFacts {
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("[END RETRIEVED KNOWLEDGE]")
	return b.String()
}

var stateTypeLabels = map[domain.StateType]string{
	domain.StateGoal:     "Active Goals",
	domain.StateTask:     "Active Tasks",
	domain.StateDecision: "Decisions",
	domain.StateFact:     "Known Facts",
}

// buildStateMessage queries active/completed states within their
// configured injection limits and formats a state-memory system message,
// returning ok=false when there is nothing worth injecting. Every active
// state that gets injected has its visit_count bumped via
// IncrementStateVisits, and the formatted body is routed through
// guard.FormatStateSection so a state repeatedly re-injected past
// BoredomThreshold surfaces a loop-detected warning instead of silently
// being shown again.
func (m *Manager) buildStateMessage(ctx context.Context) (domain.Message, bool) {
	var parts []string
	var injected []domain.State
	total := 0

	for stateType, limit := range m.opts.StateInjectionLimits {
		active, err := m.states.GetActiveStates(ctx, stateType, limit)
		if err != nil || len(active) == 0 {
			continue
		}
		label, ok := stateTypeLabels[stateType]
		if !ok {
			label = string(stateType) + "s"
		}
		descs := make([]string, len(active))
		for i, s := range active {
			descs[i] = s.Desc
		}
		parts = append(parts, fmt.Sprintf("%s: %s", label, strings.Join(descs, ", ")))
		injected = append(injected, active...)
		total += len(active)
	}

	var completedItems []string
	if completed, err := m.states.GetCompletedStates(ctx, domain.StateGoal, 2); err == nil {
		for _, s := range completed {
			completedItems = append(completedItems, s.Desc)
		}
	}
	if completed, err := m.states.GetCompletedStates(ctx, domain.StateTask, 2); err == nil {
		for _, s := range completed {
			completedItems = append(completedItems, s.Desc)
		}
	}
	if len(completedItems) > 0 {
		parts = append(parts, fmt.Sprintf("Completed: %s", strings.Join(completedItems, ", ")))
		total += len(completedItems)
	}

	if total == 0 {
		return domain.Message{}, false
	}

	body := strings.Join(parts, "\n") +
		"\n\nNote: Avoid repeating completed actions or contradicting known facts."

	if len(injected) > 0 {
		ids := make([]string, len(injected))
		for i, s := range injected {
			ids[i] = s.ID
		}
		if err := m.states.IncrementStateVisits(ctx, ids); err != nil {
			m.logger.Warn("boredom tracker: increment visits failed", "error", err)
		} else {
			for i := range injected {
				injected[i].VisitCount++
			}
		}
	}

	content := "[STATE MEMORY]\n" +
		guard.FormatStateSection(body, injected, m.opts.BoredomThreshold, m.opts.BoredomAlternativeCount) +
		"\n[END STATE MEMORY]"
	return domain.Message{Role: "system", Content: content, Timestamp: time.Now()}, true
}

// Window returns the pinned header (if non-empty) followed by the current
// working context, ready for generation.
func (m *Manager) Window() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Message
	if pinnedMsg, ok := pinnedHeaderMessage(m.pinned); ok {
		out = append(out, pinnedMsg)
	}
	out = append(out, m.working...)
	return out
}

func pinnedHeaderMessage(h domain.PinnedHeader) (domain.Message, bool) {
	defaultPlan := h.Plan.StepID == "" ||
		(h.Plan.StepID == "init" && h.Plan.Next == "" && len(h.Plan.Blockers) == 0)
	if len(h.Goals) == 0 && len(h.Constraints) == 0 && len(h.Definitions) == 0 &&
		defaultPlan && len(h.ActiveEntities) == 0 && len(h.ActiveArtifacts) == 0 {
		return domain.Message{}, false
	}

	var b strings.Builder
	b.WriteString("[PINNED CONTEXT]\n")
	if len(h.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(h.Goals, ", "))
	}
	if len(h.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(h.Constraints, ", "))
	}
	if h.Plan.StepID != "" {
		fmt.Fprintf(&b, "Plan: step=%s next=%s", h.Plan.StepID, h.Plan.Next)
		if len(h.Plan.Blockers) > 0 {
			fmt.Fprintf(&b, " blockers=%s", strings.Join(h.Plan.Blockers, ", "))
		}
		b.WriteString("\n")
	}
	if len(h.ActiveEntities) > 0 {
		fmt.Fprintf(&b, "Active entities: %s\n", strings.Join(h.ActiveEntities, ", "))
	}
	if len(h.ActiveArtifacts) > 0 {
		fmt.Fprintf(&b, "Active artifacts: %s\n", strings.Join(h.ActiveArtifacts, ", "))
	}
	b.WriteString("[END PINNED CONTEXT]")
	return domain.Message{Role: "system", Content: b.String()}, true
}

// UpdatePinnedHeader replaces the pinned header wholesale. Callers build
// the new header from the prior one via Header().
func (m *Manager) UpdatePinnedHeader(h domain.PinnedHeader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = h
}

// Header returns a copy of the current pinned header.
func (m *Manager) Header() domain.PinnedHeader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned
}

// Reset clears the working context (including placeholder cards) and the
// offload counters, keeping the pinned header.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working = nil
	m.offloadJobCount = 0
	m.lastReliefTokens = 0
}

// Stats reports current pressure and the offload count since the last Reset.
type Stats struct {
	CurrentTokens      int
	MaxTokens          int
	MessageCount       int
	OffloadCount       int
	PressurePercentage float64
}

// Stats returns the manager's current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := m.tokenCount()
	return Stats{
		CurrentTokens:      tokens,
		MaxTokens:          m.opts.MaxContext,
		MessageCount:       len(m.working),
		OffloadCount:       m.offloadJobCount,
		PressurePercentage: float64(tokens) / float64(m.opts.MaxContext) * 100,
	}
}
