package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elevend0g/vicw/engine/graph"
	"github.com/elevend0g/vicw/engine/semantic"
)

// SleepCycleBatchSize is how many aged events are grouped into a single
// MacroEvent per consolidation round. A batch smaller than 2 is left
// untouched — there is nothing to consolidate.
const SleepCycleBatchSize = 5

// SleepCycleMaxAge is the default age past which an Event becomes eligible
// for consolidation into a MacroEvent.
const SleepCycleMaxAge = time.Hour

// ConsolidationEvent describes one completed consolidation round, published
// to any attached ConsolidationNotifier for other processes to observe.
type ConsolidationEvent struct {
	MacroUID   string    `json:"macro_uid"`
	Domain     string    `json:"domain"`
	Summary    string    `json:"summary"`
	EventCount int       `json:"event_count"`
	At         time.Time `json:"at"`
}

// ConsolidationNotifier broadcasts a ConsolidationEvent, used to let other
// instances or observer processes react to the Sleep Cycle without polling
// the graph directly.
type ConsolidationNotifier interface {
	NotifyConsolidation(ctx context.Context, event ConsolidationEvent) error
}

// SleepCycle periodically finds aged Events and consolidates them into
// MacroEvents, freeing the working graph from unbounded Event growth.
type SleepCycle struct {
	graphStore *graph.GraphStore
	extractor  summarizer
	embedder   Embedder
	vectors    *semantic.VectorStore
	logger     *slog.Logger
	maxAge     time.Duration
	batchSize  int
	notifier   ConsolidationNotifier
}

// WithNotifier attaches a ConsolidationNotifier. Without one, consolidation
// rounds are only observable through the graph and the logger.
func (s *SleepCycle) WithNotifier(n ConsolidationNotifier) *SleepCycle {
	s.notifier = n
	return s
}

// summarizer is the narrow Extractor surface the Sleep Cycle needs.
type summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// NewSleepCycle creates a SleepCycle. extractor/embedder/vectors may be nil;
// a nil extractor falls back to a canned summary, a nil embedder/vectors
// skips embedding the resulting MacroEvent.
func NewSleepCycle(graphStore *graph.GraphStore, extractor summarizer, embedder Embedder, vectors *semantic.VectorStore, logger *slog.Logger) *SleepCycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &SleepCycle{
		graphStore: graphStore, extractor: extractor, embedder: embedder, vectors: vectors,
		logger: logger, maxAge: SleepCycleMaxAge, batchSize: SleepCycleBatchSize,
	}
}

// Run executes a single consolidation pass and returns the number of
// MacroEvents created.
func (s *SleepCycle) Run(ctx context.Context) (int, error) {
	events, err := s.graphStore.GetOldEvents(ctx, s.maxAge, s.batchSize*10)
	if err != nil {
		return 0, fmt.Errorf("sleep cycle: get old events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	s.logger.Info("sleep cycle: found aged events", "count", len(events))

	created := 0
	for start := 0; start < len(events); start += s.batchSize {
		end := start + s.batchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]
		if len(batch) < 2 {
			continue
		}
		if err := s.consolidate(ctx, batch); err != nil {
			s.logger.Error("sleep cycle: consolidation failed", "error", err)
			continue
		}
		created++
	}
	return created, nil
}

func (s *SleepCycle) consolidate(ctx context.Context, batch []graph.Event) error {
	descriptions := make([]string, len(batch))
	eventUIDs := make([]string, len(batch))
	for i, e := range batch {
		descriptions[i] = e.Description
		eventUIDs[i] = e.UID
	}

	summary := s.summarize(ctx, descriptions)

	macroUID := uuid.New().String()
	name := fmt.Sprintf("Macro-Event %d", time.Now().Unix())
	if err := s.graphStore.UpsertMacroEvent(ctx, graph.MacroEvent{
		UID: macroUID, Name: name, Domain: batch[0].Domain, Summary: summary,
		FlowID: batch[0].FlowID, CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("upsert macro event: %w", err)
	}

	if err := s.graphStore.ConsolidateEvents(ctx, macroUID, eventUIDs); err != nil {
		return fmt.Errorf("consolidate events: %w", err)
	}

	s.embedMacroEvent(ctx, macroUID, name, batch[0].Domain, summary)

	s.logger.Info("sleep cycle: consolidated events", "count", len(batch), "macro_uid", macroUID)
	s.notify(ctx, ConsolidationEvent{
		MacroUID: macroUID, Domain: batch[0].Domain, Summary: summary,
		EventCount: len(batch), At: time.Now(),
	})
	return nil
}

func (s *SleepCycle) notify(ctx context.Context, event ConsolidationEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyConsolidation(ctx, event); err != nil {
		s.logger.Warn("sleep cycle: notify failed", "error", err)
	}
}

func (s *SleepCycle) summarize(ctx context.Context, descriptions []string) string {
	if s.extractor == nil {
		return fmt.Sprintf("Consolidated sequence of %d events.", len(descriptions))
	}
	summary, err := s.extractor.Summarize(ctx, descriptions)
	if err != nil {
		s.logger.Warn("sleep cycle: summarize failed", "error", err)
		return fmt.Sprintf("Consolidated sequence of %d events.", len(descriptions))
	}
	return summary
}

func (s *SleepCycle) embedMacroEvent(ctx context.Context, macroUID, name, eventDomain, summary string) {
	if s.embedder == nil || s.vectors == nil {
		return
	}
	embedding, err := s.embedder.Embed(ctx, summary)
	if err != nil {
		s.logger.Warn("sleep cycle: embed macro event failed", "error", err)
		return
	}
	err = s.vectors.Upsert(ctx, []semantic.VectorRecord{{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("vec_"+macroUID)).String(),
		Embedding: embedding,
		Payload: map[string]any{
			"domain": "consolidated", "node_id": macroUID, "type": "MacroEvent", "name": name,
		},
	}})
	if err != nil {
		s.logger.Warn("sleep cycle: vector upsert failed", "error", err)
	}
}

// Start runs the Sleep Cycle on a ticker until ctx is cancelled.
func (s *SleepCycle) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error("sleep cycle: run failed", "error", err)
			}
		}
	}
}
