// Package ingest implements the Ingestion Worker: the cold-path pipeline
// that turns an OffloadJob's raw chunk text into Metaphysical Schema nodes
// (Context, Chunk, Entity, Event) and their embeddings, plus the Sleep
// Cycle that consolidates aged Events into MacroEvents.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/engine/extract"
	"github.com/elevend0g/vicw/engine/graph"
	"github.com/elevend0g/vicw/engine/semantic"
	"github.com/elevend0g/vicw/pkg/fn"
)

// Embedder is the narrow embedding surface the Ingestion Worker needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore persists a job's raw chunk text and an extractive summary
// before extraction begins, keyed by job_id with a TTL, so a downstream
// failure never loses the source text.
type ChunkStore interface {
	StoreChunk(ctx context.Context, job domain.OffloadJob, summary string, ttl time.Duration) error
}

// DefaultChunkTTL is used when Deps.ChunkTTL is unset.
const DefaultChunkTTL = 24 * time.Hour

// Deps are the collaborators wired into a pipeline instance.
type Deps struct {
	ChunkStore  ChunkStore
	ChunkTTL    time.Duration
	Extractor   *extract.Extractor
	Embedder    Embedder
	VectorStore *semantic.VectorStore
	GraphStore  *graph.GraphStore
	Logger      *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Validate is the pipeline's first stage: rejects malformed jobs before any
// extraction or storage work begins.
func Validate(ctx context.Context, job domain.OffloadJob) fn.Result[domain.OffloadJob] {
	if err := domain.ValidateOffloadJob(job); err != nil {
		return fn.Err[domain.OffloadJob](err)
	}
	return fn.Ok(job)
}

// Process returns the stage that extracts entities/events and materializes
// them into the graph and vector stores. Mirrors the reference pipeline's
// try/except shape: failures never propagate as a Result error, they land
// in the returned OffloadResult's Error field instead, so one bad job never
// aborts the Stage composition for the jobs around it.
func Process(deps Deps) fn.Stage[domain.OffloadJob, domain.OffloadResult] {
	return func(ctx context.Context, job domain.OffloadJob) fn.Result[domain.OffloadResult] {
		return fn.Ok(processJob(ctx, deps, job))
	}
}

// NewPipeline composes the full per-job pipeline: validate, then process.
func NewPipeline(deps Deps) fn.Stage[domain.OffloadJob, domain.OffloadResult] {
	return fn.Then(Validate, Process(deps))
}

func processJob(ctx context.Context, deps Deps, job domain.OffloadJob) domain.OffloadResult {
	start := time.Now()
	log := deps.logger()

	jobDomain := job.Metadata["domain"]
	if jobDomain == "" {
		jobDomain = DefaultDomain
	}
	flowID := job.Metadata["thread_id"]
	if flowID == "" {
		flowID = DefaultFlowID
	}

	// Stage 1: persist the raw chunk plus an extractive summary before
	// extraction runs, so a downstream failure never loses the source text.
	if deps.ChunkStore != nil {
		ttl := deps.ChunkTTL
		if ttl <= 0 {
			ttl = DefaultChunkTTL
		}
		if err := deps.ChunkStore.StoreChunk(ctx, job, extractiveSummary(job.ChunkText), ttl); err != nil {
			log.Error("ingest: persist raw chunk failed", "job_id", job.JobID, "error", err)
			return domain.OffloadResult{JobID: job.JobID, Success: false, Error: err.Error()}
		}
	}

	extraction, err := deps.Extractor.Extract(ctx, job.ChunkText, jobDomain)
	if err != nil {
		log.Error("ingest: extraction failed", "job_id", job.JobID, "error", err)
		return domain.OffloadResult{JobID: job.JobID, Success: false, Error: err.Error()}
	}

	contextUID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(jobDomain)).String()
	if err := deps.GraphStore.UpsertContext(ctx, graph.Context{
		UID:         contextUID,
		Name:        jobDomain,
		Domain:      jobDomain,
		Description: fmt.Sprintf("Context for %s domain", jobDomain),
		CreatedAt:   time.Now(),
	}); err != nil {
		log.Error("ingest: upsert context failed", "job_id", job.JobID, "error", err)
		return domain.OffloadResult{JobID: job.JobID, Success: false, Error: err.Error()}
	}

	chunkUID := uuid.New().String()
	if err := deps.GraphStore.UpsertChunk(ctx, graph.Chunk{
		UID:        chunkUID,
		Content:    snippet(job.ChunkText),
		Source:     "chat",
		Domain:     jobDomain,
		TokenCount: job.TokenCount,
		CreatedAt:  time.Now(),
	}); err != nil {
		log.Error("ingest: upsert chunk failed", "job_id", job.JobID, "error", err)
		return domain.OffloadResult{JobID: job.JobID, Success: false, Error: err.Error()}
	}

	entityUIDs := deps.materializeEntities(ctx, jobDomain, contextUID, chunkUID, extraction.Entities)
	deps.materializeEvents(ctx, jobDomain, contextUID, chunkUID, flowID, job.Timestamp, extraction.Events, entityUIDs)

	log.Info("ingest: job complete",
		"job_id", job.JobID,
		"time_ms", time.Since(start).Milliseconds(),
		"entities", len(extraction.Entities),
		"events", len(extraction.Events),
	)

	return domain.OffloadResult{
		JobID:   job.JobID,
		Summary: fmt.Sprintf("Extracted %d entities and %d events", len(extraction.Entities), len(extraction.Events)),
		Success: true,
	}
}

// materializeEntities embeds, upserts, and links each extracted entity,
// returning a name->uid map so event processing can resolve caused_by
// references within the same job.
func (d Deps) materializeEntities(ctx context.Context, jobDomain, contextUID, chunkUID string, entities []extract.Entity) map[string]string {
	log := d.logger()
	uids := make(map[string]string, len(entities))

	for _, e := range entities {
		entityUID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(jobDomain+":"+e.Name)).String()
		uids[e.Name] = entityUID

		qdrantID := d.embedAndUpsert(ctx, jobDomain, entityUID, "Entity", e.Subtype, e.Name, e.Description)

		if err := d.GraphStore.UpsertEntity(ctx, graph.Entity{
			UID: entityUID, Name: e.Name, Subtype: e.Subtype, Domain: jobDomain,
			Description: e.Description, QdrantID: qdrantID, CreatedAt: time.Now(),
		}); err != nil {
			log.Warn("ingest: upsert entity failed", "name", e.Name, "error", err)
			continue
		}

		d.linkToContextAndChunk(ctx, entityUID, graph.LabelEntity, contextUID, chunkUID)
	}
	return uids
}

// materializeEvents embeds, upserts, and links each extracted event, within
// a job-local flow: flow_step is the event's index in this batch, so
// sequencing is only guaranteed within a single ingestion job. Events
// written in this job are linked by NEXT in flow_step order. caused_by and
// next_event references are resolved by name against this job's own
// entities/events and silently skipped when the name wasn't extracted
// alongside them — a partial extraction should not fail the whole job.
func (d Deps) materializeEvents(ctx context.Context, jobDomain, contextUID, chunkUID, flowID string, ts time.Time, events []extract.Event, entityUIDs map[string]string) {
	log := d.logger()
	eventUIDs := make(map[string]string, len(events))
	var flowOrder []string

	for i, e := range events {
		eventUID := uuid.New().String()
		eventUIDs[e.Name] = eventUID

		qdrantID := d.embedAndUpsert(ctx, jobDomain, eventUID, "Event", e.Subtype, e.Name, e.Description)

		if err := d.GraphStore.UpsertEvent(ctx, graph.Event{
			UID: eventUID, Name: e.Name, Subtype: e.Subtype, Domain: jobDomain,
			Timestamp: ts, FlowID: flowID, FlowStep: i,
			Description: e.Description, QdrantID: qdrantID, CreatedAt: time.Now(),
		}); err != nil {
			log.Warn("ingest: upsert event failed", "name", e.Name, "error", err)
			continue
		}

		d.linkToContextAndChunk(ctx, eventUID, graph.LabelEvent, contextUID, chunkUID)
		flowOrder = append(flowOrder, eventUID)

		for _, causeName := range e.CausedBy {
			causeUID, ok := entityUIDs[causeName]
			if !ok {
				log.Debug("ingest: skipping caused_by, entity not extracted in this job", "cause", causeName, "event", e.Name)
				continue
			}
			if err := d.GraphStore.CreateRelationship(ctx, graph.Relationship{
				StartUID: causeUID, StartType: graph.LabelEntity,
				EndUID: eventUID, EndType: graph.LabelEvent, Type: graph.EdgeInitiated,
			}); err != nil {
				log.Warn("ingest: create INITIATED relationship failed", "cause", causeName, "event", e.Name, "error", err)
			}
		}
	}

	for i := 1; i < len(flowOrder); i++ {
		if err := d.GraphStore.CreateRelationship(ctx, graph.Relationship{
			StartUID: flowOrder[i-1], StartType: graph.LabelEvent,
			EndUID: flowOrder[i], EndType: graph.LabelEvent, Type: graph.EdgeNext,
		}); err != nil {
			log.Warn("ingest: create flow NEXT relationship failed", "flow_id", flowID, "error", err)
		}
	}

	for _, e := range events {
		if e.NextEvent == nil {
			continue
		}
		fromUID, ok := eventUIDs[e.Name]
		if !ok {
			continue
		}
		toUID, ok := eventUIDs[*e.NextEvent]
		if !ok {
			log.Debug("ingest: skipping next_event, event not extracted in this job", "next_event", *e.NextEvent, "event", e.Name)
			continue
		}
		if err := d.GraphStore.CreateRelationship(ctx, graph.Relationship{
			StartUID: fromUID, StartType: graph.LabelEvent,
			EndUID: toUID, EndType: graph.LabelEvent, Type: graph.EdgeNext,
		}); err != nil {
			log.Warn("ingest: create NEXT relationship failed", "event", e.Name, "error", err)
		}
	}
}

// embedAndUpsert embeds a node's contextual wrapper text and upserts it into
// the vector index, returning the Qdrant point ID or "" if embedding failed
// — embedding failure never blocks graph materialization.
func (d Deps) embedAndUpsert(ctx context.Context, jobDomain, nodeUID, nodeType, subtype, name, description string) string {
	if d.Embedder == nil || d.VectorStore == nil {
		return ""
	}
	log := d.logger()

	wrapper := contextualWrapper(jobDomain, subtype, name, description)
	embedding, err := d.Embedder.Embed(ctx, wrapper)
	if err != nil {
		log.Warn("ingest: embed failed", "name", name, "error", err)
		return ""
	}

	// Qdrant point ids must be UUIDs; derive one from the node uid so that
	// re-upserting a node replaces its point.
	pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("vec_"+nodeUID)).String()
	err = d.VectorStore.Upsert(ctx, []semantic.VectorRecord{{
		ID:        pointID,
		Embedding: embedding,
		Payload: map[string]any{
			"domain": jobDomain, "node_id": nodeUID, "subtype": subtype,
			"name": name, "type": nodeType, "content": description,
		},
	}})
	if err != nil {
		log.Warn("ingest: vector upsert failed", "name", name, "error", err)
		return ""
	}
	return pointID
}

func (d Deps) linkToContextAndChunk(ctx context.Context, nodeUID, nodeType, contextUID, chunkUID string) {
	log := d.logger()
	if err := d.GraphStore.CreateRelationship(ctx, graph.Relationship{
		StartUID: nodeUID, StartType: nodeType,
		EndUID: contextUID, EndType: graph.LabelContext, Type: graph.EdgeBelongsTo,
	}); err != nil {
		log.Warn("ingest: create BELONGS_TO relationship failed", "uid", nodeUID, "error", err)
	}
	if err := d.GraphStore.CreateRelationship(ctx, graph.Relationship{
		StartUID: chunkUID, StartType: graph.LabelChunk,
		EndUID: nodeUID, EndType: nodeType, Type: graph.EdgeMentions,
	}); err != nil {
		log.Warn("ingest: create MENTIONS relationship failed", "uid", nodeUID, "error", err)
	}
}
