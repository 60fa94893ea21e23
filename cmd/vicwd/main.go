// Package main wires the memory engine's components together behind a
// thin HTTP surface: the Context Manager's hot path, the Offload Queue and
// Ingestion Worker's cold path, the Sleep Cycle, and the Retriever/Guard
// pair that sit either side of generation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ctxmgr "github.com/elevend0g/vicw/engine/context"
	"github.com/elevend0g/vicw/engine/domain"
	"github.com/elevend0g/vicw/engine/embed"
	"github.com/elevend0g/vicw/engine/extract"
	"github.com/elevend0g/vicw/engine/graph"
	"github.com/elevend0g/vicw/engine/guard"
	"github.com/elevend0g/vicw/engine/ingest"
	"github.com/elevend0g/vicw/engine/kv"
	"github.com/elevend0g/vicw/engine/llm"
	"github.com/elevend0g/vicw/engine/queue"
	"github.com/elevend0g/vicw/engine/retrieve"
	"github.com/elevend0g/vicw/engine/semantic"
	"github.com/elevend0g/vicw/internal/config"
	"github.com/elevend0g/vicw/pkg/mid"
	"github.com/elevend0g/vicw/pkg/natsutil"
	"github.com/elevend0g/vicw/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("vicwd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	graphStore := graph.New(neo4jDriver)
	if err := graphStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure graph schema: %w", err)
	}

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()
	if err := vectorStore.EnsureCollection(ctx, cfg.EmbeddingDims); err != nil {
		return fmt.Errorf("ensure qdrant collection: %w", err)
	}

	// --- Connect to Redis ---
	kvStore := kv.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer kvStore.Close()
	if err := kvStore.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// --- LLM / embedding backends ---
	llmClient := llm.New(cfg.LLMBaseURL, cfg.LLMModel)
	embedder := embed.New(cfg.EmbedBaseURL, cfg.EmbedModel)

	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	extractor := extract.New(llmClient, breaker)

	// --- Cold path: queue, retriever, ingestion worker, sleep cycle ---
	offloadQueue, nc, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build offload queue: %w", err)
	}
	defer closeQueue()

	retriever := retrieve.New(extractor, embedder, vectorStore, graphStore).
		WithScoreFloor(float32(cfg.RAGScoreThreshold))

	ingestDeps := ingest.Deps{
		ChunkStore:  kvStore,
		ChunkTTL:    time.Duration(cfg.ChunkTTLSecs) * time.Second,
		Extractor:   extractor,
		Embedder:    embedder,
		VectorStore: vectorStore,
		GraphStore:  graphStore,
		Logger:      logger,
	}
	worker := ingest.NewWorker(offloadQueue, ingestDeps, cfg.ColdPathBatchSize)
	worker.Start(ctx)
	defer worker.Stop()

	sleepCycle := ingest.NewSleepCycle(graphStore, extractor, embedder, vectorStore, logger)
	if nc != nil {
		sleepCycle.WithNotifier(&consolidationNotifier{nc: nc, subject: cfg.NatsConsolidationSubject})
	}
	go sleepCycle.Start(ctx, time.Duration(cfg.SleepCycleInterval)*time.Second)

	// --- Hot path: context manager and echo guard ---
	guardian := guard.New(llmClient, embedder, kvStore, guard.Options{
		MaxRegenerationAttempts: cfg.MaxRegenerationAttempts,
		SimilarityThreshold:     cfg.EchoSimilarityThreshold,
		ResponseHistorySize:     cfg.EchoResponseHistorySize,
		StripContextOnRetry:     cfg.EchoStripContextOnRetry,
	})

	stateLimits := map[domain.StateType]int{
		domain.StateGoal:     cfg.StateInjectionLimits["goal"],
		domain.StateTask:     cfg.StateInjectionLimits["task"],
		domain.StateDecision: cfg.StateInjectionLimits["decision"],
		domain.StateFact:     cfg.StateInjectionLimits["fact"],
	}
	manager := ctxmgr.New(ctxmgr.Options{
		MaxContext:              cfg.MaxContextTokens,
		OffloadThreshold:        cfg.OffloadThreshold,
		TargetAfterRelief:       cfg.TargetAfterRelief,
		HysteresisThreshold:     cfg.HysteresisThreshold,
		StateTrackingEnabled:    cfg.StateTrackingEnabled,
		StateInjectionLimits:    stateLimits,
		BoredomThreshold:        cfg.BoredomThreshold,
		BoredomAlternativeCount: cfg.BoredomAlternativeCount,
	}, offloadQueue, retriever, graphStore, logger)

	// --- HTTP surface ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /stats", handleStats(manager, offloadQueue, graphStore, worker, logger))
	mux.HandleFunc("POST /chat", handleChat(manager, worker, guardian, cfg, logger))
	mux.HandleFunc("POST /reset", handleReset(manager))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vicwd starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// buildQueue picks the Offload Queue's transport: the bounded in-process
// Queue by default, or a durable JetStream-backed queue when NatsURL is
// set — NATS is only dialed when a URL was actually given. The returned
// *nats.Conn is nil unless a connection
// was made, so callers can tell whether core-NATS notifications (as
// opposed to the JetStream-backed queue) are available. The returned
// close func is always safe to defer.
func buildQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (offloadBackend, *nats.Conn, func(), error) {
	if cfg.NatsURL == "" {
		return queue.New(cfg.MaxOffloadQueue), nil, func() {}, nil
	}

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	jsQueue, err := queue.NewJetStreamQueue(ctx, js, cfg.NatsStreamName, cfg.NatsSubject, cfg.NatsDurableName, int64(cfg.MaxOffloadQueue))
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("jetstream queue: %w", err)
	}

	logger.Info("offload queue backed by jetstream", "url", cfg.NatsURL, "stream", cfg.NatsStreamName)
	return jsQueue, nc, nc.Close, nil
}

// consolidationNotifier publishes Sleep Cycle consolidation events over
// core NATS (not the JetStream-backed offload queue) so observer processes
// can subscribe without polling the graph.
type consolidationNotifier struct {
	nc      *nats.Conn
	subject string
}

func (n *consolidationNotifier) NotifyConsolidation(ctx context.Context, event ingest.ConsolidationEvent) error {
	return natsutil.Publish(ctx, n.nc, n.subject, event)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// offloadBackend is the Enqueuer+Dequeuer pair the Offload Queue must
// satisfy, whichever transport backs it. Both *queue.Queue (in-process)
// and *queue.JetStreamQueue (durable) implement it.
type offloadBackend interface {
	Enqueue(job domain.OffloadJob)
	DequeueBatch(n int) []domain.OffloadJob
}

// statsSource is implemented by the in-process Queue. JetStreamQueue does
// not track these counters itself — the broker does — so /stats reports
// zero-value queue stats when running on the durable backend.
type statsSource interface {
	Stats() queue.Stats
}

// statsResponse reports the live state of every stage of the memory
// engine, used for operator dashboards and smoke tests.
type statsResponse struct {
	Context queue.Stats        `json:"offload_queue"`
	Hot     ctxmgr.Stats       `json:"hot_path"`
	Worker  ingest.WorkerStats `json:"ingestion_worker"`
	Nodes   map[string]int64   `json:"graph_nodes"`
	Edges   map[string]int64   `json:"graph_relationships"`
}

func handleStats(manager *ctxmgr.Manager, q offloadBackend, gs *graph.GraphStore, w *ingest.Worker, logger *slog.Logger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		nodeCounts, err := gs.NodeCounts(r.Context())
		if err != nil {
			logger.Error("stats: node counts", "err", err)
			http.Error(rw, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		relCounts, err := gs.RelationshipCounts(r.Context())
		if err != nil {
			logger.Error("stats: relationship counts", "err", err)
			http.Error(rw, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		var queueStats queue.Stats
		if s, ok := q.(statsSource); ok {
			queueStats = s.Stats()
		}

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(statsResponse{
			Context: queueStats,
			Hot:     manager.Stats(),
			Worker:  w.Stats(),
			Nodes:   nodeCounts,
			Edges:   relCounts,
		})
	}
}

// ChatRequest is the JSON body for POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the JSON response for POST /chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// handleChat drives a single turn: append the user's message, augment the
// working context with hybrid retrieval, generate through the Echo Guard,
// then append the reply. The Ingestion Worker is paused across the
// augment+generate span so its graph/vector writes don't contend with the
// LLM call the turn is waiting on.
func handleChat(manager *ctxmgr.Manager, w *ingest.Worker, guardian *guard.Guard, cfg config.Config, logger *slog.Logger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			http.Error(rw, `{"error":"message is required"}`, http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		manager.Add(ctx, "user", req.Message)

		w.Pause()
		defer w.Resume()

		if _, err := manager.Augment(ctx, req.Message, cfg.RAGTopKSemantic, cfg.RAGTopKRelational); err != nil {
			logger.Error("augment failed", "err", err)
		}

		messages := toLLMMessages(manager.Window())
		reply, err := guardian.Generate(ctx, messages)
		if err != nil {
			logger.Error("generate failed", "err", err)
			http.Error(rw, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		manager.Add(ctx, "assistant", reply)

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(ChatResponse{Reply: reply})
	}
}

func handleReset(manager *ctxmgr.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager.Reset()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
	}
}

func toLLMMessages(window []domain.Message) []llm.Message {
	out := make([]llm.Message, len(window))
	for i, m := range window {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
