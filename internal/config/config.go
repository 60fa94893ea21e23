// Package config loads environment-based configuration for the memory
// engine, with defaults matching the reference tunables for pressure
// relief, ingestion, retrieval, and the loop-prevention guards.
package config

import (
	"os"
	"strconv"
)

// Config holds every tunable the memory engine reads at startup.
type Config struct {
	// HTTP surface
	Port       string
	CORSOrigin string

	// LLM / embedding backends
	LLMBaseURL    string
	LLMModel      string
	EmbedBaseURL  string
	EmbedModel    string
	EmbeddingDims int

	// Neo4j
	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	// Qdrant
	QdrantURL  string
	Collection string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ChunkTTLSecs  int

	// NATS JetStream: when NatsURL is empty the Offload Queue stays
	// in-process; set it to switch to a durable, restart-surviving queue.
	NatsURL                  string
	NatsStreamName           string
	NatsSubject              string
	NatsDurableName          string
	NatsConsolidationSubject string

	// Context Manager
	MaxContextTokens    int
	OffloadThreshold    float64
	TargetAfterRelief   float64
	HysteresisThreshold float64

	// Ingestion / cold path
	ColdPathBatchSize  int
	ColdPathWorkers    int
	MaxOffloadQueue    int
	SleepCycleInterval int // seconds

	// Proactive embedding
	ProactiveEmbedEnabled   bool
	ProactiveEmbedThreshold int

	// Retrieval
	RAGTopKSemantic   int
	RAGTopKRelational int
	RAGScoreThreshold float64

	// State tracking / Boredom Tracker
	StateTrackingEnabled   bool
	StateInjectionLimits   map[string]int
	BoredomDetectionEnabled bool
	BoredomThreshold        int
	BoredomAlternativeCount int

	// Echo Guard
	EchoGuardEnabled        bool
	EchoSimilarityThreshold float64
	EchoResponseHistorySize int
	MaxRegenerationAttempts int
	EchoStripContextOnRetry int
}

// Load reads configuration from the environment, filling in defaults that
// match the reference implementation's config.py.
func Load() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),

		LLMBaseURL:    envOr("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:      envOr("LLM_MODEL", "qwen3"),
		EmbedBaseURL:  envOr("EMBED_BASE_URL", "http://localhost:11434"),
		EmbedModel:    envOr("EMBED_MODEL", "qwen3-embedding"),
		EmbeddingDims: envOrInt("EMBEDDING_DIMENSION", 1024),

		Neo4jURL:  envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: envOr("NEO4J_PASS", "password"),

		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "vicw"),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envOrInt("REDIS_DB", 0),
		ChunkTTLSecs:  envOrInt("REDIS_CHUNK_TTL", 86400),

		NatsURL:                  envOr("NATS_URL", ""),
		NatsStreamName:           envOr("NATS_STREAM_NAME", "VICW_OFFLOAD"),
		NatsSubject:              envOr("NATS_SUBJECT", "vicw.offload"),
		NatsDurableName:          envOr("NATS_DURABLE_NAME", "vicw-ingestion-worker"),
		NatsConsolidationSubject: envOr("NATS_CONSOLIDATION_SUBJECT", "vicw.consolidation"),

		MaxContextTokens:    envOrInt("MAX_CONTEXT_TOKENS", 4096),
		OffloadThreshold:    envOrFloat("OFFLOAD_THRESHOLD", 0.80),
		TargetAfterRelief:   envOrFloat("TARGET_AFTER_RELIEF", 0.60),
		HysteresisThreshold: envOrFloat("HYSTERESIS_THRESHOLD", 0.70),

		ColdPathBatchSize:  envOrInt("COLD_PATH_BATCH_SIZE", 3),
		ColdPathWorkers:    envOrInt("COLD_PATH_WORKERS", 4),
		MaxOffloadQueue:    envOrInt("MAX_OFFLOAD_QUEUE_SIZE", 100),
		SleepCycleInterval: envOrInt("SLEEP_CYCLE_INTERVAL", 60),

		ProactiveEmbedEnabled:   envOrBool("PROACTIVE_EMBED_ENABLED", true),
		ProactiveEmbedThreshold: envOrInt("PROACTIVE_EMBED_THRESHOLD", 500),

		RAGTopKSemantic:   envOrInt("RAG_TOP_K_SEMANTIC", 10),
		RAGTopKRelational: envOrInt("RAG_TOP_K_RELATIONAL", 5),
		RAGScoreThreshold: envOrFloat("RAG_SCORE_THRESHOLD", 0.4),

		StateTrackingEnabled: envOrBool("STATE_TRACKING_ENABLED", true),
		StateInjectionLimits: map[string]int{
			"goal":     envOrInt("STATE_LIMIT_GOAL", 2),
			"task":     envOrInt("STATE_LIMIT_TASK", 3),
			"decision": envOrInt("STATE_LIMIT_DECISION", 2),
			"fact":     envOrInt("STATE_LIMIT_FACT", 3),
		},
		BoredomDetectionEnabled: envOrBool("BOREDOM_DETECTION_ENABLED", true),
		BoredomThreshold:        envOrInt("BOREDOM_THRESHOLD", 5),
		BoredomAlternativeCount: envOrInt("BOREDOM_ALTERNATIVE_COUNT", 3),

		EchoGuardEnabled:        envOrBool("ECHO_GUARD_ENABLED", true),
		EchoSimilarityThreshold: envOrFloat("ECHO_SIMILARITY_THRESHOLD", 0.95),
		EchoResponseHistorySize: envOrInt("ECHO_RESPONSE_HISTORY_SIZE", 10),
		MaxRegenerationAttempts: envOrInt("MAX_REGENERATION_ATTEMPTS", 3),
		EchoStripContextOnRetry: envOrInt("ECHO_STRIP_CONTEXT_ON_RETRY", 3),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
