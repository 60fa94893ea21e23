// Package kv provides the Redis-backed chunk and response-history storage
// backing the cold path's persistence layer and the Echo Guard's recent
// response tracking.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/redis/go-redis/v9"
)

const (
	chunkKeyPrefix     = "chunk:"
	chunkIndexKey      = "chunk_index"
	responseHistoryKey = "response_embeddings"
)

// Store wraps a Redis client with the chunk/response-history schema used by
// the cold path and the Echo Guard.
type Store struct {
	rdb *redis.Client
}

// New creates a Store connected to the given Redis address.
func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}),
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// StoreChunk persists an offloaded chunk with its summary, indexed by
// timestamp in chunk_index, with the given TTL.
func (s *Store) StoreChunk(ctx context.Context, job domain.OffloadJob, summary string, ttl time.Duration) error {
	key := chunkKeyPrefix + job.JobID

	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("kv: marshal metadata: %w", err)
	}

	fields := map[string]any{
		"job_id":        job.JobID,
		"chunk_text":    job.ChunkText,
		"summary":       summary,
		"metadata":      string(meta),
		"timestamp":     fmt.Sprintf("%d", job.Timestamp.Unix()),
		"token_count":   fmt.Sprintf("%d", job.TokenCount),
		"message_count": fmt.Sprintf("%d", job.MessageCount),
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	pipe.ZAdd(ctx, chunkIndexKey, redis.Z{Score: float64(job.Timestamp.Unix()), Member: job.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: store chunk %s: %w", job.JobID, err)
	}
	return nil
}

// GetChunkByID retrieves a single chunk's hash fields.
func (s *Store) GetChunkByID(ctx context.Context, jobID string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, chunkKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: get chunk %s: %w", jobID, err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// GetChunksByIDs retrieves multiple chunks via a pipeline, skipping misses.
func (s *Store) GetChunksByIDs(ctx context.Context, jobIDs []string) ([]map[string]string, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(jobIDs))
	for i, id := range jobIDs {
		cmds[i] = pipe.HGetAll(ctx, chunkKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("kv: get chunks: %w", err)
	}

	out := make([]map[string]string, 0, len(jobIDs))
	for _, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetRecentChunks returns the most recently stored chunks, newest first.
func (s *Store) GetRecentChunks(ctx context.Context, limit int64) ([]map[string]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, chunkIndexKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: recent chunk ids: %w", err)
	}
	return s.GetChunksByIDs(ctx, ids)
}

// DeleteChunk removes a chunk and its index entry.
func (s *Store) DeleteChunk(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, chunkKeyPrefix+jobID)
	pipe.ZRem(ctx, chunkIndexKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// ChunkCount returns the total number of indexed chunks.
func (s *Store) ChunkCount(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, chunkIndexKey).Result()
}

// responseEmbedding is the JSON payload stored as a sorted-set member.
type responseEmbedding struct {
	Embedding []float32 `json:"embedding"`
}

// PushResponseEmbedding records a generated response's embedding for Echo
// Guard comparison, trimming the history to historySize entries.
func (s *Store) PushResponseEmbedding(ctx context.Context, embedding []float32, historySize int) error {
	payload, err := json.Marshal(responseEmbedding{Embedding: embedding})
	if err != nil {
		return fmt.Errorf("kv: marshal response embedding: %w", err)
	}

	now := time.Now()
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, responseHistoryKey, redis.Z{Score: float64(now.UnixNano()), Member: string(payload)})
	if historySize > 0 {
		pipe.ZRemRangeByRank(ctx, responseHistoryKey, 0, int64(-historySize-1))
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("kv: push response embedding: %w", err)
	}
	return nil
}

// RecentResponseEmbeddings returns up to limit of the most recently stored
// response embeddings, newest first.
func (s *Store) RecentResponseEmbeddings(ctx context.Context, limit int64) ([][]float32, error) {
	members, err := s.rdb.ZRevRange(ctx, responseHistoryKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: recent response embeddings: %w", err)
	}

	out := make([][]float32, 0, len(members))
	for _, m := range members {
		var re responseEmbedding
		if err := json.Unmarshal([]byte(m), &re); err != nil {
			continue
		}
		out = append(out, re.Embedding)
	}
	return out, nil
}
