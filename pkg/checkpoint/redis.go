package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// RedisStore implements Store using Redis. It provides distributed
// checkpoint storage suitable for multi-node deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all checkpoint keys
	// (default: "sessionkit:checkpoint:").
	Prefix string
	// TTL is the checkpoint expiry duration (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a new Redis checkpoint store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "sessionkit:checkpoint:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "sessionkit:checkpoint:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Key helpers
func (s *RedisStore) metaKey(sessionID string) string {
	return s.prefix + "meta:" + sessionID
}

func (s *RedisStore) entriesKey(sessionID string) string {
	return s.prefix + "entries:" + sessionID
}

func (s *RedisStore) entryIDsKey(sessionID string) string {
	return s.prefix + "entry-ids:" + sessionID
}

// checkpointMeta is the metadata document stored separately from the entry
// list so progress updates do not rewrite the transcript.
type checkpointMeta struct {
	SessionID          string             `json:"sessionId"`
	ElapsedTimeSeconds int                `json:"elapsedTime"`
	QuestionCount      int                `json:"questionCount"`
	Metrics            transcript.Metrics `json:"metrics"`
	Status             Status             `json:"status"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

func (s *RedisStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save creates or supersedes the checkpoint for a session.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := s.guard(); err != nil {
		return err
	}

	meta := checkpointMeta{
		SessionID:          cp.SessionID,
		ElapsedTimeSeconds: cp.ElapsedTimeSeconds,
		QuestionCount:      cp.QuestionCount,
		Metrics:            cp.Metrics,
		Status:             cp.Status,
		UpdatedAt:          time.Now().UTC(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.metaKey(cp.SessionID), data, s.ttl)
	pipe.Del(ctx, s.entriesKey(cp.SessionID))
	pipe.Del(ctx, s.entryIDsKey(cp.SessionID))
	for _, e := range cp.Transcript {
		entryData, merr := json.Marshal(e)
		if merr != nil {
			return fmt.Errorf("marshal entry: %w", merr)
		}
		pipe.RPush(ctx, s.entriesKey(cp.SessionID), entryData)
		pipe.SAdd(ctx, s.entryIDsKey(cp.SessionID), e.ID)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, s.entriesKey(cp.SessionID), s.ttl)
		pipe.Expire(ctx, s.entryIDsKey(cp.SessionID), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint for a session.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.metaKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint metadata: %w", err)
	}

	var meta checkpointMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
	}

	raw, err := s.client.LRange(ctx, s.entriesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	entries := make([]transcript.Entry, 0, len(raw))
	for _, d := range raw {
		var e transcript.Entry
		if err := json.Unmarshal([]byte(d), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}

	return &Checkpoint{
		SessionID:          meta.SessionID,
		Transcript:         entries,
		ElapsedTimeSeconds: meta.ElapsedTimeSeconds,
		QuestionCount:      meta.QuestionCount,
		Metrics:            meta.Metrics,
		Status:             meta.Status,
		UpdatedAt:          meta.UpdatedAt,
	}, nil
}

// AppendEntries appends transcript entries, de-duplicated by entry ID via a
// per-session ID set, and updates the progress metadata.
func (s *RedisStore) AppendEntries(ctx context.Context, sessionID string, entries []transcript.Entry,
	elapsedTime, questionCount int, metrics transcript.Metrics) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	status := StatusActive
	if existing, err := s.Load(ctx, sessionID); err == nil {
		status = existing.Status
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	accepted := 0
	for _, e := range entries {
		added, err := s.client.SAdd(ctx, s.entryIDsKey(sessionID), e.ID).Result()
		if err != nil {
			return accepted, fmt.Errorf("register entry id: %w", err)
		}
		if added == 0 {
			continue // duplicate from a retried batch
		}
		data, merr := json.Marshal(e)
		if merr != nil {
			return accepted, fmt.Errorf("marshal entry: %w", merr)
		}
		if err := s.client.RPush(ctx, s.entriesKey(sessionID), data).Err(); err != nil {
			return accepted, fmt.Errorf("append entry: %w", err)
		}
		accepted++
	}

	meta := checkpointMeta{
		SessionID:          sessionID,
		ElapsedTimeSeconds: elapsedTime,
		QuestionCount:      questionCount,
		Metrics:            metrics,
		Status:             status,
		UpdatedAt:          time.Now().UTC(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return accepted, fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.metaKey(sessionID), data, s.ttl)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.entriesKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.entryIDsKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return accepted, fmt.Errorf("update checkpoint metadata: %w", err)
	}

	return accepted, nil
}

// SetStatus updates the lifecycle status of a session's checkpoint.
func (s *RedisStore) SetStatus(ctx context.Context, sessionID string, status Status) error {
	if err := s.guard(); err != nil {
		return err
	}

	data, err := s.client.Get(ctx, s.metaKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("get checkpoint metadata: %w", err)
	}

	var meta checkpointMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("unmarshal checkpoint metadata: %w", err)
	}
	meta.Status = status
	meta.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	if err := s.client.Set(ctx, s.metaKey(sessionID), updated, s.ttl).Err(); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Delete removes a session's checkpoint and entry data.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.metaKey(sessionID))
	pipe.Del(ctx, s.entriesKey(sessionID))
	pipe.Del(ctx, s.entryIDsKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}
