package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 将工作区保存在 Redis 中：每个请求一个 Hash 保存当前条目，
// 每个键一个 List 保存审计历史，均带 TTL，请求结束时删除。
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// RedisStoreConfig Redis 工作区存储配置
type RedisStoreConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "agenttree:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix + "ws:",
		ttl:       cfg.TTL,
	}
}

func (s *RedisStore) entriesKey(requestID string) string {
	return s.keyPrefix + requestID + ":entries"
}

func (s *RedisStore) seqKey(requestID string) string {
	return s.keyPrefix + requestID + ":seq"
}

func (s *RedisStore) historyKey(requestID, key string) string {
	return s.keyPrefix + requestID + ":hist:" + key
}

func (s *RedisStore) Put(ctx context.Context, requestID string, e Entry) (Entry, error) {
	seq, err := s.client.Incr(ctx, s.seqKey(requestID)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("workspace seq: %w", err)
	}
	e.Version = seq

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal entry: %w", err)
	}

	histKey := s.historyKey(requestID, e.Key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey(requestID), e.Key, data)
		pipe.RPush(ctx, histKey, data)
		pipe.Expire(ctx, s.entriesKey(requestID), s.ttl)
		pipe.Expire(ctx, s.seqKey(requestID), s.ttl)
		pipe.Expire(ctx, histKey, s.ttl)
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("workspace put: %w", err)
	}
	return e, nil
}

func (s *RedisStore) Get(ctx context.Context, requestID, key string) (Entry, bool, error) {
	data, err := s.client.HGet(ctx, s.entriesKey(requestID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("workspace get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal entry: %w", err)
	}
	return e, true, nil
}

func (s *RedisStore) All(ctx context.Context, requestID string) (map[string]Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.entriesKey(requestID)).Result()
	if err != nil {
		return nil, fmt.Errorf("workspace all: %w", err)
	}
	out := make(map[string]Entry, len(raw))
	for k, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry %s: %w", k, err)
		}
		out[k] = e
	}
	return out, nil
}

func (s *RedisStore) History(ctx context.Context, requestID, key string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(requestID, key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("workspace history: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Drop(ctx context.Context, requestID string) error {
	keys := []string{s.entriesKey(requestID), s.seqKey(requestID)}
	iter := s.client.Scan(ctx, 0, s.keyPrefix+requestID+":hist:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("workspace scan: %w", err)
	}
	return s.client.Del(ctx, keys...).Err()
}
