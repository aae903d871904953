package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Store keeps received packets.
type Store interface {
	Save(ctx context.Context, p Packet) error
}

// RedisStore keeps the most recent packets, newest first, in a Redis list.
type RedisStore struct {
	db  *redis.Client
	cfg RedisConfig
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	return NewRedisStoreClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg)
}

// NewRedisStoreClient uses an existing client.
func NewRedisStoreClient(db *redis.Client, cfg RedisConfig) *RedisStore {
	return &RedisStore{db: db, cfg: cfg}
}

func (s *RedisStore) key() string {
	return s.cfg.Key + ":rx"
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx).Err()
}

func (s *RedisStore) Save(ctx context.Context, p Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := s.key()
	_, err = s.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		if s.cfg.MaxPackets > 0 {
			pipe.LTrim(ctx, key, 0, s.cfg.MaxPackets-1)
		}
		if ttl := s.cfg.TTL(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gateway: redis save: %w", err)
	}
	return nil
}

// Recent returns up to n stored packets, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int64) ([]Packet, error) {
	items, err := s.db.LRange(ctx, s.key(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("gateway: redis recent: %w", err)
	}
	packets := make([]Packet, 0, len(items))
	for _, item := range items {
		var p Packet
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, fmt.Errorf("gateway: redis recent: %w", err)
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func (s *RedisStore) Close() error {
	return s.db.Close()
}
