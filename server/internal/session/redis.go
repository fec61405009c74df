package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spar-talk/server/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于 Redis 的会话存储。
// 键空间 "spar:sess:{id}"，值为整份会话快照的 JSON；
// Save 通过 WATCH + 事务实现与内存版一致的 Rev 乐观并发语义。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisStoreConfig Redis 存储配置。
type RedisStoreConfig struct {
	Prefix string        // 键前缀，默认 "spar:sess"
	TTL    time.Duration // 会话键过期时间，0 表示不过期
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "spar:sess"
	}
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// Create 新建会话，键已存在时返回 ErrExists。
func (s *RedisStore) Create(ctx context.Context, sess *model.SparringSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(sess.SessionID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx session: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Get 根据 id 获取会话快照。
func (s *RedisStore) Get(ctx context.Context, id string) (*model.SparringSession, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess model.SparringSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Save 乐观提交：WATCH 会话键，Rev 不一致或并发改写时拒绝。
func (s *RedisStore) Save(ctx context.Context, sess *model.SparringSession) error {
	key := s.key(sess.SessionID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}

		var cur model.SparringSession
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		if cur.Rev != sess.Rev {
			return ErrRevConflict
		}

		next := *sess
		next.Rev++
		payload, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// WATCH 期间有并发写入，语义上等同于 Rev 冲突。
		return ErrRevConflict
	}
	if err != nil {
		return err
	}

	sess.Rev++
	return nil
}
