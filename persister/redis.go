package persister

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisStore struct {
	client *redis.Client
	ctx    context.Context
	cfg    config
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis. Entries are msgpack-encoded
// strings with native Redis TTLs. The caller owns the redis.Client
// lifecycle; Close is a no-op on the client.
func NewRedis(ctx context.Context, client *redis.Client, opts ...Option) Store {
	cfg := applyOptions(opts)
	return &redisStore{
		client: client,
		ctx:    ctx,
		cfg:    cfg,
	}
}

func (s *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *redisStore) prefixKey(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return s.cfg.prefix + ":" + key
}

func (s *redisStore) GetContext(ctx context.Context, key string) (bool, Entry, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	data, err := s.client.Get(qctx, s.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return false, Entry{}, nil
	}
	if err != nil {
		return false, Entry{}, err
	}
	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return false, Entry{}, err
	}
	return true, entry, nil
}

func (s *redisStore) SetContext(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return err
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.client.Set(qctx, s.prefixKey(key), data, ttl).Err()
}

func (s *redisStore) DeleteContext(ctx context.Context, key string) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.client.Del(qctx, s.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// CloseContext is a no-op — the caller owns the redis.Client lifecycle.
func (s *redisStore) CloseContext(_ context.Context) error {
	return nil
}
