package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisMaxTxRetries = 8

// RedisBackend keeps every key as a field of one hash. Updates run under
// WATCH on that hash and retry when another writer got there first.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

func NewRedisBackend(client redis.UniversalClient, hashKey string) *RedisBackend {
	if hashKey == "" {
		hashKey = "closet:state"
	}
	return &RedisBackend{client: client, key: hashKey}
}

// View loads the whole hash with one HGETALL so every Get in fn reads the
// same state.
func (b *RedisBackend) View(ctx context.Context, fn func(Tx) error) error {
	fields, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return fmt.Errorf("store: read %s: %w", b.key, err)
	}
	return fn(&redisTx{reader: hashSnapshot(fields), key: b.key, readOnly: true})
}

func (b *RedisBackend) Update(ctx context.Context, fn func(Tx) error) error {
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := b.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{reader: rtx, key: b.key, writes: map[string][]byte{}, deletes: map[string]struct{}{}}
			if err := fn(tx); err != nil {
				return err
			}
			if len(tx.writes) == 0 && len(tx.deletes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				if len(tx.deletes) > 0 {
					fields := make([]string, 0, len(tx.deletes))
					for f := range tx.deletes {
						fields = append(fields, f)
					}
					p.HDel(ctx, b.key, fields...)
				}
				if len(tx.writes) > 0 {
					values := make([]any, 0, len(tx.writes)*2)
					for f, v := range tx.writes {
						values = append(values, f, v)
					}
					p.HSet(ctx, b.key, values...)
				}
				return nil
			})
			return err
		}, b.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("store: redis update conflicted %d times", redisMaxTxRetries)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// hashSnapshot serves HGet from fields already loaded.
type hashSnapshot map[string]string

func (s hashSnapshot) HGet(_ context.Context, _, field string) *redis.StringCmd {
	v, ok := s[field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

type redisTx struct {
	reader   hashReader
	key      string
	writes   map[string][]byte
	deletes  map[string]struct{}
	readOnly bool
}

func (t *redisTx) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, ErrKeyNotFound
	}
	v, err := t.reader.HGet(ctx, t.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return v, nil
}

func (t *redisTx) Put(ctx context.Context, key string, value []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	delete(t.deletes, key)
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *redisTx) Delete(ctx context.Context, key string) error {
	if t.readOnly {
		return errReadOnly
	}
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}
