package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alimasry/go-collab-ot/ot"
)

// RedisStore keeps each document in a hash and its operations, in binary
// wire form, in a list. A sorted set indexes document IDs.
//
//	<prefix>:docs          zset of ids (score 0, ordered by id)
//	<prefix>:doc:<id>      hash: content, version, createdAt, updatedAt
//	<prefix>:doc:<id>:ops  list of operations, oldest first
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the server at url (redis://...) and checks it
// answers. Keys are namespaced under prefix.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	if prefix == "" {
		prefix = "collab"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) indexKey() string        { return s.prefix + ":docs" }
func (s *RedisStore) docKey(id string) string { return s.prefix + ":doc:" + id }
func (s *RedisStore) opsKey(id string) string { return s.prefix + ":doc:" + id + ":ops" }

func (s *RedisStore) Create(ctx context.Context, id, content string) error {
	now := time.Now().UnixMilli()
	ok, err := s.client.HSetNX(ctx, s.docKey(id), "createdAt", now).Result()
	if err != nil {
		return fmt.Errorf("redis: create %q: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.docKey(id), "content", content, "version", 0, "updatedAt", now)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: create %q: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	fields, err := s.client.HGetAll(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return hashToDocInfo(id, fields)
}

func hashToDocInfo(id string, fields map[string]string) (*DocumentInfo, error) {
	version, err := strconv.Atoi(fields["version"])
	if err != nil {
		return nil, fmt.Errorf("redis: document %q has bad version %q", id, fields["version"])
	}
	created, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updatedAt"], 10, 64)
	return &DocumentInfo{
		ID:        id,
		Content:   fields["content"],
		Version:   version,
		CreatedAt: time.UnixMilli(created),
		UpdatedAt: time.UnixMilli(updated),
	}, nil
}

func (s *RedisStore) List(ctx context.Context) ([]DocumentInfo, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: list: %w", err)
	}

	result := make([]DocumentInfo, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between ZRANGE and HGETALL.
			continue
		}
		info, err := hashToDocInfo(ids[i], fields)
		if err != nil {
			return nil, err
		}
		result = append(result, *info)
	}
	return result, nil
}

func (s *RedisStore) exists(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis: %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

func (s *RedisStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	err := s.client.HSet(ctx, s.docKey(id),
		"content", content, "version", version, "updatedAt", time.Now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("redis: update %q: %w", id, err)
	}
	return nil
}

// AppendOperation pushes the op inside a WATCH transaction on the ops list
// so concurrent appends of the same version cannot both succeed.
func (s *RedisStore) AppendOperation(ctx context.Context, id string, op ot.TextOperation, version int) error {
	data, err := op.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.exists(ctx, id); err != nil {
		return err
	}

	key := s.opsKey(id)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if want := int(n) + 1; version != want {
			return fmt.Errorf("%w: %q got version %d, want %d", ErrConflict, id, version, want)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			pipe.HSet(ctx, s.docKey(id), "updatedAt", time.Now().UnixMilli())
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %q concurrent append at version %d", ErrConflict, id, version)
	}
	return err
}

func (s *RedisStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.TextOperation, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	n, err := s.client.LLen(ctx, s.opsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: operations of %q: %w", id, err)
	}
	if fromVersion < 0 || int64(fromVersion) > n {
		return nil, fmt.Errorf("%w: %d", ot.ErrInvalidRevision, fromVersion)
	}

	raw, err := s.client.LRange(ctx, s.opsKey(id), int64(fromVersion), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: operations of %q: %w", id, err)
	}
	ops := make([]ot.TextOperation, len(raw))
	for i, r := range raw {
		if err := ops[i].UnmarshalBinary([]byte(r)); err != nil {
			return nil, fmt.Errorf("redis: %q version %d: %w", id, fromVersion+i+1, err)
		}
	}
	return ops, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.docKey(id))
	pipe.Del(ctx, s.opsKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete %q: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
