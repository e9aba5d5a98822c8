package notes

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/0xMiden/miden-note-transport/internal/model"
)

const (
	redisByTimeKey   = "notes:by_time"
	redisTagsKey     = "notes:tags"
	redisSettingsKey = "notes:settings"
	redisVersionKey  = "notes:schema_version"
)

type (
	// RedisStore keeps note payloads in string keys and maintains one
	// sorted set per tag scored by created_at. Members are the raw note
	// ids, so equal scores order id-ascending, matching the port's
	// (created_at, id) order.
	RedisStore struct {
		rdb *redis.Client
	}

	redisNote struct {
		Tag       uint32 `cbor:"1,keyasint"`
		Header    []byte `cbor:"2,keyasint"`
		Details   []byte `cbor:"3,keyasint"`
		CreatedAt int64  `cbor:"4,keyasint"`
	}
)

// OpenRedisStore connects to the Redis deployment at url.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := &RedisStore{rdb: rdb}
	if err := s.checkSchemaVersion(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) checkSchemaVersion(ctx context.Context) error {
	val, err := s.rdb.Get(ctx, redisVersionKey).Result()
	switch {
	case err == redis.Nil:
		return s.rdb.Set(ctx, redisVersionKey, SchemaVersion, 0).Err()
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("malformed schema version %q", val)
	}
	if version > SchemaVersion {
		return fmt.Errorf("redis schema version %d is newer than supported %d", version, SchemaVersion)
	}
	return nil
}

func noteKey(id model.NoteID) string {
	return "note:" + id.String()
}

func tagKey(tag uint32) string {
	return "tag:" + strconv.FormatUint(uint64(tag), 10)
}

func (s *RedisStore) Insert(ctx context.Context, note *model.Note) (bool, error) {
	payload, err := cbor.Marshal(redisNote{
		Tag:       note.Tag,
		Header:    note.Header,
		Details:   note.Details,
		CreatedAt: note.CreatedAt,
	})
	if err != nil {
		return false, fmt.Errorf("redis insert: encode: %w", err)
	}

	inserted, err := s.rdb.SetNX(ctx, noteKey(note.ID), payload, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis insert: %w: %w", model.ErrUnavailable, err)
	}
	if !inserted {
		return false, nil
	}

	member := string(note.ID[:])
	score := float64(note.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, tagKey(note.Tag), redis.Z{Score: score, Member: member})
	pipe.ZAdd(ctx, redisByTimeKey, redis.Z{Score: score, Member: member})
	pipe.SAdd(ctx, redisTagsKey, note.Tag)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis insert: %w: %w", model.ErrUnavailable, err)
	}
	return true, nil
}

func (s *RedisStore) QueryByTag(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, error) {
	key := tagKey(tag)

	// Members tied at the cursor timestamp, id-ascending past the cursor id.
	ties, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(cursor.CreatedAt, 10),
		Max: strconv.FormatInt(cursor.CreatedAt, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query: %w: %w", model.ErrUnavailable, err)
	}
	members := make([]string, 0, limit)
	for _, m := range ties {
		if bytes.Compare([]byte(m), cursor.ID[:]) > 0 {
			members = append(members, m)
		}
		if len(members) == limit {
			break
		}
	}

	if len(members) < limit {
		after, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min:   "(" + strconv.FormatInt(cursor.CreatedAt, 10),
			Max:   "+inf",
			Count: int64(limit - len(members)),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis query: %w: %w", model.ErrUnavailable, err)
		}
		members = append(members, after...)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		var id model.NoteID
		copy(id[:], m)
		keys[i] = noteKey(id)
	}
	payloads, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query: %w: %w", model.ErrUnavailable, err)
	}

	out := make([]*model.Note, 0, len(members))
	for i, payload := range payloads {
		raw, ok := payload.(string)
		if !ok {
			// Note removed between index read and payload read.
			continue
		}
		var doc redisNote
		if err := cbor.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("redis query: decode: %w", err)
		}
		n := &model.Note{
			Tag:       doc.Tag,
			Header:    doc.Header,
			Details:   doc.Details,
			CreatedAt: doc.CreatedAt,
		}
		copy(n.ID[:], members[i])
		out = append(out, n)
	}
	return out, nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoffMS int64) (int64, error) {
	cutoff := strconv.FormatInt(cutoffMS, 10)
	members, err := s.rdb.ZRangeByScore(ctx, redisByTimeKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete: %w: %w", model.ErrUnavailable, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	// Group members by tag to trim the per-tag indexes.
	tags := make(map[uint32][]any)
	keys := make([]string, 0, len(members))
	for _, m := range members {
		var id model.NoteID
		copy(id[:], m)
		keys = append(keys, noteKey(id))
	}
	payloads, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete: %w: %w", model.ErrUnavailable, err)
	}
	for i, payload := range payloads {
		raw, ok := payload.(string)
		if !ok {
			continue
		}
		var doc redisNote
		if err := cbor.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		tags[doc.Tag] = append(tags[doc.Tag], members[i])
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, keys...)
	removed := make([]any, len(members))
	for i, m := range members {
		removed[i] = m
	}
	pipe.ZRem(ctx, redisByTimeKey, removed...)
	for tag, tagMembers := range tags {
		pipe.ZRem(ctx, tagKey(tag), tagMembers...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis delete: %w: %w", model.ErrUnavailable, err)
	}

	// Forget tags whose index is now empty.
	for tag := range tags {
		count, err := s.rdb.ZCard(ctx, tagKey(tag)).Result()
		if err == nil && count == 0 {
			s.rdb.SRem(ctx, redisTagsKey, tag)
		}
	}
	return int64(len(members)), nil
}

func (s *RedisStore) CountByTag(ctx context.Context, tag uint32) (int64, error) {
	count, err := s.rdb.ZCard(ctx, tagKey(tag)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w: %w", model.ErrUnavailable, err)
	}
	return count, nil
}

func (s *RedisStore) CountTotal(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, redisByTimeKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w: %w", model.ErrUnavailable, err)
	}
	return count, nil
}

func (s *RedisStore) CountTags(ctx context.Context) (int64, error) {
	count, err := s.rdb.SCard(ctx, redisTagsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w: %w", model.ErrUnavailable, err)
	}
	return count, nil
}

func (s *RedisStore) MaxCreatedAt(ctx context.Context) (int64, error) {
	top, err := s.rdb.ZRevRangeWithScores(ctx, redisByTimeKey, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redis max created_at: %w: %w", model.ErrUnavailable, err)
	}
	if len(top) == 0 {
		return 0, nil
	}
	return int64(top[0].Score), nil
}

func (s *RedisStore) Setting(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.HGet(ctx, redisSettingsKey, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis setting: %w: %w", model.ErrUnavailable, err)
	}
	return val, nil
}

func (s *RedisStore) PutSetting(ctx context.Context, key, value string) error {
	if err := s.rdb.HSet(ctx, redisSettingsKey, key, value).Err(); err != nil {
		return fmt.Errorf("redis put setting: %w: %w", model.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close(context.Context) error {
	return s.rdb.Close()
}
