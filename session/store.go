package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goMembership/repository"
)

// ErrRedisUnavailable is returned when a Redis command fails.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionCorrupt is returned when a stored record cannot be decoded.
var ErrSessionCorrupt = errors.New("session record corrupt")

const minKeyTTL = time.Second

const (
	writeStatusNotFound int64 = 0
	writeStatusConflict int64 = -1
)

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "v", "1", "d", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

const updateScript = `
local current = redis.call("HGET", KEYS[1], "v")
if not current then
  return 0
end
if ARGV[1] ~= "" and current ~= ARGV[1] then
  return -1
end
local next_version = tonumber(current) + 1
redis.call("HSET", KEYS[1], "v", tostring(next_version), "d", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return next_version
`

const deleteScript = `
local current = redis.call("HGET", KEYS[1], "v")
if not current then
  return 0
end
if ARGV[1] ~= "" and current ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[1])
return 1
`

var (
	createLua = redis.NewScript(createScript)
	updateLua = redis.NewScript(updateScript)
	deleteLua = redis.NewScript(deleteScript)
)

// Store persists session records in Redis. It satisfies
// repository.SessionRepository.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace. retention is how long a record
// outlives its ExpireDate before Redis drops the key.
func NewStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "gm"
	}
	if retention < 0 {
		retention = 0
	}
	return &Store{
		redis:     rdb,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

func (s *Store) key(applicationName, id string) string {
	return s.prefix + ":" + normalizeApplication(applicationName) + ":" + repository.SessionRecordID(id)
}

func normalizeApplication(applicationName string) string {
	if applicationName == "" {
		return "0"
	}
	return applicationName
}

func (s *Store) ttl(rec *repository.SessionRecord) time.Duration {
	ttl := rec.ExpireDate.Sub(s.now()) + s.retention
	if ttl < minKeyTTL {
		return minKeyTTL
	}
	return ttl
}

func expectedVersion(rec *repository.SessionRecord, opts []repository.WriteOption) string {
	if repository.ResolveWriteOptions(opts).Optimistic {
		return strconv.FormatInt(rec.Version, 10)
	}
	return ""
}

// FindOne loads the record named by filter. A record that exists but fails
// the filter (for example a lock id mismatch) reports repository.ErrNotFound.
// Redis reads are never stale, so query options have no effect.
func (s *Store) FindOne(ctx context.Context, filter repository.SessionFilter, _ ...repository.QueryOption) (*repository.SessionRecord, error) {
	vals, err := s.redis.HMGet(ctx, s.key(filter.ApplicationName, filter.ID), "v", "d").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, repository.ErrNotFound
	}

	rawVersion, ok1 := vals[0].(string)
	rawData, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, ErrSessionCorrupt
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	rec, err := Decode([]byte(rawData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}

	rec.ID = repository.SessionRecordID(filter.ID)
	rec.ApplicationName = filter.ApplicationName
	rec.Version = version

	if !filter.Match(rec) {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

// Create stores rec with version 1 unless its key already exists.
func (s *Store) Create(ctx context.Context, rec *repository.SessionRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	res, err := createLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.ApplicationName, rec.ID)},
		data,
		s.ttl(rec).Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return repository.ErrDuplicate
	}

	rec.ID = repository.SessionRecordID(rec.ID)
	rec.Version = 1
	return nil
}

// Update overwrites rec and refreshes the key TTL. With optimistic
// concurrency the write only lands if the stored version equals rec.Version.
func (s *Store) Update(ctx context.Context, rec *repository.SessionRecord, opts ...repository.WriteOption) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	res, err := updateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.ApplicationName, rec.ID)},
		expectedVersion(rec, opts),
		data,
		s.ttl(rec).Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch res {
	case writeStatusNotFound:
		return repository.ErrNotFound
	case writeStatusConflict:
		return repository.ErrConflict
	}
	rec.Version = res
	return nil
}

// Delete removes rec. With optimistic concurrency the delete only lands if
// the stored version equals rec.Version.
func (s *Store) Delete(ctx context.Context, rec *repository.SessionRecord, opts ...repository.WriteOption) error {
	res, err := deleteLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.ApplicationName, rec.ID)},
		expectedVersion(rec, opts),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch res {
	case writeStatusNotFound:
		return repository.ErrNotFound
	case writeStatusConflict:
		return repository.ErrConflict
	}
	return nil
}

// EstimateActiveSessions scans application session keys and counts matches.
// This is an admin-only O(n) operation and must not be used in request hot paths.
func (s *Store) EstimateActiveSessions(ctx context.Context, applicationName string) (int, error) {
	pattern := s.prefix + ":" + normalizeApplication(applicationName) + ":" + repository.SessionKeyPrefix + "*"
	var (
		cursor uint64
		total  int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
