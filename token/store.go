package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRecordNotFound is returned when no record exists for the token ID.
var ErrRecordNotFound = errors.New("refresh token record not found")

// ErrRecordExpired is returned when the target record passed its expiry.
var ErrRecordExpired = errors.New("refresh token record expired")

// ErrHashMismatch is returned when the presented secret hash does not match
// the stored hash for the record.
var ErrHashMismatch = errors.New("refresh token hash mismatch")

// ErrReuseDetected is returned when a rotation targets a record that was
// already consumed or revoked. The caller is expected to revoke the family.
var ErrReuseDetected = errors.New("refresh token reuse detected")

// ErrHashConflict is returned when a new token hash collides with an
// existing index entry. Callers retry with a fresh secret.
var ErrHashConflict = errors.New("refresh token hash conflict")

// ErrAlreadyInactive is returned when revoking a record that is already
// revoked or expired. The record is left untouched.
var ErrAlreadyInactive = errors.New("refresh token already inactive")

// Revocation reasons persisted on records.
const (
	ReasonRotated   = "rotated"
	ReasonReuse     = "reuse_detected"
	ReasonManual    = "manual"
	ReasonEvicted   = "evicted"
	ReasonRevokeAll = "revoke_all"
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusMismatch int64 = 1
	consumeStatusExpired  int64 = 2
	consumeStatusReused   int64 = 3
	consumeStatusRotated  int64 = 4
	consumeStatusConflict int64 = 5
)

const (
	revokeStatusNotFound int64 = 0
	revokeStatusInactive int64 = 1
	revokeStatusRevoked  int64 = 2
)

const createRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "user_id", ARGV[2],
  "family_id", ARGV[3],
  "token_hash", ARGV[4],
  "parent_id", ARGV[5],
  "created_at", ARGV[6],
  "expires_at", ARGV[7],
  "revoked_at", "0",
  "revoked_reason", "",
  "replaced_by", "",
  "remember", ARGV[8],
  "created_ip", ARGV[9])
local retain = tonumber(ARGV[10])
redis.call("EXPIREAT", KEYS[1], retain)
redis.call("EXPIREAT", KEYS[2], retain)
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("EXPIREAT", KEYS[3], retain)
redis.call("ZADD", KEYS[4], tonumber(ARGV[6]), ARGV[1])
return 1
`

var createRecordLua = redis.NewScript(createRecordScript)

const consumeRecordScript = `
local old = redis.call("HMGET", KEYS[1],
  "user_id", "family_id", "token_hash", "created_at",
  "expires_at", "revoked_at", "remember")
if not old[1] then
  return {0}
end
if old[3] ~= ARGV[2] then
  return {1}
end
local now = tonumber(ARGV[3])
local revoked = tonumber(old[6] or "0")
if revoked > 0 then
  return {3, old[1], old[2]}
end
if tonumber(old[5]) <= now then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return {2, old[1], old[2]}
end

if redis.call("SETNX", KEYS[5], ARGV[4]) == 0 then
  return {5}
end

redis.call("HSET", KEYS[1],
  "revoked_at", ARGV[3],
  "revoked_reason", "rotated",
  "replaced_by", ARGV[4])
redis.call("ZREM", KEYS[2], ARGV[1])

local ttl = tonumber(ARGV[6])
if old[7] == "1" then
  ttl = tonumber(ARGV[7])
end
local expires = now + ttl
local retain = expires + tonumber(ARGV[8])

redis.call("HSET", KEYS[4],
  "id", ARGV[4],
  "user_id", old[1],
  "family_id", old[2],
  "token_hash", ARGV[5],
  "parent_id", ARGV[1],
  "created_at", ARGV[3],
  "expires_at", expires,
  "revoked_at", "0",
  "revoked_reason", "",
  "replaced_by", "",
  "remember", old[7],
  "created_ip", ARGV[9])
redis.call("EXPIREAT", KEYS[4], retain)
redis.call("EXPIREAT", KEYS[5], retain)
redis.call("SADD", KEYS[3], ARGV[4])
redis.call("EXPIREAT", KEYS[3], retain)
redis.call("ZADD", KEYS[2], now, ARGV[4])

return {4, old[1], old[2], expires, old[7]}
`

var consumeRecordLua = redis.NewScript(consumeRecordScript)

const revokeRecordScript = `
local vals = redis.call("HMGET", KEYS[1], "revoked_at", "expires_at")
if not vals[1] then
  return 0
end
local now = tonumber(ARGV[2])
if tonumber(vals[1]) > 0 or tonumber(vals[2]) <= now then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return 1
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[2], "revoked_reason", ARGV[3])
redis.call("ZREM", KEYS[2], ARGV[1])
return 2
`

var revokeRecordLua = redis.NewScript(revokeRecordScript)

const revokeFamilyScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local rkey = ARGV[1] .. id
  local at = redis.call("HGET", rkey, "revoked_at")
  if at and tonumber(at) == 0 then
    redis.call("HSET", rkey, "revoked_at", ARGV[2], "revoked_reason", ARGV[3])
    revoked = revoked + 1
  end
  redis.call("ZREM", KEYS[2], id)
end
return revoked
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

const revokeAllForUserScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local revoked = 0
for _, id in ipairs(ids) do
  local rkey = ARGV[1] .. id
  local at = redis.call("HGET", rkey, "revoked_at")
  if at and tonumber(at) == 0 then
    redis.call("HSET", rkey, "revoked_at", ARGV[2], "revoked_reason", ARGV[3])
    revoked = revoked + 1
  end
end
redis.call("DEL", KEYS[1])
return revoked
`

var revokeAllForUserLua = redis.NewScript(revokeAllForUserScript)

// ConsumeResult carries the outcome of an atomic rotation. On
// [ErrReuseDetected] and [ErrRecordExpired] the UserID and FamilyID fields
// are still populated so the caller can act on the compromised family.
type ConsumeResult struct {
	UserID       string
	FamilyID     string
	NewExpiresAt int64
	RememberMe   bool
}

// Store is a Redis-backed refresh token store. Every conditional state
// transition (create-if-absent, consume-if-active, revoke-if-active,
// revoke-family) runs as a single Lua script so concurrent callers observe
// exactly one winner.
type Store struct {
	redis          redis.UniversalClient
	prefix         string
	retentionGrace time.Duration
	clock          func() time.Time
}

// NewStore creates a token [Store] backed by the given Redis client.
// prefix sets the Redis key namespace. retentionGrace controls how long
// revoked records remain queryable past their expiry, which is what makes
// replay of a consumed token detectable. clock supplies the time source
// for all expiry math.
func NewStore(
	redisClient redis.UniversalClient,
	prefix string,
	retentionGrace time.Duration,
	clock func() time.Time,
) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		redis:          redisClient,
		prefix:         prefix,
		retentionGrace: retentionGrace,
		clock:          clock,
	}
}

func (s *Store) recordKey(id string) string {
	return s.prefix + ":t:" + id
}

func (s *Store) recordKeyPrefix() string {
	return s.prefix + ":t:"
}

func (s *Store) hashKey(hashHex string) string {
	return s.prefix + ":h:" + hashHex
}

func (s *Store) familyKey(familyID string) string {
	return s.prefix + ":f:" + familyID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create inserts a new record. The insert is conditional on both the
// record key and the token-hash index being free; a collision on either
// returns [ErrHashConflict] and writes nothing.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	retain := rec.ExpiresAt + int64(s.retentionGrace/time.Second)

	remember := "0"
	if rec.RememberMe {
		remember = "1"
	}

	result, err := createRecordLua.Run(
		ctx,
		s.redis,
		[]string{
			s.recordKey(rec.ID),
			s.hashKey(rec.TokenHash),
			s.familyKey(rec.FamilyID),
			s.userKey(rec.UserID),
		},
		rec.ID,
		rec.UserID,
		rec.FamilyID,
		rec.TokenHash,
		rec.ParentID,
		rec.CreatedAt,
		rec.ExpiresAt,
		remember,
		rec.CreatedByIP,
		retain,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if result == 0 {
		return ErrHashConflict
	}

	return nil
}

// Consume atomically retires the record identified by id and creates its
// replacement in the same script. Exactly one concurrent caller can win;
// the rest observe [ErrReuseDetected] once the winner has committed.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
//	Security: the replacement inherits user, family, and remember-me
//	lifetime from the consumed record.
func (s *Store) Consume(
	ctx context.Context,
	id string,
	providedHash string,
	newID string,
	newHash string,
	shortTTL, longTTL time.Duration,
	ip string,
) (*ConsumeResult, error) {
	// Key layout requires the user and family IDs up front. The script
	// re-checks existence, so a record deleted between these two steps
	// still resolves to a clean not-found.
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := consumeRecordLua.Run(
		ctx,
		s.redis,
		[]string{
			s.recordKey(id),
			s.userKey(rec.UserID),
			s.familyKey(rec.FamilyID),
			s.recordKey(newID),
			s.hashKey(newHash),
		},
		id,
		providedHash,
		s.clock().Unix(),
		newID,
		newHash,
		int64(shortTTL/time.Second),
		int64(longTTL/time.Second),
		int64(s.retentionGrace/time.Second),
		ip,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid consume script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid consume script status", ErrRedisUnavailable)
	}

	switch code {
	case consumeStatusNotFound:
		return nil, errors.Join(redis.Nil, ErrRecordNotFound)
	case consumeStatusMismatch:
		return nil, ErrHashMismatch
	case consumeStatusExpired:
		res, parseErr := parseConsumeParts(parts, 3)
		if parseErr != nil {
			return nil, parseErr
		}
		return res, errors.Join(redis.Nil, ErrRecordExpired)
	case consumeStatusReused:
		res, parseErr := parseConsumeParts(parts, 3)
		if parseErr != nil {
			return nil, parseErr
		}
		return res, ErrReuseDetected
	case consumeStatusRotated:
		res, parseErr := parseConsumeParts(parts, 5)
		if parseErr != nil {
			return nil, parseErr
		}
		return res, nil
	case consumeStatusConflict:
		return nil, ErrHashConflict
	default:
		return nil, fmt.Errorf("%w: unknown consume script status", ErrRedisUnavailable)
	}
}

func parseConsumeParts(parts []interface{}, want int) (*ConsumeResult, error) {
	if len(parts) < want {
		return nil, fmt.Errorf("%w: short consume script response", ErrRedisUnavailable)
	}

	res := &ConsumeResult{}

	userID, ok := scriptString(parts[1])
	if !ok {
		return nil, fmt.Errorf("%w: invalid consume script user id", ErrRedisUnavailable)
	}
	res.UserID = userID

	familyID, ok := scriptString(parts[2])
	if !ok {
		return nil, fmt.Errorf("%w: invalid consume script family id", ErrRedisUnavailable)
	}
	res.FamilyID = familyID

	if want >= 5 {
		expires, ok := scriptInt(parts[3])
		if !ok {
			return nil, fmt.Errorf("%w: invalid consume script expiry", ErrRedisUnavailable)
		}
		res.NewExpiresAt = expires

		remember, ok := scriptString(parts[4])
		if !ok {
			return nil, fmt.Errorf("%w: invalid consume script remember flag", ErrRedisUnavailable)
		}
		res.RememberMe = remember == "1"
	}

	return res, nil
}

func scriptString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func scriptInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Revoke marks a single record revoked if it is still active. Revoking a
// record that is already revoked or expired returns [ErrAlreadyInactive]
// and leaves it untouched.
func (s *Store) Revoke(ctx context.Context, id, userID, reason string) error {
	result, err := revokeRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(id), s.userKey(userID)},
		id,
		s.clock().Unix(),
		reason,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch result {
	case revokeStatusNotFound:
		return errors.Join(redis.Nil, ErrRecordNotFound)
	case revokeStatusInactive:
		return ErrAlreadyInactive
	case revokeStatusRevoked:
		return nil
	default:
		return fmt.Errorf("%w: unknown revoke script status", ErrRedisUnavailable)
	}
}

// RevokeFamily revokes every still-active record in a family in one atomic
// script and removes the family's entries from the user index. Returns the
// number of records transitioned to revoked.
func (s *Store) RevokeFamily(ctx context.Context, userID, familyID, reason string) (int, error) {
	revoked, err := revokeFamilyLua.Run(
		ctx,
		s.redis,
		[]string{s.familyKey(familyID), s.userKey(userID)},
		s.recordKeyPrefix(),
		s.clock().Unix(),
		reason,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(revoked), nil
}

// RevokeAllForUser revokes every still-active record for a user and clears
// the user index. Returns the number of records transitioned to revoked.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	revoked, err := revokeAllForUserLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(userID)},
		s.recordKeyPrefix(),
		s.clock().Unix(),
		reason,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(revoked), nil
}

// Get fetches a record by ID without mutating any Redis state.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, errors.Join(redis.Nil, ErrRecordNotFound)
	}

	return recordFromFields(fields), nil
}

// ListActiveForUser returns the user's active records ordered oldest first
// (creation time ascending, ties broken by ID). Records that expired but
// were never revoked are filtered out at read time.
func (s *Store) ListActiveForUser(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := s.redis.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.clock().Unix()
	records := make([]*Record, 0, len(ids))
	for _, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			continue
		}

		rec := recordFromFields(fields)
		if rec.StateAt(now) != StateActive {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// CountActive returns the number of active records for a user.
func (s *Store) CountActive(ctx context.Context, userID string) (int, error) {
	records, err := s.ListActiveForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := s.clock()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return s.clock().Sub(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.clock().Sub(start), nil
}

func recordFromFields(fields map[string]string) *Record {
	return &Record{
		ID:            fields["id"],
		UserID:        fields["user_id"],
		FamilyID:      fields["family_id"],
		TokenHash:     fields["token_hash"],
		ParentID:      fields["parent_id"],
		ReplacedBy:    fields["replaced_by"],
		CreatedAt:     parseUnix(fields["created_at"]),
		ExpiresAt:     parseUnix(fields["expires_at"]),
		RevokedAt:     parseUnix(fields["revoked_at"]),
		RevokedReason: fields["revoked_reason"],
		RememberMe:    fields["remember"] == "1",
		CreatedByIP:   fields["created_ip"],
	}
}

func parseUnix(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
