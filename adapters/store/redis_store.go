package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/layer-3/sigauth/core"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sigauth:"

// consumeScript marks a challenge hash consumed if wallet and purpose match,
// it is not consumed yet and its expiry is not in the past. It returns the
// hash fields as a flat list, or nil when nothing was consumed.
var consumeScript = redis.NewScript(`
local h = redis.call('HGETALL', KEYS[1])
if #h == 0 then return false end
local f = {}
for i = 1, #h, 2 do f[h[i]] = h[i + 1] end
if f['wallet'] ~= ARGV[1] or f['purpose'] ~= ARGV[2] then return false end
if f['consumed_at'] ~= nil and f['consumed_at'] ~= '' then return false end
if tonumber(f['expires_at']) < tonumber(ARGV[3]) then return false end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[3])
return h
`)

// rotateScript swaps a session fingerprint only if the presented one is current.
var rotateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'hash')
if not cur or cur ~= ARGV[1] then return 0 end
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if not exp or tonumber(exp) <= tonumber(ARGV[5]) then return 0 end
redis.call('HSET', KEYS[1], 'role', ARGV[2], 'hash', ARGV[3], 'expires_at', ARGV[4], 'updated_at', ARGV[5])
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
return 1
`)

// RedisStore implements the ChallengeStore, RoleStore and SessionStore
// interfaces on a single Redis client
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
}

func (s *RedisStore) challengeKey(id string) string { return s.prefix + "challenge:" + id }
func (s *RedisStore) roleKey(wallet string) string  { return s.prefix + "role:" + wallet }
func (s *RedisStore) sessionKey(wallet string) string {
	return s.prefix + "session:" + wallet
}

// Create stores the challenge as a hash expiring with the challenge
func (s *RedisStore) Create(ctx context.Context, challenge *core.Challenge) error {
	key := s.challengeKey(challenge.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", challenge.ID,
			"wallet", challenge.Wallet,
			"purpose", string(challenge.Purpose),
			"nonce", challenge.Nonce,
			"chain_id", strconv.FormatInt(challenge.ChainID, 10),
			"domain", challenge.Domain,
			"created_at", strconv.FormatInt(challenge.CreatedAt.UnixMilli(), 10),
			"expires_at", strconv.FormatInt(challenge.ExpiresAt.UnixMilli(), 10),
		)
		pipe.PExpireAt(ctx, key, challenge.ExpiresAt)
		return nil
	})
	if err != nil {
		return core.Unavailable("create challenge", err)
	}
	return nil
}

// Consume atomically marks the challenge consumed
func (s *RedisStore) Consume(ctx context.Context, wallet, challengeID string, purpose core.Purpose, now time.Time) (*core.Challenge, error) {
	fields, err := consumeScript.Run(ctx, s.client,
		[]string{s.challengeKey(challengeID)},
		wallet, string(purpose), now.UnixMilli(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, core.Unavailable("consume challenge", err)
	}

	ch, err := challengeFromFields(fields)
	if err != nil {
		return nil, core.Unavailable("decode challenge", err)
	}
	consumedAt := now
	ch.ConsumedAt = &consumedAt
	return ch, nil
}

// DeleteExpired is a no-op: challenge keys carry a Redis expiry
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func challengeFromFields(flat []string) (*core.Challenge, error) {
	if len(flat)%2 != 0 {
		return nil, errors.New("odd field list")
	}
	f := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		f[flat[i]] = flat[i+1]
	}

	chainID, err := strconv.ParseInt(f["chain_id"], 10, 64)
	if err != nil {
		return nil, err
	}
	createdAt, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, err
	}
	expiresAt, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, err
	}

	return &core.Challenge{
		ID:        f["id"],
		Wallet:    f["wallet"],
		Purpose:   core.Purpose(f["purpose"]),
		Nonce:     f["nonce"],
		ChainID:   chainID,
		Domain:    f["domain"],
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
	}, nil
}

// Get returns the wallet's role
func (s *RedisStore) Get(ctx context.Context, wallet string) (core.Role, error) {
	val, err := s.client.Get(ctx, s.roleKey(wallet)).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrRoleNotFound
	}
	if err != nil {
		return "", core.Unavailable("get role", err)
	}
	role, err := core.ParseRole(val)
	if err != nil {
		return "", core.Unavailable("decode role", err)
	}
	return role, nil
}

// PutIfAbsent stores role with SETNX and returns the winning role
func (s *RedisStore) PutIfAbsent(ctx context.Context, wallet string, role core.Role, now time.Time) (core.Role, error) {
	ok, err := s.client.SetNX(ctx, s.roleKey(wallet), string(role), 0).Result()
	if err != nil {
		return "", core.Unavailable("put role", err)
	}
	if ok {
		return role, nil
	}
	return s.Get(ctx, wallet)
}

// Record upserts the wallet's session hash
func (s *RedisStore) Record(ctx context.Context, session *core.Session) error {
	key := s.sessionKey(session.Wallet)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"role", string(session.Role),
			"hash", session.RefreshTokenHash,
			"expires_at", strconv.FormatInt(session.ExpiresAt.UnixMilli(), 10),
			"created_at", strconv.FormatInt(session.CreatedAt.UnixMilli(), 10),
			"updated_at", strconv.FormatInt(session.UpdatedAt.UnixMilli(), 10),
		)
		pipe.PExpireAt(ctx, key, session.ExpiresAt)
		return nil
	})
	if err != nil {
		return core.Unavailable("record session", err)
	}
	return nil
}

// FindActive reports whether hash is the wallet's current fingerprint
func (s *RedisStore) FindActive(ctx context.Context, wallet, refreshTokenHash string, now time.Time) (bool, error) {
	vals, err := s.client.HMGet(ctx, s.sessionKey(wallet), "hash", "expires_at").Result()
	if err != nil {
		return false, core.Unavailable("find session", err)
	}
	hash, _ := vals[0].(string)
	exp, _ := vals[1].(string)
	if hash == "" || exp == "" {
		return false, nil
	}
	expiresAt, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return false, core.Unavailable("decode session", err)
	}
	return hashEqual(hash, refreshTokenHash) && now.UnixMilli() < expiresAt, nil
}

// Rotate swaps the fingerprint with a compare-and-set script
func (s *RedisStore) Rotate(ctx context.Context, wallet, oldHash string, next *core.Session) (bool, error) {
	n, err := rotateScript.Run(ctx, s.client,
		[]string{s.sessionKey(wallet)},
		oldHash, string(next.Role), next.RefreshTokenHash,
		next.ExpiresAt.UnixMilli(), next.UpdatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, core.Unavailable("rotate session", err)
	}
	return n == 1, nil
}

// Revoke deletes the wallet's session
func (s *RedisStore) Revoke(ctx context.Context, wallet string) error {
	if err := s.client.Del(ctx, s.sessionKey(wallet)).Err(); err != nil {
		return core.Unavailable("revoke session", err)
	}
	return nil
}
