package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dom/school-portal/internal/crypto"
	"github.com/dom/school-portal/internal/domain"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	userSetPrefix    = "session:user:"
)

// NewClient connects to the Redis instance named by a redis:// URL and
// verifies the connection.
func NewClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// The scripts run atomically on the server, which is what makes rotation a
// single claim-and-replace step.
var (
	createScript = goredis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`)

	rotateScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SREM', KEYS[3], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
if redis.call('PTTL', KEYS[3]) < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[3], ARGV[2])
end
return 1
`)

	deleteScript = goredis.NewScript(`
local owner = redis.call('GET', KEYS[1])
redis.call('DEL', KEYS[1])
if owner then
  redis.call('SREM', ARGV[1] .. owner, ARGV[2])
end
return 1
`)

	deleteByUserScript = goredis.NewScript(`
local hashes = redis.call('SMEMBERS', KEYS[1])
for _, h in ipairs(hashes) do
  redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[1])
return #hashes
`)
)

// SessionStore keeps refresh-token sessions in Redis. Each session is a key
// holding the owner's id with a TTL; a per-user set indexes them for
// DeleteByUser.
type SessionStore struct {
	client goredis.UniversalClient
}

func NewSessionStore(client goredis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.ErrSessionTTL
	}
	hash := crypto.HashToken(token)
	err := createScript.Run(ctx, s.client,
		[]string{sessionKey(hash), userSetKey(userID)},
		userID.String(), ttl.Milliseconds(), hash,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SessionStore) Lookup(ctx context.Context, token string) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, sessionKey(crypto.HashToken(token))).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to look up session: %w", err)
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt session value: %w", err)
	}
	return userID, true, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	hash := crypto.HashToken(token)
	err := deleteScript.Run(ctx, s.client,
		[]string{sessionKey(hash)},
		userSetPrefix, hash,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) Rotate(ctx context.Context, oldToken, newToken string, userID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.ErrSessionTTL
	}
	oldHash := crypto.HashToken(oldToken)
	newHash := crypto.HashToken(newToken)

	claimed, err := rotateScript.Run(ctx, s.client,
		[]string{sessionKey(oldHash), sessionKey(newHash), userSetKey(userID)},
		userID.String(), ttl.Milliseconds(), oldHash, newHash,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to rotate session: %w", err)
	}
	if claimed == 0 {
		return domain.ErrTokenInvalid
	}
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	err := deleteByUserScript.Run(ctx, s.client,
		[]string{userSetKey(userID)},
		sessionKeyPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired prunes per-user index entries whose session key has already
// expired. The session keys themselves are removed by Redis TTLs.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	var removed int64

	iter := s.client.Scan(ctx, 0, userSetPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		hashes, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to read %s: %w", setKey, err)
		}
		for _, hash := range hashes {
			exists, err := s.client.Exists(ctx, sessionKey(hash)).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to check session: %w", err)
			}
			if exists == 0 {
				n, err := s.client.SRem(ctx, setKey, hash).Result()
				if err != nil {
					return removed, fmt.Errorf("failed to prune %s: %w", setKey, err)
				}
				removed += n
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return removed, nil
}

func sessionKey(hash string) string {
	return sessionKeyPrefix + hash
}

func userSetKey(userID uuid.UUID) string {
	return userSetPrefix + userID.String()
}
