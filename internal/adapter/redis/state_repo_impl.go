package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
)

const statePrefix = "audit_state:"

// releaseScript deletes the lock only when the caller still owns it, so a
// slow invocation cannot release a lock that already expired and was
// re-acquired by someone else.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// StateRepoImpl provides a concrete implementation for the StateRepository
// interface using Redis.
type StateRepoImpl struct {
	client *redis.Client
}

// NewStateRepo creates a new instance of StateRepoImpl.
func NewStateRepo(client *redis.Client) *StateRepoImpl {
	return &StateRepoImpl{client: client}
}

func (r *StateRepoImpl) key(k string) string {
	return statePrefix + k
}

// GetString returns "" without error for unset keys.
func (r *StateRepoImpl) GetString(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (r *StateRepoImpl) SetString(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

// SetStringTTL sets a value that expires on its own.
func (r *StateRepoImpl) SetStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *StateRepoImpl) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *StateRepoImpl) GetBool(ctx context.Context, key string) (bool, error) {
	val, err := r.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (r *StateRepoImpl) SetBool(ctx context.Context, key string, value bool) error {
	val := "0"
	if value {
		val = "1"
	}
	return r.SetString(ctx, key, val)
}

// GetTime returns the zero time without error for unset keys.
func (r *StateRepoImpl) GetTime(ctx context.Context, key string) (time.Time, error) {
	val, err := r.GetString(ctx, key)
	if err != nil || val == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (r *StateRepoImpl) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.SetString(ctx, key, t.Format(time.RFC3339Nano))
}

// Messages returns the persisted pause reasons, empty when none.
func (r *StateRepoImpl) Messages(ctx context.Context) ([]entity.Message, error) {
	val, err := r.GetString(ctx, repository.KeyMessages)
	if err != nil || val == "" {
		return nil, err
	}
	var msgs []entity.Message
	if err := json.Unmarshal([]byte(val), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *StateRepoImpl) SetMessages(ctx context.Context, msgs []entity.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return r.SetString(ctx, repository.KeyMessages, string(data))
}

func (r *StateRepoImpl) ClearMessages(ctx context.Context) error {
	return r.Delete(ctx, repository.KeyMessages)
}

// AcquireLock takes a TTL'd exclusive lock via SET NX and returns an owner
// token. The TTL lets the system self-heal when a holder dies mid-pass.
func (r *StateRepoImpl) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases the lock only if token still owns it.
func (r *StateRepoImpl) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{r.key(key)}, token).Err()
}
