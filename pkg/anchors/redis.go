package anchors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash that holds the anchors when none is configured.
const DefaultRedisKey = "pcclite:anchors"

// Hash fields. Budgets are stored one field per class as budget:<CLASS>.
const (
	fieldVersion      = "version"
	fieldEpoch        = "epoch"
	fieldConstitution = "constitution_hash_current"
	fieldEnergyPolicy = "energy_policy_hash_current"
	budgetPrefix      = "budget:"
)

// RedisSource reads the anchors from a single Redis hash, letting a fleet
// of verifiers share one published snapshot.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource connects to addr and reads the hash at key.
func NewRedisSource(addr, password string, db int, key string) *RedisSource {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSourceFromClient(rdb, key)
}

// NewRedisSourceFromClient wraps an existing client.
func NewRedisSourceFromClient(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

// Ping checks connectivity.
func (r *RedisSource) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *RedisSource) Close() error {
	return r.client.Close()
}

func (r *RedisSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("anchors: redis HGETALL %s: %w", r.key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: redis key %s is empty", ErrInvalid, r.key)
	}
	return decodeHash(fields)
}

func decodeHash(fields map[string]string) (*Snapshot, error) {
	s := &Snapshot{EnergyBudgetUJ: map[string]int64{}}
	for k, v := range fields {
		switch {
		case k == fieldVersion:
			s.Version = v
		case k == fieldEpoch:
			s.Epoch = v
		case k == fieldConstitution:
			s.ConstitutionHashCurrent = v
		case k == fieldEnergyPolicy:
			s.EnergyPolicyHashCurrent = v
		case strings.HasPrefix(k, budgetPrefix):
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, k, v, err)
			}
			s.EnergyBudgetUJ[strings.TrimPrefix(k, budgetPrefix)] = n
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// encodeHash renders s in the field layout RedisSource reads.
func encodeHash(s *Snapshot) map[string]any {
	out := map[string]any{
		fieldConstitution: s.ConstitutionHashCurrent,
		fieldEnergyPolicy: s.EnergyPolicyHashCurrent,
	}
	if s.Version != "" {
		out[fieldVersion] = s.Version
	}
	if s.Epoch != "" {
		out[fieldEpoch] = s.Epoch
	}
	for class, b := range s.EnergyBudgetUJ {
		out[budgetPrefix+class] = strconv.FormatInt(b, 10)
	}
	return out
}
