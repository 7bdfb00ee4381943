package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelops/driftwatch/pkg/summary"
)

const (
	redisVersionPrefix  = "driftwatch:version:"
	redisBaselinePrefix = "driftwatch:baseline:"
	redisCurrentKey     = "driftwatch:current"
	redisVersionsKey    = "driftwatch:versions"
	redisEvaluationsKey = "driftwatch:evaluations"
	redisJobsKey        = "driftwatch:jobs"
)

// redisUnsetCurrent is stored in the current key when no version is in
// production, so compare-and-swap can distinguish "unset" from "missing".
const redisUnsetCurrent = "-"

// RedisStore implements the Store interface using Redis as a backend.
// It enables multi-instance monitor deployments by providing shared,
// restart-surviving storage for versions, baselines, the production
// pointer, and the evaluation history.
type RedisStore struct {
	client *redis.Client
	mu     sync.Mutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//
// Returns an error if the connection to Redis fails or if parameters are
// invalid.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) PutVersion(ctx context.Context, v Version) error {
	if err := v.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisVersionPrefix+v.ID, data, 0)
	pipe.ZAdd(ctx, redisVersionsKey, redis.Z{
		Score:  float64(v.CreatedAt.UnixNano()),
		Member: v.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store version in redis: %w", err)
	}
	return nil
}

func (r *RedisStore) GetVersion(ctx context.Context, id string) (Version, bool, error) {
	if id == "" {
		return Version{}, false, errors.New("version id required")
	}

	data, err := r.client.Get(ctx, redisVersionPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Version{}, false, nil
		}
		return Version{}, false, fmt.Errorf("failed to get version from redis: %w", err)
	}

	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return Version{}, false, fmt.Errorf("failed to unmarshal version: %w", err)
	}
	return v, true, nil
}

func (r *RedisStore) ListVersions(ctx context.Context) ([]Version, error) {
	ids, err := r.client.ZRevRange(ctx, redisVersionsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list version ids from redis: %w", err)
	}

	out := make([]Version, 0, len(ids))
	for _, id := range ids {
		v, found, err := r.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *RedisStore) CurrentID(ctx context.Context) (string, error) {
	id, err := r.client.Get(ctx, redisCurrentKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get current pointer from redis: %w", err)
	}
	if id == redisUnsetCurrent {
		return "", nil
	}
	return id, nil
}

// SetCurrentID performs the compare-and-swap with a WATCH transaction so
// concurrent promotions from other instances fail cleanly rather than
// silently overwriting each other.
func (r *RedisStore) SetCurrentID(ctx context.Context, expect, next string) error {
	txn := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, redisCurrentKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			cur = ""
		case err != nil:
			return fmt.Errorf("failed to read current pointer: %w", err)
		case cur == redisUnsetCurrent:
			cur = ""
		}

		if cur != expect {
			return ErrConcurrentPromotion
		}

		stored := next
		if stored == "" {
			stored = redisUnsetCurrent
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisCurrentKey, stored, 0)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txn, redisCurrentKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConcurrentPromotion
	}
	return err
}

func (r *RedisStore) PutBaseline(ctx context.Context, b summary.Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}

	if err := r.client.Set(ctx, redisBaselinePrefix+b.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store baseline in redis: %w", err)
	}
	return nil
}

func (r *RedisStore) GetBaseline(ctx context.Context, id string) (summary.Baseline, bool, error) {
	if id == "" {
		return summary.Baseline{}, false, errors.New("baseline id required")
	}

	data, err := r.client.Get(ctx, redisBaselinePrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return summary.Baseline{}, false, nil
		}
		return summary.Baseline{}, false, fmt.Errorf("failed to get baseline from redis: %w", err)
	}

	var b summary.Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return summary.Baseline{}, false, fmt.Errorf("failed to unmarshal baseline: %w", err)
	}
	return b, true, nil
}

// AppendEvaluation pushes onto a Redis list and trims it to the history
// cap, keeping newest entries at the head.
func (r *RedisStore) AppendEvaluation(ctx context.Context, e Evaluation) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, redisEvaluationsKey, data)
	pipe.LTrim(ctx, redisEvaluationsKey, 0, DefaultEvaluationHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append evaluation in redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Evaluations(ctx context.Context, limit int) ([]Evaluation, error) {
	if limit <= 0 || limit > DefaultEvaluationHistory {
		limit = DefaultEvaluationHistory
	}

	items, err := r.client.LRange(ctx, redisEvaluationsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations from redis: %w", err)
	}

	out := make([]Evaluation, 0, len(items))
	for _, item := range items {
		var e Evaluation
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// AppendJob mirrors AppendEvaluation: LPush plus LTrim keeps the newest
// job records at the head of a capped list.
func (r *RedisStore) AppendJob(ctx context.Context, j JobRecord) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, redisJobsKey, data)
	pipe.LTrim(ctx, redisJobsKey, 0, DefaultJobHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append job record in redis: %w", err)
	}
	return nil
}

func (r *RedisStore) JobHistory(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 || limit > DefaultJobHistory {
		limit = DefaultJobHistory
	}

	items, err := r.client.LRange(ctx, redisJobsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job records from redis: %w", err)
	}

	out := make([]JobRecord, 0, len(items))
	for _, item := range items {
		var j JobRecord
		if err := json.Unmarshal([]byte(item), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
		}
		out = append(out, j)
	}
	return out, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
