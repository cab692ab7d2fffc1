package hitl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/broneotodak/ctk-orchestrator/internal/errs"
)

// RedisStore is the optional Store backend, enabled only when
// CTK_CHECKPOINT_REDIS_URL is set. It stores only the Checkpoint
// marker (run id, phase, decision) under a namespaced key — never the
// baton or any step artifacts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr (a redis:// URL) and returns a RedisStore.
func NewRedisStore(addr string) (*RedisStore, error) {
	const op = "hitl.NewRedisStore"
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, errs.New(op, errs.KindConfigError, err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Put(ctx context.Context, cp Checkpoint) error {
	const op = "hitl.RedisStore.Put"
	data, err := json.Marshal(cp)
	if err != nil {
		return errs.New(op, errs.KindHITLAbort, err)
	}
	if err := s.client.Set(ctx, redisKey(cp.RunID, cp.Phase), data, 0).Err(); err != nil {
		return errs.New(op, errs.KindHITLAbort, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID, phase string) (Checkpoint, bool, error) {
	const op = "hitl.RedisStore.Get"
	data, err := s.client.Get(ctx, redisKey(runID, phase)).Bytes()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, errs.New(op, errs.KindHITLAbort, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, errs.New(op, errs.KindHITLAbort, err)
	}
	return cp, true, nil
}

func redisKey(runID, phase string) string {
	return fmt.Sprintf("ctk:checkpoint:%s:%s", runID, phase)
}
