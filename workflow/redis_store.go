package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/dialogmesh/brain/core"
)

// Store persists workflow instances.
type Store interface {
	SaveInstance(ctx context.Context, instance *Instance) error
	GetInstance(ctx context.Context, workflowInstanceID string) (*Instance, error)
	ActiveInstances(ctx context.Context) ([]*Instance, error)
}

// RedisStore implements Store on Redis. Layout under the configured
// prefix:
//
//	{p}workflow:instance:{id}  instance JSON
//	{p}workflow:active         ZSET of unsettled instance ids by timeout_at
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a workflow store over a connected client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = core.DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) instanceKey(id string) string {
	return s.prefix + "workflow:instance:" + id
}

func (s *RedisStore) activeKey() string { return s.prefix + "workflow:active" }

// SaveInstance upserts an instance and maintains the active index.
func (s *RedisStore) SaveInstance(ctx context.Context, instance *Instance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("serializing workflow instance %s: %w", instance.WorkflowInstanceID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.instanceKey(instance.WorkflowInstanceID), data, 0)
	if instance.Status.Terminal() {
		pipe.ZRem(ctx, s.activeKey(), instance.WorkflowInstanceID)
	} else {
		pipe.ZAdd(ctx, s.activeKey(), &redis.Z{
			Score:  float64(instance.TimeoutAt.UnixNano()),
			Member: instance.WorkflowInstanceID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving workflow instance %s: %w", instance.WorkflowInstanceID, err)
	}
	return nil
}

// GetInstance loads one instance.
func (s *RedisStore) GetInstance(ctx context.Context, workflowInstanceID string) (*Instance, error) {
	val, err := s.client.Get(ctx, s.instanceKey(workflowInstanceID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("workflow instance %s: %w", workflowInstanceID, core.ErrWorkflowNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow instance %s: %w", workflowInstanceID, err)
	}
	var instance Instance
	if err := json.Unmarshal([]byte(val), &instance); err != nil {
		return nil, fmt.Errorf("decoding workflow instance %s: %w", workflowInstanceID, err)
	}
	return &instance, nil
}

// ActiveInstances returns unsettled instances ordered by timeout.
func (s *RedisStore) ActiveInstances(ctx context.Context) ([]*Instance, error) {
	ids, err := s.client.ZRange(ctx, s.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active workflow instances: %w", err)
	}
	instances := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		instance, err := s.GetInstance(ctx, id)
		if err != nil {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}
