package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yahoo/ychaos/verification"
)

// RedisVerificationDataStore persists verification Data in Redis so a
// STEADY-phase run and a later CHAOS-phase run against the same plan ID,
// even from different processes, can share accumulated state.
type RedisVerificationDataStore struct {
	client *redis.Client
	prefix string
}

// NewRedisVerificationDataStore builds a store against an
// already-connected client.
func NewRedisVerificationDataStore(client *redis.Client, prefix string) *RedisVerificationDataStore {
	return &RedisVerificationDataStore{client: client, prefix: prefix}
}

func (r *RedisVerificationDataStore) key(planID string) string {
	return r.prefix + planID
}

func (r *RedisVerificationDataStore) SaveData(ctx context.Context, planID string, data []*verification.Data) error {
	encoded := make([]map[string]any, len(data))
	for i, d := range data {
		encoded[i] = d.EncodedDict()
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(planID), raw, 0).Err()
}

func (r *RedisVerificationDataStore) LoadData(ctx context.Context, planID string) ([]*verification.Data, error) {
	raw, err := r.client.Get(ctx, r.key(planID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("store: no verification data for plan %q", planID)
	}
	if err != nil {
		return nil, err
	}
	var encoded []map[string]any
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	out := make([]*verification.Data, len(encoded))
	for i, e := range encoded {
		out[i] = verification.FromEncodedDict(e)
	}
	return out, nil
}
