package fleet

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps driver:{id}:status hashes with "available" and
// "current_ride" fields so every gateway process sees the same state.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func StatusKey(driverID string) string { return "driver:" + driverID + ":status" }

var releaseScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "current_ride")
if cur and cur ~= "" and cur ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "available", "true", "current_ride", "")
return 1
`)

var clearScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "current_ride")
if cur and cur ~= "" then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

func (r *RedisStore) Get(ctx context.Context, driverID string) (Status, error) {
	m, err := r.client.HGetAll(ctx, StatusKey(driverID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("driver status %s: %w", driverID, err)
	}
	if len(m) == 0 {
		return Status{}, nil
	}
	return Status{Known: true, Available: m["available"] == "true", CurrentRide: m["current_ride"]}, nil
}

func (r *RedisStore) MarkAvailableIfUnset(ctx context.Context, driverID string) error {
	return r.client.HSetNX(ctx, StatusKey(driverID), "available", "true").Err()
}

func (r *RedisStore) Bind(ctx context.Context, driverID, rideID string) error {
	return r.client.HSet(ctx, StatusKey(driverID), "available", "false", "current_ride", rideID).Err()
}

func (r *RedisStore) Release(ctx context.Context, driverID, rideID string) error {
	return releaseScript.Run(ctx, r.client, []string{StatusKey(driverID)}, rideID).Err()
}

func (r *RedisStore) Clear(ctx context.Context, driverID string) (bool, error) {
	n, err := clearScript.Run(ctx, r.client, []string{StatusKey(driverID)}).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
