package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	watchtracker "github.com/httprunner/WatchTracker"
	pkgerrors "github.com/pkg/errors"
)

const redisKeyPrefix = "watchtracker:device:"

// RedisSink caches the latest sighting per device under a TTL.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSink(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisSink, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, pkgerrors.New("registry: redis addr is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, pkgerrors.Wrapf(err, "registry: ping redis %s failed", addr)
	}
	return &RedisSink{client: client, ttl: ttl}, nil
}

// RedisKey is the key holding the latest sighting for deviceID.
func RedisKey(deviceID string) string {
	return fmt.Sprintf("%s%s", redisKeyPrefix, strings.TrimSpace(deviceID))
}

func (s *RedisSink) See(ctx context.Context, sighting watchtracker.Sighting) error {
	raw, err := json.Marshal(sighting)
	if err != nil {
		return pkgerrors.Wrap(err, "registry: marshal sighting failed")
	}
	if err := s.client.Set(ctx, RedisKey(sighting.DeviceID), raw, s.ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, "registry: redis set failed")
	}
	return nil
}

// Latest reads back the cached sighting; ok is false on a miss.
func (s *RedisSink) Latest(ctx context.Context, deviceID string) (watchtracker.Sighting, bool, error) {
	var sighting watchtracker.Sighting
	raw, err := s.client.Get(ctx, RedisKey(deviceID)).Bytes()
	if err == redis.Nil {
		return sighting, false, nil
	}
	if err != nil {
		return sighting, false, pkgerrors.Wrap(err, "registry: redis get failed")
	}
	if err := json.Unmarshal(raw, &sighting); err != nil {
		return sighting, false, pkgerrors.Wrap(err, "registry: decode cached sighting failed")
	}
	return sighting, true, nil
}

func (s *RedisSink) Close() error { return s.client.Close() }

func (s *RedisSink) Name() string { return "redis" }
