// Package redisstore provides a Redis-backed reading source. Each gateway's
// readings live in one sorted set scored by Unix time, so a lookback query
// is a single ZRangeByScore.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
)

// Source reads and writes gateway readings in Redis.
type Source struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Source, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Source{client: client}, nil
}

func key(gatewayID string) string {
	return "readings:" + gatewayID
}

// Query returns the gateway's readings with Time >= since and Type in the
// given set, ordered by time.
func (s *Source) Query(ctx context.Context, gatewayID string, since int64, types []readings.SignalType) ([]readings.Reading, error) {
	members, err := s.client.ZRangeByScore(ctx, key(gatewayID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query readings for gateway %s: %w", gatewayID, err)
	}

	wanted := make(map[readings.SignalType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	out := make([]readings.Reading, 0, len(members))
	for _, m := range members {
		var r readings.Reading
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			// Malformed member; skip rather than fail the query.
			continue
		}
		if _, ok := wanted[r.Type]; !ok {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Add stores one reading under the gateway's sorted set.
func (s *Source) Add(ctx context.Context, gatewayID string, r readings.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	return s.client.ZAdd(ctx, key(gatewayID), redis.Z{
		Score:  float64(r.Time),
		Member: data,
	}).Err()
}

// Ping checks Redis availability.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Source) Close() error {
	return s.client.Close()
}
