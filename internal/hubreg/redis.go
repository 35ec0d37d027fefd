package hubreg

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cocalc-hub/internal/rediscache"
	"cocalc-hub/internal/storage"
)

// RedisMirror keeps a hash per hub under hub:meta:<host>:<port> that
// expires with the registration.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(addr string) *RedisMirror {
	return &RedisMirror{client: redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})}
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Publish(ctx context.Context, reg storage.HubRegistration, ttl time.Duration) error {
	id := rediscache.HubID(reg.Host, reg.Port)
	key := rediscache.MetaKey(rediscache.Hubs, id)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"host", reg.Host,
			"port", strconv.Itoa(reg.Port),
			"clients", strconv.Itoa(reg.Clients),
			"expire", strconv.FormatInt(reg.Expire.UnixMilli(), 10),
		)
		pipe.Expire(ctx, key, ttl)
		pipe.ZAdd(ctx, rediscache.Hubs.IndexKey, redis.Z{Score: float64(reg.Expire.Unix()), Member: id})
		pipe.ZRemRangeByScore(ctx, rediscache.Hubs.IndexKey, "-inf", strconv.FormatInt(time.Now().Unix(), 10))
		pipe.Set(ctx, rediscache.MarkerKey, rediscache.MarkerValue, 0)
		return nil
	})
	return err
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
