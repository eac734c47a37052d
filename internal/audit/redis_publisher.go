package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher mirrors audit events onto Redis pub/sub so external
// collectors can tail them. Local trail delivery never depends on it: a
// publish failure is logged and dropped.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPublisher connects to Redis and verifies connectivity with a
// ping. The caller decides whether a connection failure is fatal or means
// running without an external sink.
func NewRedisPublisher(addr, password string, db int, prefix string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("audit redis publisher connected", "addr", addr, "db", db)
	return &RedisPublisher{rdb: rdb, prefix: prefix}, nil
}

// Publish sends the event to channel <prefix><type>. Asynchronous and
// best-effort.
func (p *RedisPublisher) Publish(event *Event) {
	go func() {
		data, err := json.Marshal(event)
		if err != nil {
			slog.Warn("audit event marshal failed", "id", event.ID, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		channel := p.prefix + string(event.Type)
		if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
			slog.Warn("audit event publish failed, local trail only",
				"type", event.Type, "error", err)
		}
	}()
}

// Close shuts down the underlying client.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
