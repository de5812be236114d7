package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/warp/slot-admin/generic"
)

const channelPrefix = "chat:room:"

// Channel returns the redis channel for roomID.
func Channel(roomID string) string {
	return channelPrefix + roomID
}

// RedisBroker fans payloads out across instances through redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger generic.Logger
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisBroker(client *redis.Client, logger generic.Logger) *RedisBroker {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, roomID string, payload []byte) error {
	if err := b.client.Publish(ctx, Channel(roomID), payload).Err(); err != nil {
		return generic.RemoteIO("redis publish", err)
	}
	return nil
}

// Run subscribes to every room channel and delivers until ctx is done.
func (b *RedisBroker) Run(ctx context.Context, deliver func(roomID string, payload []byte)) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return generic.RemoteIO("redis psubscribe", err)
	}
	b.logger.Printf("realtime: subscribed to %s*", channelPrefix)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID := strings.TrimPrefix(msg.Channel, channelPrefix)
			deliver(roomID, []byte(msg.Payload))
		}
	}
}
