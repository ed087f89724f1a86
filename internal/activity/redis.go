package activity

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// redisPublisher is the subset of *redis.Client the sink needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes activity on a Redis pub/sub channel.
type RedisSink struct {
	client  redisPublisher
	channel string
}

// NewRedisSink connects to Redis and verifies the connection with PING.
func NewRedisSink(cfg Config) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	log.Printf("Publishing room activity to redis channel %q at %s", cfg.RedisChannel, cfg.RedisAddr)
	return newRedisSink(client, cfg.RedisChannel), nil
}

func newRedisSink(client redisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Publish sends one activity document to the channel.
func (s *RedisSink) Publish(ctx context.Context, a room.Activity) error {
	payload, err := Encode(a)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", s.channel, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
