// Package activity publishes room lifecycle events to an external feed.
//
// The coordinator reports activity synchronously; a Dispatcher queues it and
// a single worker hands each event to the configured Sink, so a slow or
// unreachable backend never stalls room operations.
package activity

import "time"

// Sink names accepted by NewSink.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Config selects and configures the activity sink.
type Config struct {
	Sink           string
	BufferSize     int
	PublishTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	KafkaBrokers []string
	KafkaTopic   string
}

// DefaultConfig returns a config that logs activity locally.
func DefaultConfig() Config {
	return Config{
		Sink:           SinkLog,
		BufferSize:     256,
		PublishTimeout: 5 * time.Second,
		RedisAddr:      "localhost:6379",
		RedisChannel:   "roomrelay:activity",
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "roomrelay-activity",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.RedisChannel == "" {
		c.RedisChannel = def.RedisChannel
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = def.KafkaTopic
	}
	return c
}
