package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// ErrUnknownSink is returned by NewSink for an unrecognised sink name.
var ErrUnknownSink = errors.New("unknown activity sink")

// Sink delivers encoded activity to a backend.
type Sink interface {
	Publish(ctx context.Context, a room.Activity) error
	Close() error
}

// NewSink builds the sink named by cfg.Sink.
func NewSink(cfg Config) (Sink, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", SinkNone:
		return nopSink{}, nil
	case SinkLog:
		return logSink{}, nil
	case SinkRedis:
		return NewRedisSink(cfg)
	case SinkKafka:
		return NewKafkaSink(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Sink)
	}
}

// Encode renders activity as the JSON document published to every backend.
func Encode(a room.Activity) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s activity: %w", a.Kind, err)
	}
	return data, nil
}

type nopSink struct{}

func (nopSink) Publish(context.Context, room.Activity) error { return nil }
func (nopSink) Close() error                                 { return nil }

type logSink struct{}

func (logSink) Publish(_ context.Context, a room.Activity) error {
	if a.ConnID != "" {
		log.Printf("Room %s: %s (%s %s), %d members", a.RoomID, a.Kind, a.ConnID, a.Name, a.Members)
		return nil
	}
	log.Printf("Room %s: %s", a.RoomID, a.Kind)
	return nil
}

func (logSink) Close() error { return nil }
