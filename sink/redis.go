package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/flume/types"
)

// Redis sink defaults.
const (
	DefaultRedisKey     = "flume:events"
	DefaultRedisTimeout = 5 * time.Second
	DefaultRedisMaxLen  = 10000
)

// RedisMode selects how events reach Redis.
type RedisMode string

// Redis delivery modes.
const (
	// RedisModeList pushes events onto a capped list (LPUSH + LTRIM).
	RedisModeList RedisMode = "list"
	// RedisModeChannel publishes events to a pub/sub channel.
	RedisModeChannel RedisMode = "channel"
)

// RedisEncoding selects the record codec.
type RedisEncoding string

// Redis record encodings.
const (
	RedisEncodingJSON    RedisEncoding = "json"
	RedisEncodingMsgpack RedisEncoding = "msgpack"
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Key is the list key or channel name (default flume:events).
	Key string
	// Mode is list or channel (default list).
	Mode RedisMode
	// Encoding is json or msgpack (default json).
	Encoding RedisEncoding
	// MaxLen caps the list length in list mode (default 10000, 0 keeps
	// the default; negative disables trimming).
	MaxLen int64
	// Timeout is the per-operation timeout (default 5s).
	Timeout time.Duration
}

// Redis delivers events to a Redis list or pub/sub channel, encoded as
// JSON or msgpack records.
type Redis struct {
	cfg    RedisConfig
	client *goredis.Client
}

// NewRedis creates a Redis sink from the given config.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, NewError(ErrConfiguration, "redis", "configure", fmt.Errorf("redis URL is required"))
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, NewError(ErrConfiguration, "redis", "configure", fmt.Errorf("invalid URL: %w", err))
	}

	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Mode == "" {
		cfg.Mode = RedisModeList
	}
	if cfg.Mode != RedisModeList && cfg.Mode != RedisModeChannel {
		return nil, NewError(ErrConfiguration, "redis", "configure",
			fmt.Errorf("mode must be %q or %q, got %q", RedisModeList, RedisModeChannel, cfg.Mode))
	}
	if cfg.Encoding == "" {
		cfg.Encoding = RedisEncodingJSON
	}
	if cfg.Encoding != RedisEncodingJSON && cfg.Encoding != RedisEncodingMsgpack {
		return nil, NewError(ErrConfiguration, "redis", "configure",
			fmt.Errorf("encoding must be %q or %q, got %q", RedisEncodingJSON, RedisEncodingMsgpack, cfg.Encoding))
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = DefaultRedisMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}

	return &Redis{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// Name implements Sink.
func (s *Redis) Name() string { return "redis" }

// Write encodes and delivers one event.
func (s *Redis) Write(ctx context.Context, event types.Event) error {
	record, err := s.encode(event)
	if err != nil {
		return NewError(ErrWrite, s.Name(), "encode", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	switch s.cfg.Mode {
	case RedisModeChannel:
		err = s.client.Publish(opCtx, s.cfg.Key, record).Err()
	default:
		pipe := s.client.TxPipeline()
		pipe.LPush(opCtx, s.cfg.Key, record)
		if s.cfg.MaxLen > 0 {
			pipe.LTrim(opCtx, s.cfg.Key, 0, s.cfg.MaxLen-1)
		}
		_, err = pipe.Exec(opCtx)
	}

	if err != nil {
		return WrapWriteError(err, s.Name(), event)
	}
	return nil
}

func (s *Redis) encode(event types.Event) ([]byte, error) {
	if s.cfg.Encoding == RedisEncodingMsgpack {
		return msgpack.Marshal(map[string]any(event))
	}
	return event.EncodeJSON(), nil
}

// Close releases the client connection. Idempotent.
func (s *Redis) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

// Verify Redis implements Sink.
var _ Sink = (*Redis)(nil)
