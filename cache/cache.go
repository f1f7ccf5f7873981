// Package cache provides the shared store and pub/sub bus that carry
// replication traffic between nodes. Redis backs multi-node sessions; the
// in-process implementation serves single-node sessions and tests.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/corrosion/cache/local"
	cacheredis "github.com/kasuganosora/corrosion/cache/redis"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the key/value and list surface used for leases, snapshots and
// command history.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// CompareAndExpire and CompareAndDel act only while key holds expect,
	// atomically with the comparison.
	CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error)
	CompareAndDel(ctx context.Context, key, expect string) (bool, error)

	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig holds configuration for both Redis and the local store.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// Distributed reports whether the config points at a shared Redis.
func (c CacheConfig) Distributed() bool { return c.RedisAddr != "" }

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise an in-process store.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		rc, err := cacheredis.NewCache(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &store{inner: rc, notFound: cacheredis.ErrNotFound}, nil
	}
	lc, err := local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
	if err != nil {
		return nil, err
	}
	return &store{inner: lc, notFound: local.ErrNotFound}, nil
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process fan-out bus.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	bufSize := cfg.LocalPubSubBuf
	if bufSize <= 0 {
		bufSize = 256
	}
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &pubsub{sub: func(ctx context.Context, chs ...string) (<-chan *Message, func(), error) {
			in, cancel, err := rps.Subscribe(ctx, chs...)
			if err != nil {
				return nil, nil, err
			}
			return relay(in, func(m *cacheredis.RedisMessage) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} }), cancel, nil
		}, pub: rps.Publish}, nil
	}
	lps := local.NewPubSub(bufSize)
	return &pubsub{sub: func(ctx context.Context, chs ...string) (<-chan *Message, func(), error) {
		in, cancel, err := lps.Subscribe(ctx, chs...)
		if err != nil {
			return nil, nil, err
		}
		return relay(in, func(m *local.LocalMessage) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} }), cancel, nil
	}, pub: lps.Publish}, nil
}

// NewLocal returns a connected in-process store and bus, used by single-node
// sessions and tests.
func NewLocal() (Cache, PubSub) {
	c, _ := NewCache(CacheConfig{})
	ps, _ := NewPubSub(CacheConfig{})
	return c, ps
}

// ---- adapters over the backend packages ----

type backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error)
	CompareAndDel(ctx context.Context, key, expect string) (bool, error)
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

type store struct {
	inner    backend
	notFound error
}

func (s *store) mapErr(err error) error {
	if err != nil && errors.Is(err, s.notFound) {
		return ErrNotFound
	}
	return err
}

func (s *store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.inner.Get(ctx, key)
	return v, s.mapErr(err)
}

func (s *store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.inner.Set(ctx, key, value, ttl)
}

func (s *store) Del(ctx context.Context, keys ...string) error {
	return s.inner.Del(ctx, keys...)
}

func (s *store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.inner.SetNX(ctx, key, value, ttl)
}

func (s *store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.mapErr(s.inner.Expire(ctx, key, ttl))
}

func (s *store) CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error) {
	return s.inner.CompareAndExpire(ctx, key, expect, ttl)
}

func (s *store) CompareAndDel(ctx context.Context, key, expect string) (bool, error) {
	return s.inner.CompareAndDel(ctx, key, expect)
}

func (s *store) LPush(ctx context.Context, key string, values ...string) error {
	return s.inner.LPush(ctx, key, values...)
}

func (s *store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.inner.LRange(ctx, key, start, stop)
}

func (s *store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.inner.LTrim(ctx, key, start, stop)
}

type pubsub struct {
	sub func(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
	pub func(ctx context.Context, channel, message string) error
}

func (p *pubsub) Publish(ctx context.Context, channel, message string) error {
	return p.pub(ctx, channel, message)
}

func (p *pubsub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	return p.sub(ctx, channels...)
}

// relay converts backend messages until the backend channel closes.
func relay[T any](in <-chan T, conv func(T) *Message) <-chan *Message {
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for m := range in {
			out <- conv(m)
		}
	}()
	return out
}
