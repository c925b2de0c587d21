package redis

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/bundle"
	"github.com/ericzhng/jobmanager/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCodec sets the codec for persisted bundles. Defaults to MessagePack.
func WithCodec(c bundle.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// Store implements work.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	codec  bundle.Codec
	logger *slog.Logger
	closed atomic.Bool
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, codec: bundle.Msgpack{}, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate loads the Lua scripts so the first claim does not pay for it.
func (s *Store) Migrate(ctx context.Context) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	for _, sc := range []*redis.Script{claimScript, cancelScript, enqueueScript} {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	return s.client.Ping(ctx).Err()
}

// Close marks the store closed. The caller owns the Redis client lifecycle,
// so the client itself is left open.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
