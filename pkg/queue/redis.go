package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client the queue uses. It exists
// so tests can substitute an in-memory fake.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ RedisClient = (*redis.Client)(nil)

// RedisOptions configures broker health probing. Zero values use defaults.
type RedisOptions struct {
	// MaxPingRetries bounds reconnect attempts per Ping call. Default 5.
	MaxPingRetries int

	// PingBackoffInitial is the first retry pause. Default 100ms.
	PingBackoffInitial time.Duration

	// PingBackoffMax caps the retry pause. Default 2s.
	PingBackoffMax time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Redis is a Queue backed by a shared Redis broker. Messages live in a list
// per client key (LPUSH to produce, BRPOP to consume), so queues survive
// process restarts for as long as the broker retains them.
//
// The client connection is shared process-wide and must be constructed by the
// composition root and passed in.
type Redis struct {
	c   RedisClient
	log *slog.Logger

	maxRetries int
	boInitial  time.Duration
	boMax      time.Duration

	// pingMu serializes reconnect probing: one attempt in flight at a time,
	// shared by every session's health check.
	pingMu sync.Mutex
}

// NewRedis creates a Redis queue on top of an existing client.
func NewRedis(client RedisClient, opts *RedisOptions) *Redis {
	if opts == nil {
		opts = &RedisOptions{}
	}
	q := &Redis{
		c:          client,
		log:        opts.Logger,
		maxRetries: opts.MaxPingRetries,
		boInitial:  opts.PingBackoffInitial,
		boMax:      opts.PingBackoffMax,
	}
	if q.log == nil {
		q.log = slog.Default()
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 5
	}
	if q.boInitial <= 0 {
		q.boInitial = 100 * time.Millisecond
	}
	if q.boMax <= 0 {
		q.boMax = 2 * time.Second
	}
	return q
}

// Put implements Queue.
func (q *Redis) Put(ctx context.Context, clientID string, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := q.c.LPush(ctx, Key(clientID), data).Err(); err != nil {
		return brokerErr("lpush", err)
	}
	return nil
}

// Get implements Queue. An elapsed timeout returns (nil, nil).
func (q *Redis) Get(ctx context.Context, clientID string, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	vals, err := q.c.BRPop(ctx, timeout, Key(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, brokerErr("brpop", err)
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return nil, fmt.Errorf("queue: brpop returned %d values", len(vals))
	}
	return DecodeMessage([]byte(vals[1]))
}

// Len implements Queue.
func (q *Redis) Len(ctx context.Context, clientID string) (int64, error) {
	n, err := q.c.LLen(ctx, Key(clientID)).Result()
	if err != nil {
		return 0, brokerErr("llen", err)
	}
	return n, nil
}

// Clear implements Queue.
func (q *Redis) Clear(ctx context.Context, clientID string) error {
	if err := q.c.Del(ctx, Key(clientID)).Err(); err != nil {
		return brokerErr("del", err)
	}
	return nil
}

// Close implements Queue.
func (q *Redis) Close() error {
	return q.c.Close()
}

// Ping probes broker reachability, retrying with exponential backoff up to
// the configured retry bound. Probes are serialized: concurrent callers wait
// for the in-flight attempt rather than piling reconnects onto the broker.
func (q *Redis) Ping(ctx context.Context) error {
	q.pingMu.Lock()
	defer q.pingMu.Unlock()

	bo := gax.Backoff{
		Initial:    q.boInitial,
		Max:        q.boMax,
		Multiplier: 2,
	}
	var lastErr error
	for attempt := 1; attempt <= q.maxRetries; attempt++ {
		err := q.c.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		q.log.Warn("broker ping failed", "attempt", attempt, "max", q.maxRetries, "err", err)
		if attempt == q.maxRetries {
			break
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: ping after %d attempts: %v", ErrUnavailable, q.maxRetries, lastErr)
}

// brokerErr maps a broker failure onto ErrUnavailable, letting context
// cancellation pass through untouched.
func brokerErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
