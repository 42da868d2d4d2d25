// Package redislock provides a Redis-backed app.Locker so several server instances serialize the same tenant tree.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default lease and polling values.
const (
	DefaultLeaseTTL      = 30 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// ErrLockTimeout reports that a key stayed held until the wait budget ran out.
var ErrLockTimeout = errors.New("lock wait timeout")

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options tunes lease and wait behavior. Zero values select defaults.
type Options struct {
	Prefix        string
	LeaseTTL      time.Duration
	RetryInterval time.Duration
	// WaitTimeout bounds how long Lock waits. Zero waits until the caller context ends.
	WaitTimeout time.Duration
}

// Locker implements keyed leases with SET NX PX.
type Locker struct {
	client *redis.Client
	opts   Options
}

// New connects to redisURL and verifies it answers.
func New(ctx context.Context, redisURL string, opts Options) (*Locker, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient builds a locker over an existing client.
func NewWithClient(client *redis.Client, opts Options) *Locker {
	if opts.Prefix == "" {
		opts.Prefix = "bomcat:lock:"
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Locker{client: client, opts: opts}
}

// Lock polls until key is leased to this caller, ctx ends, or the wait budget is spent.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.WaitTimeout)
		defer cancel()
	}
	fullKey := l.opts.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.opts.LeaseTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(fullKey, token), nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("acquire lock %s: %w", key, ErrLockTimeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// releaser returns an idempotent release for one lease.
func (l *Locker) releaser(fullKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		})
	}
}

// Ping checks if Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *Locker) Close() error {
	return l.client.Close()
}
