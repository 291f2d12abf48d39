package redis_durable

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/cache"
	"github.com/teamtrack/teamtrack/pkg/pool"
)

var nopLogger = zap.NewNop()

const defaultKeyPrefix = "teamtrack:"

type Opts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisDurable.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write
	// operations. Default is 1s.
	ClientTimeout time.Duration

	// KeyPrefix namespaces every redis key written by this store.
	// Default is "teamtrack:".
	KeyPrefix string

	// Logger is the *zap.Logger for this store. A nil Logger will
	// disable logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = time.Second
	}
	if len(opts.KeyPrefix) == 0 {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// RedisDurable implements cache.Durable over redis. After any client
// error the store disables itself and recovers in the background by
// pinging with a growing backoff, so a broken redis never slows the
// caller down to the timeout on every operation.
type RedisDurable struct {
	opts           Opts
	clientDisabled uint32
}

func New(opts Opts) (*RedisDurable, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisDurable{opts: opts}, nil
}

var _ cache.Durable = (*RedisDurable)(nil)

func (r *RedisDurable) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *RedisDurable) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				timer := pool.GetTimer(backoff)
				<-timer.C
				pool.ReleaseTimer(timer)

				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				r.opts.Logger.Info("redis recovered")
				return
			}
		}()
	}
}

func (r *RedisDurable) key(key string) string {
	return r.opts.KeyPrefix + key
}

func (r *RedisDurable) Get(ctx context.Context, key string) ([]byte, error) {
	if r.disabled() {
		return nil, cache.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ClientTimeout)
	defer cancel()
	b, err := r.opts.Client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrNotFound
		}
		r.disableClient()
		return nil, err
	}
	return b, nil
}

func (r *RedisDurable) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.disabled() {
		return nil
	}
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		r.disableClient()
		return err
	}
	return nil
}

func (r *RedisDurable) Remove(ctx context.Context, key string) error {
	if r.disabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Del(ctx, r.key(key)).Err(); err != nil {
		r.disableClient()
		return err
	}
	return nil
}

func (r *RedisDurable) Keys(ctx context.Context, prefix string) ([]string, error) {
	if r.disabled() {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ClientTimeout)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	match := r.key(prefix) + "*"
	for {
		batch, next, err := r.opts.Client.Scan(ctx, cursor, match, 128).Result()
		if err != nil {
			r.disableClient()
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, k[len(r.opts.KeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close closes the redis client.
func (r *RedisDurable) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}
