package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/concurrent_lru"
)

const (
	shardSize              = 64
	defaultSize            = 4096
	defaultCleanerInterval = time.Minute
	defaultDurableTimeout  = time.Second

	// DefaultSweepMaxAge bounds durable storage growth. Sweep removes
	// persisted entries older than this regardless of their own TTL.
	DefaultSweepMaxAge = 24 * time.Hour
)

var nopLogger = zap.NewNop()

type Opts struct {
	// Size is the max number of in-memory entries. Default is 4096.
	Size int

	// CleanerInterval is how often expired entries are pruned from
	// memory. Default is one minute. A negative value disables the
	// cleaner.
	CleanerInterval time.Duration

	// Durable mirrors persisted entries to on-device storage.
	// Optional. Durable failures are logged, never surfaced.
	Durable Durable

	// DurableTimeout bounds every durable operation started by the
	// store. Default is 1s.
	DurableTimeout time.Duration

	// Logger is the *zap.Logger for this Store. A nil Logger will
	// disable logging.
	Logger *zap.Logger

	// Metrics collects hit/miss/eviction counters. Optional.
	Metrics *Metrics
}

func (opts *Opts) Init() error {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.CleanerInterval == 0 {
		opts.CleanerInterval = defaultCleanerInterval
	}
	if opts.DurableTimeout <= 0 {
		opts.DurableTimeout = defaultDurableTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return nil
}

// Store is a process-wide keyed cache. Each key holds at most one live
// entry; writing a key replaces the previous entry and resets its
// timestamp. Expired entries are treated as absent on Get and pruned
// lazily.
type Store struct {
	opts Opts

	closed           uint32
	closeCleanerChan chan struct{}
	lru              *concurrent_lru.ShardedLRU[*entry]
}

type entry struct {
	value      any
	storedTime time.Time
	expire     time.Time
	persisted  bool
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expire)
}

func NewStore(opts Opts) (*Store, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	sizePerShard := opts.Size / shardSize
	if sizePerShard < 16 {
		sizePerShard = 16
	}

	s := &Store{
		opts:             opts,
		closeCleanerChan: make(chan struct{}),
	}
	s.lru = concurrent_lru.NewShardedLRU[*entry](shardSize, sizePerShard, func(string, *entry) {
		opts.Metrics.Evictions.Inc()
	})

	if opts.CleanerInterval > 0 {
		go s.startCleaner(opts.CleanerInterval)
	}
	return s, nil
}

func (s *Store) isClosed() bool {
	return atomic.LoadUint32(&s.closed) != 0
}

// Close stops the cleaner and closes the durable collaborator.
func (s *Store) Close() error {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.closeCleanerChan)
	}
	if d := s.opts.Durable; d != nil {
		return d.Close()
	}
	return nil
}

// Get returns the live value for key. It reads memory only and never
// blocks. An expired entry is a miss.
func (s *Store) Get(key string) (any, bool) {
	v, _, ok := s.GetWithTime(key)
	return v, ok
}

// GetWithTime is Get plus the entry's stored time.
func (s *Store) GetWithTime(key string) (any, time.Time, bool) {
	if s.isClosed() {
		return nil, time.Time{}, false
	}

	e, ok := s.lru.Get(key)
	if !ok {
		s.opts.Metrics.Misses.Inc()
		return nil, time.Time{}, false
	}
	if e.expired(time.Now()) {
		s.opts.Metrics.Misses.Inc()
		return nil, time.Time{}, false
	}
	s.opts.Metrics.Hits.Inc()
	return e.value, e.storedTime, true
}

// Set stores v under key for ttl, replacing any previous entry. If
// persist is set and a durable collaborator is configured, the entry is
// also mirrored to durable storage asynchronously; mirror failures are
// logged and do not fail the caller.
func (s *Store) Set(key string, v any, ttl time.Duration, persist bool) {
	if s.isClosed() || ttl <= 0 {
		return
	}

	now := time.Now()
	s.lru.Add(key, &entry{
		value:      v,
		storedTime: now,
		expire:     now.Add(ttl),
		persisted:  persist && s.opts.Durable != nil,
	})

	if persist && s.opts.Durable != nil {
		go s.persist(key, v, now, ttl)
	}
}

func (s *Store) persist(key string, v any, storedTime time.Time, ttl time.Duration) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.opts.Metrics.PersistErrors.Inc()
		s.opts.Logger.Warn("marshal persisted entry", zap.String("key", key), zap.Error(err))
		return
	}

	data := packValue(storedTime, storedTime.Add(ttl), payload)
	defer data.Release()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DurableTimeout)
	defer cancel()
	if err := s.opts.Durable.Set(ctx, key, data.Bytes(), ttl); err != nil {
		s.opts.Metrics.PersistErrors.Inc()
		s.opts.Logger.Warn("persist entry", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes entries matching pattern. Pattern is an exact key,
// a namespace prefix ("players" matches "players-all"), or "*" for
// everything. Memory is purged immediately. The durable entry stored
// under pattern itself is removed before Invalidate returns, so an
// immediate re-read cannot hydrate the entry that was just dropped;
// the namespace fan-out over the remaining durable keys is best-effort
// and asynchronous.
func (s *Store) Invalidate(pattern string) {
	if s.isClosed() || len(pattern) == 0 {
		return
	}

	removed := s.lru.Clean(func(key string, _ *entry) bool {
		return matchKey(key, pattern)
	})
	if removed > 0 {
		s.opts.Logger.Debug("cache invalidated",
			zap.String("pattern", pattern), zap.Int("removed", removed))
	}

	if s.opts.Durable != nil {
		if pattern != "*" {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.DurableTimeout)
			if err := s.opts.Durable.Remove(ctx, pattern); err != nil {
				s.opts.Logger.Warn("remove durable entry", zap.String("key", pattern), zap.Error(err))
			}
			cancel()
		}
		go s.invalidateDurable(pattern)
	}
}

func (s *Store) invalidateDurable(pattern string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DurableTimeout)
	defer cancel()

	prefix := pattern
	if pattern == "*" {
		prefix = ""
	}
	keys, err := s.opts.Durable.Keys(ctx, prefix)
	if err != nil {
		s.opts.Logger.Warn("list durable keys", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	for _, key := range keys {
		if !matchKey(key, pattern) {
			continue
		}
		if err := s.opts.Durable.Remove(ctx, key); err != nil {
			s.opts.Logger.Warn("remove durable entry", zap.String("key", key), zap.Error(err))
		}
	}
}

// matchKey reports whether key falls under pattern. "*" matches all,
// otherwise an exact match or a "<pattern>-" namespace prefix.
func matchKey(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return key == pattern || strings.HasPrefix(key, pattern+"-")
}

// Hydrate attempts to load a persisted entry. It returns the raw JSON
// payload plus its stored time and original TTL. An expired persisted
// entry is deleted and reported as a miss.
func (s *Store) Hydrate(ctx context.Context, key string) (payload []byte, storedTime time.Time, ttl time.Duration, ok bool) {
	if s.isClosed() || s.opts.Durable == nil {
		return nil, time.Time{}, 0, false
	}

	data, err := s.opts.Durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.opts.Logger.Warn("hydrate", zap.String("key", key), zap.Error(err))
		}
		return nil, time.Time{}, 0, false
	}

	st, expire, payload, err := unpackValue(data)
	if err != nil {
		s.opts.Logger.Warn("corrupt durable entry", zap.String("key", key), zap.Error(err))
		s.removeDurable(key)
		return nil, time.Time{}, 0, false
	}
	if time.Now().After(expire) {
		s.removeDurable(key)
		return nil, time.Time{}, 0, false
	}
	return payload, st, expire.Sub(st), true
}

func (s *Store) removeDurable(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.DurableTimeout)
		defer cancel()
		if err := s.opts.Durable.Remove(ctx, key); err != nil {
			s.opts.Logger.Warn("remove durable entry", zap.String("key", key), zap.Error(err))
		}
	}()
}

// seed populates memory from a hydrated entry, preserving its original
// stored time so freshness accounting survives restarts.
func (s *Store) seed(key string, v any, storedTime, expire time.Time) {
	if s.isClosed() {
		return
	}
	s.lru.Add(key, &entry{
		value:      v,
		storedTime: storedTime,
		expire:     expire,
		persisted:  true,
	})
}

// HydrateAs loads a persisted entry, decodes it into T and seeds the
// in-memory store. Once memory is populated it wins over durable
// storage; durable is only a best-effort seed on cold start.
func HydrateAs[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var v T
	payload, storedTime, ttl, ok := s.Hydrate(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		s.opts.Logger.Warn("decode durable entry", zap.String("key", key), zap.Error(err))
		s.removeDurable(key)
		var zero T
		return zero, false
	}
	s.seed(key, v, storedTime, storedTime.Add(ttl))
	return v, true
}

// Sweep removes durable entries older than maxAge, independent of their
// per-entry TTL. Intended to run once at process start to bound durable
// storage growth.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) error {
	if s.opts.Durable == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = DefaultSweepMaxAge
	}

	keys, err := s.opts.Durable.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("list durable keys: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, key := range keys {
		data, err := s.opts.Durable.Get(ctx, key)
		if err != nil {
			continue
		}
		st, _, _, err := unpackValue(data)
		if err != nil || now.Sub(st) > maxAge {
			if err := s.opts.Durable.Remove(ctx, key); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.opts.Logger.Info("durable sweep", zap.Int("removed", removed), zap.Int("scanned", len(keys)))
	}
	return nil
}

// Len returns the number of in-memory entries, including not yet pruned
// expired ones.
func (s *Store) Len() int {
	return s.lru.Len()
}

func (s *Store) startCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCleanerChan:
			return
		case <-ticker.C:
			now := time.Now()
			s.lru.Clean(func(_ string, e *entry) bool {
				return e.expired(now)
			})
		}
	}
}
