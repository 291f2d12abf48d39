package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teamtrack/teamtrack/pkg/cache"
)

var nopLogger = zap.NewNop()

// CacheOpts enables the cache store consult/populate path for one call
// site.
type CacheOpts struct {
	Enable  bool
	Key     string
	TTL     time.Duration
	Persist bool
}

type Opts[T any] struct {
	// Producer runs the asynchronous data-producing operation. Call
	// parameters are closed over. Cannot be nil.
	Producer func(ctx context.Context) (T, error)

	// Store is consulted and populated when Cache.Enable is set.
	Store *cache.Store

	Cache CacheOpts

	// Immediate re-executes automatically when SetInputs observes a
	// change.
	Immediate bool

	// ErrorMessage normalizes a producer error to the single message
	// string kept in state, so consumers never branch on error shape.
	// Optional.
	ErrorMessage func(error) string

	// Logger is the *zap.Logger for this executor. A nil Logger will
	// disable logging.
	Logger *zap.Logger
}

func (opts *Opts[T]) Init() error {
	if opts.Producer == nil {
		return errors.New("nil producer")
	}
	if opts.Cache.Enable {
		if opts.Store == nil {
			return errors.New("cache enabled without a store")
		}
		if len(opts.Cache.Key) == 0 {
			return errors.New("cache enabled without a key")
		}
		if opts.Cache.TTL <= 0 {
			return errors.New("cache enabled without a ttl")
		}
	}
	if opts.ErrorMessage == nil {
		opts.ErrorMessage = defaultErrorMessage
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

func defaultErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); len(msg) > 0 {
		return msg
	}
	return "request failed"
}

// State is the observable result of an Executor. Data survives failed
// attempts: stale-but-valid data beats blanking the consumer.
type State[T any] struct {
	Data    T
	HasData bool
	Loading bool
	Err     string
}

// Executor runs one producer function and exposes its result, loading
// and error state. Concurrent identical executions are collapsed into a
// single producer call, and results apply in sequence order: a slower,
// older response never overwrites a newer one.
type Executor[T any] struct {
	opts Opts[T]

	sf  singleflight.Group
	seq atomic.Uint64

	mu        sync.Mutex
	state     State[T]
	applied   uint64
	inputs    []any
	inputsSet bool
}

func New[T any](opts Opts[T]) (*Executor[T], error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Executor[T]{opts: opts}, nil
}

// State returns a snapshot of the executor's observable state.
func (e *Executor[T]) State() State[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Execute resolves the call site's value. A fresh cache entry resolves
// immediately without invoking the producer and without toggling
// Loading. On a miss the producer runs; its result is written through
// to the cache store and returned. The error is also captured into
// state so a background refresh failure cannot crash a consumer that
// merely displays stale data.
func (e *Executor[T]) Execute(ctx context.Context) (T, error) {
	if v, ok := e.cached(ctx); ok {
		e.mu.Lock()
		e.state.Data = v
		e.state.HasData = true
		e.state.Err = ""
		e.mu.Unlock()
		return v, nil
	}
	return e.produce(ctx)
}

// Refetch forces a re-validation. Combined with Invalidate it
// guarantees a producer round-trip rather than a cache hit.
func (e *Executor[T]) Refetch(ctx context.Context) (T, error) {
	return e.Execute(ctx)
}

func (e *Executor[T]) cached(ctx context.Context) (T, bool) {
	var zero T
	if !e.opts.Cache.Enable {
		return zero, false
	}
	if v, ok := e.opts.Store.Get(e.opts.Cache.Key); ok {
		if t, ok := v.(T); ok {
			return t, true
		}
		// A foreign type under our key means the key collided;
		// treat as a miss so the producer rewrites it.
		e.opts.Logger.Warn("cache type mismatch", zap.String("key", e.opts.Cache.Key))
		return zero, false
	}
	if e.opts.Cache.Persist {
		if v, ok := cache.HydrateAs[T](ctx, e.opts.Store, e.opts.Cache.Key); ok {
			return v, true
		}
	}
	return zero, false
}

func (e *Executor[T]) produce(ctx context.Context) (T, error) {
	seq := e.seq.Add(1)

	e.mu.Lock()
	e.state.Loading = true
	e.state.Err = ""
	e.mu.Unlock()

	v, err, shared := e.sf.Do(e.sfKey(), func() (interface{}, error) {
		return e.opts.Producer(ctx)
	})
	if shared {
		e.opts.Logger.Debug("deduplicated execution", zap.String("key", e.sfKey()))
	}

	e.mu.Lock()
	apply := seq > e.applied
	if apply {
		e.applied = seq
	}
	if err != nil {
		if apply {
			e.state.Loading = false
			e.state.Err = e.opts.ErrorMessage(err)
		}
		e.mu.Unlock()
		var zero T
		return zero, err
	}

	result := v.(T)
	if apply {
		e.state.Data = result
		e.state.HasData = true
		e.state.Loading = false
	}
	e.mu.Unlock()

	if apply && e.opts.Cache.Enable {
		e.opts.Store.Set(e.opts.Cache.Key, result, e.opts.Cache.TTL, e.opts.Cache.Persist)
	}
	return result, nil
}

func (e *Executor[T]) sfKey() string {
	if len(e.opts.Cache.Key) > 0 {
		return e.opts.Cache.Key
	}
	return "execute"
}

// UpdateData synchronously replaces Data with updater(Data). It
// bypasses the cache store; callers performing optimistic mutations are
// responsible for invalidating the cache key afterwards so a later
// Refetch does not resurrect stale cached data.
func (e *Executor[T]) UpdateData(updater func(T) T) {
	e.mu.Lock()
	e.state.Data = updater(e.state.Data)
	e.state.HasData = true
	e.mu.Unlock()
}

// Invalidate removes this call site's cache key from the store, forcing
// the next Execute to hit the producer.
func (e *Executor[T]) Invalidate() {
	if e.opts.Cache.Enable {
		e.opts.Store.Invalidate(e.opts.Cache.Key)
	}
}

// SetInputs records the call parameters this executor depends on. An
// Immediate executor runs once in the background when inputs are first
// recorded (an empty set counts), and again whenever any value differs
// from the previous set (shallow inequality). Values must be
// comparable.
func (e *Executor[T]) SetInputs(inputs ...any) {
	e.mu.Lock()
	changed := !e.inputsSet || len(inputs) != len(e.inputs)
	if !changed {
		for i := range inputs {
			if inputs[i] != e.inputs[i] {
				changed = true
				break
			}
		}
	}
	e.inputs = inputs
	e.inputsSet = true
	e.mu.Unlock()

	if changed && e.opts.Immediate {
		go func() {
			if _, err := e.Execute(context.Background()); err != nil {
				e.opts.Logger.Debug("input-triggered execution failed", zap.Error(err))
			}
		}()
	}
}
