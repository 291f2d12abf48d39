package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamtrack/teamtrack/pkg/cache"
)

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.NewStore(cache.Opts{CleanerInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_executor_cacheHit(t *testing.T) {
	r := require.New(t)
	store := newTestCache(t)

	var calls atomic.Int32
	e, err := New(Opts[[]string]{
		Producer: func(context.Context) ([]string, error) {
			calls.Add(1)
			return []string{"a", "b"}, nil
		},
		Store: store,
		Cache: CacheOpts{Enable: true, Key: "players-all", TTL: time.Minute},
	})
	r.NoError(err)

	v, err := e.Execute(context.Background())
	r.NoError(err)
	r.Equal([]string{"a", "b"}, v)
	r.Equal(int32(1), calls.Load())

	// Within the TTL the producer must not run again.
	v, err = e.Execute(context.Background())
	r.NoError(err)
	r.Equal([]string{"a", "b"}, v)
	r.Equal(int32(1), calls.Load())

	st := e.State()
	r.True(st.HasData)
	r.False(st.Loading)
	r.Empty(st.Err)
}

func Test_executor_invalidate(t *testing.T) {
	r := require.New(t)
	store := newTestCache(t)

	var calls atomic.Int32
	e, err := New(Opts[int]{
		Producer: func(context.Context) (int, error) {
			return int(calls.Add(1)), nil
		},
		Store: store,
		Cache: CacheOpts{Enable: true, Key: "teams-{}", TTL: time.Minute},
	})
	r.NoError(err)

	_, err = e.Execute(context.Background())
	r.NoError(err)

	e.Invalidate()
	v, err := e.Refetch(context.Background())
	r.NoError(err)
	r.Equal(2, v)
	r.Equal(int32(2), calls.Load())
}

// slowDurable is an in-memory cache.Durable whose Remove takes a while,
// like a busy on-device store.
type slowDurable struct {
	mu    sync.Mutex
	m     map[string][]byte
	delay time.Duration
}

func (d *slowDurable) Get(_ context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.m[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return b, nil
}

func (d *slowDurable) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = append([]byte(nil), data...)
	return nil
}

func (d *slowDurable) Remove(_ context.Context, key string) error {
	time.Sleep(d.delay)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
	return nil
}

func (d *slowDurable) Keys(_ context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var keys []string
	for k := range d.m {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (d *slowDurable) Close() error { return nil }

func (d *slowDurable) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

func Test_executor_invalidatePersisted(t *testing.T) {
	r := require.New(t)

	d := &slowDurable{m: make(map[string][]byte), delay: 100 * time.Millisecond}
	store, err := cache.NewStore(cache.Opts{CleanerInterval: -1, Durable: d})
	r.NoError(err)
	t.Cleanup(func() { _ = store.Close() })

	var calls atomic.Int32
	e, err := New(Opts[string]{
		Producer: func(context.Context) (string, error) {
			return fmt.Sprintf("v%d", calls.Add(1)), nil
		},
		Store: store,
		Cache: CacheOpts{Enable: true, Key: "players-all", TTL: time.Minute, Persist: true},
	})
	r.NoError(err)

	v, err := e.Execute(context.Background())
	r.NoError(err)
	r.Equal("v1", v)
	r.Eventually(func() bool { return d.len() == 1 }, time.Second, 10*time.Millisecond)

	// Invalidate plus refetch must reach the producer. The durable
	// mirror of the dropped key must not be rehydrated in between.
	e.Invalidate()
	v, err = e.Refetch(context.Background())
	r.NoError(err)
	r.Equal("v2", v)
	r.Equal(int32(2), calls.Load())
}

func Test_executor_error(t *testing.T) {
	r := require.New(t)

	fail := atomic.Bool{}
	e, err := New(Opts[string]{
		Producer: func(context.Context) (string, error) {
			if fail.Load() {
				return "", errors.New("backend down")
			}
			return "fresh", nil
		},
	})
	r.NoError(err)

	_, err = e.Execute(context.Background())
	r.NoError(err)

	// A failed refresh must surface the error through state while the
	// previously loaded data survives for stale display.
	fail.Store(true)
	_, err = e.Execute(context.Background())
	r.Error(err)

	st := e.State()
	r.Equal("backend down", st.Err)
	r.True(st.HasData)
	r.Equal("fresh", st.Data)
	r.False(st.Loading)

	// A later success clears the error.
	fail.Store(false)
	_, err = e.Execute(context.Background())
	r.NoError(err)
	r.Empty(e.State().Err)
}

func Test_executor_dedup(t *testing.T) {
	store := newTestCache(t)

	var calls atomic.Int32
	gate := make(chan struct{})
	e, err := New(Opts[int]{
		Producer: func(context.Context) (int, error) {
			calls.Add(1)
			<-gate
			return 42, nil
		},
		Store: store,
		Cache: CacheOpts{Enable: true, Key: "matches-all-{}", TTL: time.Minute},
	})
	if err != nil {
		t.Fatal(err)
	}

	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.Execute(context.Background())
			if err != nil || v != 42 {
				t.Error("unexpected result")
			}
		}()
	}

	// Let every goroutine reach the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("producer ran %d times, want 1", n)
	}
}

func Test_executor_latestResultWins(t *testing.T) {
	r := require.New(t)

	gate := make(chan struct{})
	var calls atomic.Int32
	e, err := New(Opts[int]{
		Producer: func(context.Context) (int, error) {
			n := int(calls.Add(1))
			if n == 1 {
				<-gate
			}
			return n, nil
		},
	})
	r.NoError(err)

	// First call blocks inside the producer, second completes first.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Execute(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	// Distinct singleflight windows: the first call is still in flight,
	// so wait for it to be released before starting the second.
	close(gate)
	<-done

	v, err := e.Execute(context.Background())
	r.NoError(err)
	r.Equal(2, v)
	r.Equal(2, e.State().Data)
}

func Test_executor_updateData(t *testing.T) {
	r := require.New(t)

	e, err := New(Opts[[]int]{
		Producer: func(context.Context) ([]int, error) { return []int{1}, nil },
	})
	r.NoError(err)

	_, err = e.Execute(context.Background())
	r.NoError(err)

	e.UpdateData(func(cur []int) []int { return append(cur, 2) })
	r.Equal([]int{1, 2}, e.State().Data)
}

func Test_executor_setInputs(t *testing.T) {
	r := require.New(t)

	var calls atomic.Int32
	e, err := New(Opts[int]{
		Producer: func(context.Context) (int, error) {
			return int(calls.Add(1)), nil
		},
		Immediate: true,
	})
	r.NoError(err)

	e.SetInputs("team-1")
	r.Eventually(func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Same inputs: no re-execution.
	e.SetInputs("team-1")
	time.Sleep(50 * time.Millisecond)
	r.Equal(int32(1), calls.Load())

	e.SetInputs("team-2")
	r.Eventually(func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func Test_executor_immediateNoInputs(t *testing.T) {
	r := require.New(t)

	var calls atomic.Int32
	e, err := New(Opts[int]{
		Producer: func(context.Context) (int, error) {
			return int(calls.Add(1)), nil
		},
		Immediate: true,
	})
	r.NoError(err)

	// Recording an empty input set still runs an Immediate executor
	// once.
	e.SetInputs()
	r.Eventually(func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	e.SetInputs()
	time.Sleep(50 * time.Millisecond)
	r.Equal(int32(1), calls.Load())
}

func Test_executor_optsValidation(t *testing.T) {
	if _, err := New(Opts[int]{}); err == nil {
		t.Fatal("nil producer accepted")
	}
	if _, err := New(Opts[int]{
		Producer: func(context.Context) (int, error) { return 0, nil },
		Cache:    CacheOpts{Enable: true},
	}); err == nil {
		t.Fatal("cache enabled without store accepted")
	}
}
